package fixtures

import "github.com/BaSui01/aichatter/cast"

// Character 返回一个普通角色
func Character(name, handle string) *cast.Character {
	return &cast.Character{
		Name:        name,
		Handle:      handle,
		Provider:    "ollama",
		Host:        "http://localhost:11434",
		Model:       "gemma3:4b",
		Temperature: 0.7,
		Personality: cast.Personality{Text: name + " は好奇心旺盛"},
	}
}

// Chair 返回议长角色
func Chair() *cast.Character {
	ch := Character("議長", "chair")
	ch.Role = "chair"
	ch.Temperature = 0.3
	return ch
}

// SampleCast 返回议长加三名角色的配置
func SampleCast() *cast.Cast {
	return &cast.Cast{
		Environment: "静かな研究室。全員が同じ机を囲んでいる。",
		Characters: []*cast.Character{
			Chair(),
			Character("Aoi", "aoi"),
			Character("Ren", "ren"),
			Character("Mio", "mio"),
		},
		Source: "fixture",
	}
}

// CastOf 返回由给定 handle 组成的配置，第一个为议长
func CastOf(handles ...string) *cast.Cast {
	c := &cast.Cast{Environment: "fixture environment", Source: "fixture"}
	for i, h := range handles {
		ch := Character(h, h)
		if i == 0 {
			ch.Role = "chair"
		}
		c.Characters = append(c.Characters, ch)
	}
	return c
}
