package cast

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type mdSection int

const (
	sectionNone mdSection = iota
	sectionEnvironment
	sectionCharacters
)

// LoadMarkdown reads the single-file markdown configuration.
func LoadMarkdown(path string) (*Cast, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, configErrorf("config not found: %s", path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	c, err := ParseMarkdown(string(data))
	if err != nil {
		return nil, err
	}
	c.Source = path
	return c, nil
}

// ParseMarkdown parses the markdown layout:
//
//	# Environment
//	free text
//
//	# Characters
//	## Display Name
//	- handle: alice
//	- personality: |
//	    multi-line text
//
// The returned cast is normalized and validated.
func ParseMarkdown(content string) (*Cast, error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	var (
		section  = sectionNone
		envLines []string
		raws     []map[string]string
		current  map[string]string
	)

	for i := 0; i < len(lines); {
		line := lines[i]

		if strings.HasPrefix(line, "# ") {
			switch strings.ToLower(strings.TrimSpace(line[2:])) {
			case "environment":
				section = sectionEnvironment
			case "characters":
				section = sectionCharacters
			default:
				section = sectionNone
			}
			i++
			continue
		}

		if strings.HasPrefix(line, "## ") && section == sectionCharacters {
			if current != nil {
				raws = append(raws, current)
			}
			current = map[string]string{"name": strings.TrimSpace(line[3:])}
			i++
			continue
		}

		switch {
		case section == sectionEnvironment:
			if strings.TrimSpace(line) != "" {
				envLines = append(envLines, line)
			}
			i++

		case section == sectionCharacters && current != nil && strings.HasPrefix(strings.TrimSpace(line), "-"):
			key, value, ok := splitBullet(line)
			i++
			if !ok {
				continue
			}
			if value == "|" {
				var block []string
				for i < len(lines) {
					next := lines[i]
					if strings.HasPrefix(next, "    ") {
						block = append(block, next[4:])
					} else if strings.TrimSpace(next) == "" {
						block = append(block, "")
					} else {
						break
					}
					i++
				}
				value = strings.TrimSpace(strings.Join(block, "\n"))
			}
			current[key] = value

		default:
			i++
		}
	}
	if current != nil {
		raws = append(raws, current)
	}

	c := &Cast{Environment: strings.TrimSpace(strings.Join(envLines, "\n"))}
	var problems []string
	for _, raw := range raws {
		if raw["name"] == "" {
			continue
		}
		ch, err := characterFromFields(raw)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		c.Characters = append(c.Characters, ch)
	}
	if len(problems) > 0 {
		return nil, configErrorf("%s", strings.Join(problems, "; "))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// splitBullet turns "- key: value" into its parts.
func splitBullet(line string) (key, value string, ok bool) {
	entry := strings.TrimSpace(line)
	entry = strings.TrimSpace(strings.TrimPrefix(entry, "-"))
	key, value, ok = strings.Cut(entry, ":")
	if !ok {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value), true
}

func characterFromFields(raw map[string]string) (*Character, error) {
	ch := &Character{
		Name:        raw["name"],
		Handle:      raw["handle"],
		Role:        raw["role"],
		Provider:    raw["provider"],
		Host:        raw["host"],
		Model:       raw["model"],
		Temperature: DefaultTemperature,
		Personality: Personality{Text: raw["personality"]},
	}
	if t, ok := raw["temperature"]; ok && t != "" {
		v, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("character %s has invalid temperature %q", ch.Name, t)
		}
		ch.Temperature = v
	}
	for _, key := range PersonalityFields {
		if v, ok := raw[key]; ok {
			ch.Personality.Set(key, v)
		}
	}
	ch.normalize()
	return ch, nil
}
