package cast

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RoleChair marks the character that moderates the conversation.
const RoleChair = "chair"

// DefaultTemperature is applied when a character omits temperature.
const DefaultTemperature = 0.7

// DefaultProvider is the connector kind used when a character omits provider.
const DefaultProvider = "ollama"

// Character is one configured persona with its own connector settings.
type Character struct {
	Name        string      `json:"name" yaml:"name"`
	Handle      string      `json:"handle" yaml:"handle"`
	Role        string      `json:"role,omitempty" yaml:"role,omitempty"`
	Provider    string      `json:"provider" yaml:"provider"`
	Host        string      `json:"host" yaml:"host"`
	Model       string      `json:"model" yaml:"model"`
	Temperature float64     `json:"temperature" yaml:"temperature"`
	Personality Personality `json:"personality" yaml:"personality"`
}

// IsChair reports whether the character is explicitly designated as chair.
func (c *Character) IsChair() bool {
	return strings.EqualFold(strings.TrimSpace(c.Role), RoleChair)
}

// Mention returns the @handle form used inside dialogue.
func (c *Character) Mention() string {
	return "@" + c.Handle
}

// Cast is the environment plus the ordered list of characters.
type Cast struct {
	Environment string       `json:"environment" yaml:"environment"`
	Characters  []*Character `json:"characters" yaml:"characters"`

	// Source describes where the cast was loaded from, for logs.
	Source string `json:"-" yaml:"-"`
}

// Handles returns the character handles in declaration order.
func (c *Cast) Handles() []string {
	out := make([]string, 0, len(c.Characters))
	for _, ch := range c.Characters {
		out = append(out, ch.Handle)
	}
	return out
}

// Lookup finds a character by exact handle.
func (c *Cast) Lookup(handle string) (*Character, bool) {
	for _, ch := range c.Characters {
		if ch.Handle == handle {
			return ch, true
		}
	}
	return nil, false
}

// Chair picks the moderator: an explicit chair role first, then a character
// whose handle is "chair" or whose name contains 議長, then the first character.
// Returns nil for an empty cast.
func (c *Cast) Chair() *Character {
	if len(c.Characters) == 0 {
		return nil
	}
	for _, ch := range c.Characters {
		if ch.IsChair() {
			return ch
		}
	}
	for _, ch := range c.Characters {
		if strings.EqualFold(ch.Handle, RoleChair) || strings.Contains(ch.Name, "議長") {
			return ch
		}
	}
	return c.Characters[0]
}

var nonHandleRunes = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// SlugifyHandle derives a handle from a display name.
func SlugifyHandle(name string) string {
	slug := nonHandleRunes.ReplaceAllString(strings.TrimSpace(name), "_")
	slug = strings.ToLower(strings.Trim(slug, "_"))
	if slug == "" {
		return "speaker"
	}
	return slug
}

// =============================================================================
// Personality
// =============================================================================

// Personality is free text, structured fields, or both.
type Personality struct {
	Text          string   `json:"text,omitempty" yaml:"text,omitempty"`
	Summary       TextList `json:"summary,omitempty" yaml:"summary,omitempty"`
	Backstory     TextList `json:"backstory,omitempty" yaml:"backstory,omitempty"`
	Traits        TextList `json:"traits,omitempty" yaml:"traits,omitempty"`
	Values        TextList `json:"values,omitempty" yaml:"values,omitempty"`
	SpeakingStyle TextList `json:"speaking_style,omitempty" yaml:"speaking_style,omitempty"`
	Likes         TextList `json:"likes,omitempty" yaml:"likes,omitempty"`
	Dislikes      TextList `json:"dislikes,omitempty" yaml:"dislikes,omitempty"`
	Quirks        TextList `json:"quirks,omitempty" yaml:"quirks,omitempty"`
	Taboos        TextList `json:"taboos,omitempty" yaml:"taboos,omitempty"`
	Goals         TextList `json:"goals,omitempty" yaml:"goals,omitempty"`
	Relationships TextList `json:"relationships,omitempty" yaml:"relationships,omitempty"`
}

// PersonalityFields lists the structured keys in rendering order.
var PersonalityFields = []string{
	"summary", "backstory", "traits", "values", "speaking_style",
	"likes", "dislikes", "quirks", "taboos", "goals", "relationships",
}

// DefaultLabels are the headings used when rendering structured fields.
var DefaultLabels = map[string]string{
	"summary":        "概要",
	"backstory":      "背景",
	"traits":         "性格特性",
	"values":         "価値観",
	"speaking_style": "話し方",
	"likes":          "好きなこと",
	"dislikes":       "苦手なこと",
	"quirks":         "癖",
	"taboos":         "避ける話題",
	"goals":          "目標",
	"relationships":  "関係性",
}

func (p *Personality) field(key string) *TextList {
	switch key {
	case "summary":
		return &p.Summary
	case "backstory":
		return &p.Backstory
	case "traits":
		return &p.Traits
	case "values":
		return &p.Values
	case "speaking_style":
		return &p.SpeakingStyle
	case "likes":
		return &p.Likes
	case "dislikes":
		return &p.Dislikes
	case "quirks":
		return &p.Quirks
	case "taboos":
		return &p.Taboos
	case "goals":
		return &p.Goals
	case "relationships":
		return &p.Relationships
	}
	return nil
}

// Set assigns a structured field from a single string value.
// It returns false when key is not a personality field.
func (p *Personality) Set(key, value string) bool {
	f := p.field(key)
	if f == nil {
		return false
	}
	*f = TextList{value}
	return true
}

// Render produces the prompt text. labels maps field keys to headings;
// missing labels fall back to DefaultLabels, then to the key itself.
func (p Personality) Render(labels map[string]string) string {
	var lines []string
	if t := strings.TrimSpace(p.Text); t != "" {
		lines = append(lines, t)
	}
	for _, key := range PersonalityFields {
		text := strings.TrimSpace(p.field(key).String())
		if text == "" {
			continue
		}
		label, ok := labels[key]
		if !ok {
			if label, ok = DefaultLabels[key]; !ok {
				label = key
			}
		}
		lines = append(lines, fmt.Sprintf("%s: %s", label, text))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// IsEmpty reports whether rendering would produce no text.
func (p Personality) IsEmpty() bool {
	return p.Render(nil) == ""
}

// UnmarshalJSON accepts either a plain string or an object of fields.
func (p *Personality) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*p = Personality{Text: text}
		return nil
	}
	type plain Personality
	var out plain
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("personality must be a string or object: %w", err)
	}
	*p = Personality(out)
	return nil
}

// UnmarshalYAML accepts either a scalar or a mapping of fields.
func (p *Personality) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*p = Personality{Text: node.Value}
		return nil
	case yaml.MappingNode:
		type plain Personality
		var out plain
		if err := node.Decode(&out); err != nil {
			return err
		}
		*p = Personality(out)
		return nil
	default:
		return fmt.Errorf("personality must be a string or mapping (line %d)", node.Line)
	}
}

// TextList is a field that may be written as one string or a list of values.
type TextList []string

// String joins the values with " / ".
func (l *TextList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, 0, len(*l))
	for _, v := range *l {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " / ")
}

// UnmarshalJSON accepts a scalar or an array of scalars.
func (l *TextList) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*l = nil
	case []any:
		out := make(TextList, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		*l = out
	default:
		*l = TextList{fmt.Sprint(v)}
	}
	return nil
}

// UnmarshalYAML accepts a scalar or a sequence of scalars.
func (l *TextList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = TextList{node.Value}
	case yaml.SequenceNode:
		out := make(TextList, 0, len(node.Content))
		for _, item := range node.Content {
			out = append(out, item.Value)
		}
		*l = out
	default:
		return fmt.Errorf("expected string or list (line %d)", node.Line)
	}
	return nil
}
