package cast

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidConfig wraps every configuration problem reported by this package.
var ErrInvalidConfig = errors.New("invalid cast configuration")

// KnownProviders lists the connector kinds a character may reference.
// The composition root may extend it before validation.
var KnownProviders = map[string]bool{
	"ollama":   true,
	"openai":   true,
	"llamacpp": true,
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// normalize fills derived defaults in place.
func (c *Character) normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.Handle = strings.TrimSpace(c.Handle)
	if c.Handle == "" && c.Name != "" {
		c.Handle = SlugifyHandle(c.Name)
	}
	c.Role = strings.TrimSpace(c.Role)
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	c.Host = strings.TrimSpace(c.Host)
	c.Model = strings.TrimSpace(c.Model)
}

// Validate checks the whole cast and reports every problem at once.
func (c *Cast) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Environment) == "" {
		errs = append(errs, "environment is empty")
	}
	if len(c.Characters) == 0 {
		errs = append(errs, "no characters defined")
	}

	seen := make(map[string]string, len(c.Characters))
	chairs := 0
	for i, ch := range c.Characters {
		if ch == nil {
			errs = append(errs, fmt.Sprintf("character #%d is nil", i+1))
			continue
		}
		label := ch.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
			errs = append(errs, fmt.Sprintf("character %s missing name", label))
		}
		if ch.Handle == "" {
			errs = append(errs, fmt.Sprintf("character %s missing handle", label))
		} else if prev, dup := seen[ch.Handle]; dup {
			errs = append(errs, fmt.Sprintf("duplicate handle @%s (%s and %s)", ch.Handle, prev, label))
		} else {
			seen[ch.Handle] = label
		}
		if ch.Host == "" {
			errs = append(errs, fmt.Sprintf("character %s missing host", label))
		}
		if ch.Model == "" {
			errs = append(errs, fmt.Sprintf("character %s missing model", label))
		}
		if ch.Personality.IsEmpty() {
			errs = append(errs, fmt.Sprintf("character %s missing personality", label))
		}
		if ch.Temperature < 0 || ch.Temperature > 2 {
			errs = append(errs, fmt.Sprintf("character %s temperature %.2f must be between 0 and 2", label, ch.Temperature))
		}
		if !KnownProviders[ch.Provider] {
			errs = append(errs, fmt.Sprintf("character %s uses unknown provider %q", label, ch.Provider))
		}
		if ch.IsChair() {
			chairs++
		}
	}
	if chairs > 1 {
		errs = append(errs, fmt.Sprintf("%d characters have role chair, at most one allowed", chairs))
	}

	if len(errs) > 0 {
		return configErrorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
