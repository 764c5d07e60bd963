package cast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// avatarFile is the on-disk shape of one avatar; Temperature is a pointer so
// an omitted value can be told apart from an explicit 0.
type avatarFile struct {
	Name        string      `json:"name" yaml:"name"`
	Handle      string      `json:"handle" yaml:"handle"`
	Role        string      `json:"role" yaml:"role"`
	Provider    string      `json:"provider" yaml:"provider"`
	Host        string      `json:"host" yaml:"host"`
	Model       string      `json:"model" yaml:"model"`
	Temperature *float64    `json:"temperature" yaml:"temperature"`
	Personality Personality `json:"personality" yaml:"personality"`
}

// LoadEnvironment reads the scene description file.
func LoadEnvironment(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", configErrorf("environment not found: %s", path)
		}
		return "", fmt.Errorf("read environment %s: %w", path, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", configErrorf("environment is empty: %s", path)
	}
	return content, nil
}

// LoadAvatarFile decodes one JSON or YAML avatar.
func LoadAvatarFile(path string) (*Character, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read avatar %s: %w", path, err)
	}

	var raw avatarFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, configErrorf("parse avatar %s: %v", path, err)
	}

	if strings.TrimSpace(raw.Name) == "" {
		return nil, configErrorf("avatar missing name: %s", path)
	}
	ch := &Character{
		Name:        raw.Name,
		Handle:      raw.Handle,
		Role:        raw.Role,
		Provider:    raw.Provider,
		Host:        raw.Host,
		Model:       raw.Model,
		Temperature: DefaultTemperature,
		Personality: raw.Personality,
	}
	if raw.Temperature != nil {
		ch.Temperature = *raw.Temperature
	}
	ch.normalize()
	return ch, nil
}

func isAvatarFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// LoadAvatars reads every avatar file in dir, sorted by file name.
func LoadAvatars(dir string) ([]*Character, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, configErrorf("avatars directory not found: %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read avatars directory %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && isAvatarFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return nil, configErrorf("no avatar files found in: %s", dir)
	}
	sort.Strings(names)

	out := make([]*Character, 0, len(names))
	for _, name := range names {
		ch, err := LoadAvatarFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

// LoadDirectory combines an environment file with an avatars directory.
func LoadDirectory(envPath, avatarsDir string) (*Cast, error) {
	env, err := LoadEnvironment(envPath)
	if err != nil {
		return nil, err
	}
	chars, err := LoadAvatars(avatarsDir)
	if err != nil {
		return nil, err
	}
	c := &Cast{
		Environment: env,
		Characters:  chars,
		Source:      fmt.Sprintf("%s + %s", envPath, avatarsDir),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
