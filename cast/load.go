package cast

import (
	"os"
	"path/filepath"
)

// Default locations, relative to the working directory.
const (
	DefaultMarkdownPath = "config/characters.md"
	DefaultEnvPath      = "config/environment.md"
	DefaultAvatarsDir   = "config/avatars"
)

// Options selects the configuration source.
type Options struct {
	// MarkdownPath is the single-file configuration (legacy layout).
	MarkdownPath string
	// EnvPath and AvatarsDir select the split layout when either is set.
	EnvPath    string
	AvatarsDir string
	// BaseDir anchors the default paths; empty means the working directory.
	BaseDir string
}

func (o Options) resolve(p string) string {
	if o.BaseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(o.BaseDir, p)
}

// Load resolves the source in this order: explicit env/avatars flags, the
// default split layout when both default paths exist, then the markdown file.
func Load(opts Options) (*Cast, error) {
	if opts.EnvPath != "" || opts.AvatarsDir != "" {
		envPath := opts.EnvPath
		if envPath == "" {
			envPath = DefaultEnvPath
		}
		avatarsDir := opts.AvatarsDir
		if avatarsDir == "" {
			avatarsDir = DefaultAvatarsDir
		}
		return LoadDirectory(opts.resolve(envPath), opts.resolve(avatarsDir))
	}

	envPath, avatarsDir := opts.resolve(DefaultEnvPath), opts.resolve(DefaultAvatarsDir)
	if fileExists(envPath) && dirExists(avatarsDir) {
		return LoadDirectory(envPath, avatarsDir)
	}

	mdPath := opts.MarkdownPath
	if mdPath == "" {
		mdPath = DefaultMarkdownPath
	}
	return LoadMarkdown(opts.resolve(mdPath))
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func dirExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
