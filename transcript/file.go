package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimestampLayout 是输出文件名的时间格式（YYYYMMDDHHMMSS）。
const TimestampLayout = "20060102150405"

// FileSinkConfig 配置文件输出。
type FileSinkConfig struct {
	Dir      string
	JSON     bool
	Headings Headings
	// Now 为测试注入的时钟，默认 time.Now
	Now func() time.Time
}

// FileSink 在 Flush 时写出 Markdown（以及可选的 JSON）文件。
type FileSink struct {
	cfg    FileSinkConfig
	logger *zap.Logger

	mu   sync.Mutex
	path string
}

// NewFileSink 创建文件输出端。
func NewFileSink(cfg FileSinkConfig, logger *zap.Logger) *FileSink {
	if cfg.Dir == "" {
		cfg.Dir = "outputs"
	}
	if cfg.Headings == (Headings{}) {
		cfg.Headings = DefaultHeadings
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{cfg: cfg, logger: logger.With(zap.String("component", "file_sink"))}
}

func (s *FileSink) Name() string { return "file" }

// Record 不做任何事，文件在 Flush 时一次写出。
func (s *FileSink) Record(context.Context, *Transcript, Entry) error { return nil }

// Flush 写出文件。同一秒内重复写出时在文件名后追加 -1、-2…
func (s *FileSink) Flush(_ context.Context, t *Transcript) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	stamp := s.cfg.Now().Format(TimestampLayout)
	content := []byte(RenderMarkdown(t, s.cfg.Headings))

	base, f, err := createUnique(s.cfg.Dir, stamp)
	if err != nil {
		return err
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close transcript: %w", err)
	}
	mdPath := base + ".md"

	if s.cfg.JSON {
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal transcript: %w", err)
		}
		if err := os.WriteFile(base+".json", data, 0o644); err != nil {
			return fmt.Errorf("write transcript json: %w", err)
		}
	}

	s.mu.Lock()
	s.path = mdPath
	s.mu.Unlock()
	s.logger.Info("transcript written", zap.String("path", mdPath), zap.Int("entries", t.Len()))
	return nil
}

// Path 返回最近一次写出的 Markdown 路径，未写出时为空。
func (s *FileSink) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func createUnique(dir, stamp string) (string, *os.File, error) {
	for i := 0; i < 100; i++ {
		name := stamp
		if i > 0 {
			name = fmt.Sprintf("%s-%d", stamp, i)
		}
		base := filepath.Join(dir, name)
		f, err := os.OpenFile(base+".md", os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return base, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, fmt.Errorf("create transcript file: %w", err)
		}
	}
	return "", nil, fmt.Errorf("create transcript file: too many files for %s", stamp)
}
