package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BaSui01/aichatter/config"
	"github.com/BaSui01/aichatter/transcript"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// =============================================================================
// 🗄️ 会话归档
// =============================================================================

// ErrNotFound 表示会话不存在
var ErrNotFound = errors.New("archived session not found")

// ErrClosed 表示存储已关闭
var ErrClosed = errors.New("archive store is closed")

const insertBatchSize = 100

// Store 保存结束的会话
type Store struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// Dialector 根据驱动名返回 GORM 方言
func Dialector(cfg config.ArchiveConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return sqlite.Open(cfg.DSN()), nil
	case "postgres":
		return postgres.Open(cfg.DSN()), nil
	case "mysql":
		return mysql.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported archive driver: %s (supported: sqlite, postgres, mysql)", cfg.Driver)
	}
}

// Open 按配置连接数据库、设置连接池并迁移表结构
func Open(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.Driver == "sqlite" {
		if err := ensureSQLiteDir(cfg.Name); err != nil {
			return nil, err
		}
		// 内存库每个连接各自独立
		if isMemoryDSN(cfg.Name) {
			cfg.MaxOpenConns = 1
		}
	}

	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect archive database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	store, err := NewStore(db, logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	logger.Info("archive database connected",
		zap.String("driver", cfg.Driver),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return store, nil
}

// NewStore 包装已打开的连接并迁移表结构
func NewStore(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if err := db.AutoMigrate(&SessionRecord{}, &EntryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate archive schema: %w", err)
	}
	return &Store{
		db:     db,
		sqlDB:  sqlDB,
		logger: logger.With(zap.String("component", "archive")),
	}, nil
}

func isMemoryDSN(name string) bool {
	return name == ":memory:" || strings.Contains(name, "mode=memory")
}

func ensureSQLiteDir(name string) error {
	if name == "" || isMemoryDSN(name) || strings.HasPrefix(name, "file:") {
		return nil
	}
	dir := filepath.Dir(name)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}
	return nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

func (s *Store) conn() (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.db, nil
}

// Save 在一个事务里写入会话，已存在时整体替换
func (s *Store) Save(ctx context.Context, snap transcript.Snapshot) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	rec, entries := fromSnapshot(snap)

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"theme", "environment", "started_at", "ended_at", "end_reason", "turns", "updated_at"}),
		}
		if err := tx.Omit("Entries").Clauses(upsert).Create(&rec).Error; err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		if err := tx.Where("session_id = ?", rec.ID).Delete(&EntryRecord{}).Error; err != nil {
			return fmt.Errorf("clear entries: %w", err)
		}
		if len(entries) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(entries, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert entries: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("session archived", zap.String("session_id", rec.ID), zap.Int("entries", len(entries)))
	return nil
}

// Get 读取一个会话及其全部条目
func (s *Store) Get(ctx context.Context, id string) (*SessionRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	err = db.WithContext(ctx).
		Preload("Entries", func(q *gorm.DB) *gorm.DB { return q.Order("seq ASC") }).
		First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &rec, nil
}

// List 按开始时间倒序列出会话，不含条目
func (s *Store) List(ctx context.Context, limit int) ([]SessionRecord, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	q := db.WithContext(ctx).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []SessionRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// Ping 检查数据库连接
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.sqlDB.PingContext(ctx)
}

// Stats 返回连接池统计
func (s *Store) Stats() sql.DBStats {
	return s.sqlDB.Stats()
}

// Close 关闭连接池，可重复调用
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.sqlDB.Close()
}

// =============================================================================
// 📝 transcript.Sink
// =============================================================================

// Name 实现 transcript.Sink
func (s *Store) Name() string { return "archive" }

// Record 不落库，等 Flush 一次写入
func (s *Store) Record(context.Context, *transcript.Transcript, transcript.Entry) error {
	return nil
}

// Flush 保存结束的会话
func (s *Store) Flush(ctx context.Context, t *transcript.Transcript) error {
	return s.Save(ctx, t.Snapshot())
}

var _ transcript.Sink = (*Store)(nil)
