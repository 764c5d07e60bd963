package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BaSui01/aichatter/config"
	"github.com/BaSui01/aichatter/transcript"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 Redis Stream 推送
// =============================================================================

// 事件类型
const (
	EventEntry = "entry"
	EventEnd   = "end"
)

// snapshotTTL 是完整快照的保留时间
const snapshotTTL = 24 * time.Hour

// ErrClosed 表示推送端已关闭
var ErrClosed = errors.New("feed publisher is closed")

// Event 是从 Stream 读回的一条事件
type Event struct {
	ID     string
	Type   string
	Fields map[string]string
}

// Publisher 实现 transcript.Sink
type Publisher struct {
	client *redis.Client
	cfg    config.FeedConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New 连接 Redis 并返回推送端
func New(cfg config.FeedConfig, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = config.DefaultFeedConfig().WriteTimeout
	}
	if cfg.StreamPrefix == "" {
		cfg.StreamPrefix = config.DefaultFeedConfig().StreamPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   1,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.WriteTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("feed publisher initialized",
		zap.String("addr", cfg.Addr),
		zap.String("prefix", cfg.StreamPrefix),
	)
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "feed")),
	}, nil
}

// Name 实现 transcript.Sink
func (p *Publisher) Name() string { return "feed" }

// StreamKey 返回会话的 Stream key
func (p *Publisher) StreamKey(sessionID string) string {
	return p.cfg.StreamPrefix + ":" + sessionID
}

// SnapshotKey 返回会话快照的 key
func (p *Publisher) SnapshotKey(sessionID string) string {
	return p.StreamKey(sessionID) + ":snapshot"
}

func (p *Publisher) xadd(ctx context.Context, key string, values map[string]any) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()

	args := &redis.XAddArgs{Stream: key, Values: values}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", key, err)
	}
	return nil
}

// Record 推送一条记录
func (p *Publisher) Record(ctx context.Context, t *transcript.Transcript, e transcript.Entry) error {
	return p.xadd(ctx, p.StreamKey(t.ID), map[string]any{
		"type":    EventEntry,
		"seq":     e.Seq,
		"kind":    string(e.Kind),
		"speaker": e.Speaker,
		"handle":  e.Handle,
		"text":    e.Text,
		"at":      e.At.UTC().Format(time.RFC3339Nano),
	})
}

// Flush 推送结束事件并保存 JSON 快照
func (p *Publisher) Flush(ctx context.Context, t *transcript.Transcript) error {
	key := p.StreamKey(t.ID)
	if err := p.xadd(ctx, key, map[string]any{
		"type":   EventEnd,
		"reason": string(t.EndReason()),
		"turns":  len(t.Turns()),
		"at":     t.EndedAt().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return err
	}

	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	setCtx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
	defer cancel()
	if err := p.client.Set(setCtx, p.SnapshotKey(t.ID), data, snapshotTTL).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	p.logger.Debug("feed flushed", zap.String("stream", key), zap.Int("entries", t.Len()))
	return nil
}

// Events 读回会话 Stream 中的全部事件
func (p *Publisher) Events(ctx context.Context, sessionID string) ([]Event, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	msgs, err := p.client.XRange(ctx, p.StreamKey(sessionID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("xrange: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		ev := Event{ID: m.ID, Fields: make(map[string]string, len(m.Values))}
		for k, v := range m.Values {
			switch val := v.(type) {
			case string:
				ev.Fields[k] = val
			default:
				ev.Fields[k] = fmt.Sprint(val)
			}
		}
		ev.Type = ev.Fields["type"]
		out = append(out, ev)
	}
	return out, nil
}

// Seq 返回 entry 事件的序号
func (e Event) Seq() int {
	n, _ := strconv.Atoi(e.Fields["seq"])
	return n
}

// Close 关闭连接，可重复调用
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.client.Close()
}

var _ transcript.Sink = (*Publisher)(nil)
