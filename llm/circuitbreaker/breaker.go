package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State 熔断器状态
type State int

const (
	// StateClosed 正常放行
	StateClosed State = iota
	// StateOpen 熔断中
	StateOpen
	// StateHalfOpen 冷却结束，等待试探结果
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen 表示端点处于熔断状态
var ErrOpen = errors.New("circuit open")

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败次数阈值，<= 0 表示禁用熔断
	Threshold int

	// Cooldown 打开后到允许试探的等待时间
	Cooldown time.Duration

	// OnStateChange 状态变更回调，在持锁外同步调用
	OnStateChange func(name string, from, to State)

	// Now 为测试注入的时钟，默认 time.Now
	Now func() time.Time
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Threshold: 3,
		Cooldown:  30 * time.Second,
	}
}

// Breaker 是单个端点的熔断器，并发安全
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New 创建熔断器
func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultConfig().Cooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("endpoint", name)),
	}
}

// Enabled 判断是否启用
func (b *Breaker) Enabled() bool { return b != nil && b.cfg.Threshold > 0 }

// Allow 在调用前检查；返回 ErrOpen 时不应发起调用
func (b *Breaker) Allow() error {
	if !b.Enabled() {
		return nil
	}

	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateOpen:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.probing = true
	case StateHalfOpen:
		// 只放行一个试探请求
		if b.probing {
			b.mu.Unlock()
			return ErrOpen
		}
		b.probing = true
	}
	to := b.state
	b.mu.Unlock()

	b.notify(from, to)
	return nil
}

// Record 记录一次调用结果；failed 为 false 时重置失败计数
func (b *Breaker) Record(failed bool) {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	from := b.state
	b.probing = false
	if failed {
		b.failures++
		if b.state == StateHalfOpen || b.failures >= b.cfg.Threshold {
			b.state = StateOpen
			b.openedAt = b.cfg.Now()
		}
	} else {
		b.failures = 0
		b.state = StateClosed
	}
	to, failures := b.state, b.failures
	b.mu.Unlock()

	if from != to {
		if to == StateOpen {
			b.logger.Warn("circuit opened", zap.Int("consecutive_failures", failures), zap.Duration("cooldown", b.cfg.Cooldown))
		} else {
			b.logger.Info("circuit closed")
		}
	}
	b.notify(from, to)
}

// State 返回当前状态；冷却结束但尚未试探时仍返回 StateOpen
func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset 手动恢复到关闭状态
func (b *Breaker) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, from, to)
	}
}
