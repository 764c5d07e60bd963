package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/llm/providers"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// preflightConcurrency 限制同时探测的端点数
const preflightConcurrency = 4

// ErrUnhealthy 表示端点应答了但报告自身不可用
var ErrUnhealthy = errors.New("endpoint reported unhealthy")

// EndpointStatus 是一个端点的探测结果
type EndpointStatus struct {
	Provider string        `json:"provider"`
	Host     string        `json:"host"`
	Handles  []string      `json:"handles"`
	Healthy  bool          `json:"healthy"`
	Latency  time.Duration `json:"latency"`
	Err      error         `json:"-"`
}

// String 返回一行摘要
func (s EndpointStatus) String() string {
	host := s.Host
	if host == "" {
		host = "(default)"
	}
	who := "@" + strings.Join(s.Handles, ", @")
	if s.Healthy {
		return fmt.Sprintf("ok   %s %s (%s) %s", s.Provider, host, s.Latency.Round(time.Millisecond), who)
	}
	return fmt.Sprintf("FAIL %s %s %s: %v", s.Provider, host, who, s.Err)
}

// Preflight 并发检查 cast 中每个不同的 (provider, host)。
// 所有端点都会被探测；返回的错误汇总了全部失败。
func (c *LLMConnector) Preflight(ctx context.Context, cs *cast.Cast) ([]EndpointStatus, error) {
	var (
		order   []providerKey
		handles = make(map[providerKey][]string)
	)
	for _, ch := range cs.Characters {
		key := providerKey{kind: normalizeKind(ch.Provider), host: providers.NormalizeBaseURL(ch.Host)}
		if _, seen := handles[key]; !seen {
			order = append(order, key)
		}
		handles[key] = append(handles[key], ch.Handle)
	}
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].kind != order[j].kind {
			return order[i].kind < order[j].kind
		}
		return order[i].host < order[j].host
	})

	results := make([]EndpointStatus, len(order))
	g := new(errgroup.Group)
	g.SetLimit(preflightConcurrency)

	for i, key := range order {
		results[i] = EndpointStatus{Provider: key.kind, Host: key.host, Handles: handles[key]}
		g.Go(func() error {
			res := &results[i]
			p, err := c.provider(key.kind, key.host)
			if err != nil {
				res.Err = err
				return nil
			}

			probeCtx := ctx
			if c.cfg.Timeout > 0 {
				var cancel context.CancelFunc
				probeCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
				defer cancel()
			}
			status, err := p.HealthCheck(probeCtx)
			if status != nil {
				res.Latency = status.Latency
				res.Healthy = status.Healthy
			}
			if err != nil {
				res.Healthy = false
				res.Err = err
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for i := range results {
		r := &results[i]
		if r.Healthy {
			c.logger.Debug("endpoint healthy",
				zap.String("provider", r.Provider),
				zap.String("host", r.Host),
				zap.Duration("latency", r.Latency),
			)
			continue
		}
		if r.Err == nil {
			r.Err = ErrUnhealthy
		}
		c.logger.Warn("endpoint unreachable",
			zap.String("provider", r.Provider),
			zap.String("host", r.Host),
			zap.Strings("handles", r.Handles),
			zap.Error(r.Err),
		)
		errs = append(errs, fmt.Errorf("%s %s: %w", r.Provider, r.Host, r.Err))
	}
	return results, errors.Join(errs...)
}
