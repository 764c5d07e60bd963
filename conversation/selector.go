package conversation

import (
	"fmt"
	"math/rand/v2"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/config"
	"github.com/cespare/xxhash/v2"
)

// Selector 决定下一位发言人
type Selector interface {
	// Policy 返回策略名称
	Policy() string
	// Next 返回下一位发言人
	Next() *cast.Character
	// Spoke 记录最近一条条目的作者（包括议长台词）
	Spoke(handle string)
	// Force 指定下一位发言人
	Force(handle string)
}

// NewSelector 按策略名称创建选择器
func NewSelector(policy string, c *cast.Cast, seed uint64) (Selector, error) {
	switch policy {
	case "", config.PolicyDirected:
		return NewDirectedSelector(c, seed), nil
	case config.PolicyRoundRobin:
		return NewRoundRobinSelector(c), nil
	default:
		return nil, fmt.Errorf("unknown speaker policy %q", policy)
	}
}

// DeriveSeed 由主题与 handle 派生 64 位种子
func DeriveSeed(theme string, handles []string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(theme)
	for _, h := range handles {
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(h)
	}
	return d.Sum64()
}

// =============================================================================
// round_robin
// =============================================================================

// RoundRobinSelector 按声明顺序轮转
type RoundRobinSelector struct {
	order []*cast.Character
	pos   int
}

// NewRoundRobinSelector 从议长之后的角色开始轮转
func NewRoundRobinSelector(c *cast.Cast) *RoundRobinSelector {
	s := &RoundRobinSelector{order: c.Characters}
	if chair := c.Chair(); chair != nil {
		for i, ch := range c.Characters {
			if ch == chair {
				s.pos = (i + 1) % len(c.Characters)
				break
			}
		}
	}
	return s
}

func (s *RoundRobinSelector) Policy() string { return config.PolicyRoundRobin }

func (s *RoundRobinSelector) Next() *cast.Character {
	ch := s.order[s.pos]
	s.pos = (s.pos + 1) % len(s.order)
	return ch
}

func (s *RoundRobinSelector) Spoke(string) {}
func (s *RoundRobinSelector) Force(string) {}

// =============================================================================
// directed
// =============================================================================

// DirectedSelector 优先被点名的角色，否则随机选择非上一位发言人
type DirectedSelector struct {
	cast   *cast.Cast
	chair  *cast.Character
	rng    *rand.Rand
	last   string
	forced string
}

// NewDirectedSelector 创建选择器；开场白由议长发出，因此初始上一位发言人为议长
func NewDirectedSelector(c *cast.Cast, seed uint64) *DirectedSelector {
	s := &DirectedSelector{
		cast:  c,
		chair: c.Chair(),
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	if s.chair != nil {
		s.last = s.chair.Handle
	}
	return s
}

func (s *DirectedSelector) Policy() string { return config.PolicyDirected }

func (s *DirectedSelector) Next() *cast.Character {
	if s.forced != "" {
		handle := s.forced
		s.forced = ""
		if ch, ok := s.cast.Lookup(handle); ok {
			return ch
		}
	}
	candidates := make([]*cast.Character, 0, len(s.cast.Characters))
	for _, ch := range s.cast.Characters {
		if ch.Handle != s.last {
			candidates = append(candidates, ch)
		}
	}
	if len(candidates) == 0 {
		candidates = s.cast.Characters
	}
	return candidates[s.rng.IntN(len(candidates))]
}

func (s *DirectedSelector) Spoke(handle string) { s.last = handle }

func (s *DirectedSelector) Force(handle string) { s.forced = handle }

// NudgeTarget 随机返回一名非议长角色；只有议长时返回 nil
func (s *DirectedSelector) NudgeTarget() *cast.Character {
	candidates := make([]*cast.Character, 0, len(s.cast.Characters))
	for _, ch := range s.cast.Characters {
		if ch != s.chair {
			candidates = append(candidates, ch)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	return candidates[s.rng.IntN(len(candidates))]
}
