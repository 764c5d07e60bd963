package transcript

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind 区分条目来源。
type Kind string

const (
	KindOpening   Kind = "opening"   // 议长宣布主题
	KindUtterance Kind = "utterance" // 角色成功生成的发言
	KindNudge     Kind = "nudge"     // 议长点名沉默的角色
	KindNotice    Kind = "notice"    // 议长报告连接失败
)

// EndReason 记录会话结束原因。
type EndReason string

const (
	EndTimeBudget     EndReason = "time_budget"
	EndMaxTurns       EndReason = "max_turns"
	EndClosing        EndReason = "closing"
	EndConnectorError EndReason = "connector_error"
	EndInterrupted    EndReason = "interrupted"
)

// Entry 是一条不可变记录。
type Entry struct {
	Seq     int       `json:"seq"`
	Kind    Kind      `json:"kind"`
	Speaker string    `json:"speaker"`
	Handle  string    `json:"handle"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Transcript 是一次会话的只追加记录，并发安全。
type Transcript struct {
	ID          string
	Theme       string
	Environment string
	StartedAt   time.Time

	mu        sync.RWMutex
	entries   []Entry
	endedAt   time.Time
	endReason EndReason
}

// New 创建空记录。
func New(id, theme, environment string, startedAt time.Time) *Transcript {
	return &Transcript{ID: id, Theme: theme, Environment: environment, StartedAt: startedAt}
}

// Append 追加一条记录并分配序号，返回记录副本。
func (t *Transcript) Append(kind Kind, speaker, handle, text string, at time.Time) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := Entry{
		Seq:     len(t.entries) + 1,
		Kind:    kind,
		Speaker: speaker,
		Handle:  handle,
		Text:    text,
		At:      at,
	}
	t.entries = append(t.entries, e)
	return e
}

// Entries 返回全部记录的副本。
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Turns 只返回角色发言（KindUtterance）。
func (t *Transcript) Turns() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, e := range t.entries {
		if e.Kind == KindUtterance {
			out = append(out, e)
		}
	}
	return out
}

// Len 返回记录条数。
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Tail 返回最后 n 条记录的副本。
func (t *Transcript) Tail(n int) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n > len(t.entries) {
		n = len(t.entries)
	}
	if n <= 0 {
		return nil
	}
	out := make([]Entry, n)
	copy(out, t.entries[len(t.entries)-n:])
	return out
}

// Finish 记录结束时间与原因，仅第一次调用生效。
func (t *Transcript) Finish(reason EndReason, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.endReason != "" {
		return
	}
	t.endReason = reason
	t.endedAt = at
}

// EndReason 返回结束原因，未结束时为空。
func (t *Transcript) EndReason() EndReason {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endReason
}

// EndedAt 返回结束时间。
func (t *Transcript) EndedAt() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endedAt
}

// Snapshot 是 Transcript 的可序列化视图。
type Snapshot struct {
	ID          string     `json:"id"`
	Theme       string     `json:"theme"`
	Environment string     `json:"environment"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EndReason   EndReason  `json:"end_reason,omitempty"`
	Entries     []Entry    `json:"entries"`
}

// Snapshot 返回当前状态的副本。
func (t *Transcript) Snapshot() Snapshot {
	s := Snapshot{
		ID:          t.ID,
		Theme:       t.Theme,
		Environment: t.Environment,
		StartedAt:   t.StartedAt,
		Entries:     t.Entries(),
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.endedAt.IsZero() {
		ended := t.endedAt
		s.EndedAt = &ended
	}
	s.EndReason = t.endReason
	return s
}

func (t *Transcript) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// FromSnapshot 从快照重建记录，条目保持原有顺序。
func FromSnapshot(s Snapshot) *Transcript {
	t := New(s.ID, s.Theme, s.Environment, s.StartedAt)
	t.entries = append([]Entry(nil), s.Entries...)
	if s.EndedAt != nil {
		t.endedAt = *s.EndedAt
	}
	t.endReason = s.EndReason
	return t
}
