package archive

import (
	"time"

	"github.com/BaSui01/aichatter/transcript"
)

// SessionRecord 对应 chat_sessions 表
type SessionRecord struct {
	ID          string        `gorm:"primaryKey;size:64" json:"id"`
	Theme       string        `gorm:"type:text;not null" json:"theme"`
	Environment string        `gorm:"type:text" json:"environment"`
	StartedAt   time.Time     `gorm:"index;not null" json:"started_at"`
	EndedAt     *time.Time    `json:"ended_at,omitempty"`
	EndReason   string        `gorm:"size:32" json:"end_reason"`
	Turns       int           `json:"turns"`
	Entries     []EntryRecord `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"entries,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

func (SessionRecord) TableName() string { return "chat_sessions" }

// EntryRecord 对应 chat_entries 表，(session_id, seq) 唯一
type EntryRecord struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	SessionID string    `gorm:"size:64;not null;uniqueIndex:idx_chat_entries_session_seq" json:"session_id"`
	Seq       int       `gorm:"not null;uniqueIndex:idx_chat_entries_session_seq" json:"seq"`
	Kind      string    `gorm:"size:16;not null" json:"kind"`
	Speaker   string    `gorm:"size:128" json:"speaker"`
	Handle    string    `gorm:"size:64;index" json:"handle"`
	Text      string    `gorm:"type:text" json:"text"`
	At        time.Time `json:"at"`
}

func (EntryRecord) TableName() string { return "chat_entries" }

func fromSnapshot(s transcript.Snapshot) (SessionRecord, []EntryRecord) {
	rec := SessionRecord{
		ID:          s.ID,
		Theme:       s.Theme,
		Environment: s.Environment,
		StartedAt:   s.StartedAt,
		EndedAt:     s.EndedAt,
		EndReason:   string(s.EndReason),
	}
	entries := make([]EntryRecord, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.Kind == transcript.KindUtterance {
			rec.Turns++
		}
		entries = append(entries, EntryRecord{
			SessionID: s.ID,
			Seq:       e.Seq,
			Kind:      string(e.Kind),
			Speaker:   e.Speaker,
			Handle:    e.Handle,
			Text:      e.Text,
			At:        e.At,
		})
	}
	return rec, entries
}

// Snapshot 转回 transcript.Snapshot
func (r SessionRecord) Snapshot() transcript.Snapshot {
	s := transcript.Snapshot{
		ID:          r.ID,
		Theme:       r.Theme,
		Environment: r.Environment,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		EndReason:   transcript.EndReason(r.EndReason),
		Entries:     make([]transcript.Entry, 0, len(r.Entries)),
	}
	for _, e := range r.Entries {
		s.Entries = append(s.Entries, transcript.Entry{
			Seq:     e.Seq,
			Kind:    transcript.Kind(e.Kind),
			Speaker: e.Speaker,
			Handle:  e.Handle,
			Text:    e.Text,
			At:      e.At,
		})
	}
	return s
}
