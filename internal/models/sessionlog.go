package models

import (
	"time"

	"gorm.io/datatypes"
)

// TranscriptCap bounds the persisted transcript to the most recent entries.
const TranscriptCap = 500

// TranscriptItem is the atomic unit of a persisted call transcript. Order is
// call-chronological and significant.
type TranscriptItem struct {
	Text string `json:"text"`
}

// SessionLog is the durable record of one call between two users. When the
// caller supplies a call id it is unique per record; without one, records are
// matched by participant pair and session time window.
type SessionLog struct {
	ID      uint    `gorm:"column:id;primaryKey" json:"id"`
	CallID  *string `gorm:"column:call_id;type:varchar(128);uniqueIndex:uq_session_logs_call_id" json:"call_id,omitempty"`
	User1ID string  `gorm:"column:user1_id;type:uuid;index" json:"user1_id"`
	User2ID string  `gorm:"column:user2_id;type:uuid;index" json:"user2_id"`

	SessionTimestamp time.Time      `gorm:"column:session_time_stamp;type:timestamptz;index" json:"session_time_stamp"`
	Transcript       datatypes.JSON `gorm:"column:transcript;type:jsonb" json:"transcript"`

	CreatedAt time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (SessionLog) TableName() string { return "session_logs" }

// HasParticipant reports whether userID is one of the call's two parties.
func (s *SessionLog) HasParticipant(userID string) bool {
	return s.User1ID == userID || s.User2ID == userID
}
