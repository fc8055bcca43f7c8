package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// CallSegment is the short-lived audit record of one speech segment moving
// through the transcription pipeline. Diagnostic only: the durable transcript
// lives in SessionLog. Expired by a TTL index.
type CallSegment struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ConnectionID string             `bson:"connection_id" json:"connection_id"`
	Seq          int64              `bson:"seq" json:"seq"`

	UserID     string  `bson:"user_id" json:"user_id"`
	PeerUserID string  `bson:"peer_user_id,omitempty" json:"peer_user_id,omitempty"`
	CallID     *string `bson:"call_id,omitempty" json:"call_id,omitempty"`

	DurationMS int64   `bson:"duration_ms" json:"duration_ms"`
	Status     string  `bson:"status" json:"status"` // pending|done|trash|failed
	Text       string  `bson:"text,omitempty" json:"text,omitempty"`
	Confidence float64 `bson:"confidence,omitempty" json:"confidence,omitempty"`

	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"` // for TTL index
}
