package presence

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

const onlineKey = "presence:online"

// Emitter addresses an event to a user. Connection handles are resolved by
// the presence directory, not by the audio pipeline.
type Emitter interface {
	Emit(ctx context.Context, userID, event string, payload any) error
}

// Directory tracks which users currently hold a live connection and carries
// user-addressed events over Redis pub/sub, so delivery works across
// instances. Each live socket subscribes to its user's channel and forwards
// payloads verbatim.
type Directory struct {
	rdb *redis.Client
}

func NewDirectory(rdb *redis.Client) *Directory {
	return &Directory{rdb: rdb}
}

// UserChannel names the pub/sub channel a user's sockets listen on.
func UserChannel(userID string) string {
	return "user:" + userID + ":events"
}

func (d *Directory) SetOnline(ctx context.Context, userID, connectionID string) error {
	return d.rdb.HSet(ctx, onlineKey, userID, connectionID).Err()
}

func (d *Directory) SetOffline(ctx context.Context, userID string) error {
	return d.rdb.HDel(ctx, onlineKey, userID).Err()
}

func (d *Directory) IsOnline(ctx context.Context, userID string) (bool, error) {
	return d.rdb.HExists(ctx, onlineKey, userID).Result()
}

// Emit publishes {"type": event, ...payload fields} to the user's channel.
// A user with no live socket simply has no subscriber; that is not an error.
func (d *Directory) Emit(ctx context.Context, userID, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	// Flatten the payload next to the type discriminator.
	msg := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &msg); err != nil {
		return err
	}
	typeField, _ := json.Marshal(event)
	msg["type"] = typeField

	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return d.rdb.Publish(ctx, UserChannel(userID), out).Err()
}

// Subscribe opens the pub/sub stream for one user's events.
func (d *Directory) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	return d.rdb.Subscribe(ctx, UserChannel(userID))
}
