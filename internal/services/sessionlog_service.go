package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/denizyuce/callscribe/internal/cache"
	"github.com/denizyuce/callscribe/internal/models"
	"github.com/denizyuce/callscribe/internal/presence"
	"github.com/denizyuce/callscribe/internal/providers/llm"
	pgrepo "github.com/denizyuce/callscribe/internal/repositories/postgres"
	"github.com/denizyuce/callscribe/internal/transcribe"
	"github.com/denizyuce/callscribe/internal/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PairWindow is the symmetric session-timestamp window used to match two
// halves of the same call when no call id was supplied.
const PairWindow = 10 * time.Minute

const summaryTTL = time.Hour

// FlushRequest carries everything a closing connection knows about its call.
type FlushRequest struct {
	UserID           string
	PeerUserID       string
	CallID           *string
	SessionTimestamp time.Time
	Items            []models.TranscriptItem
}

type SessionLogService interface {
	// Flush persists the accepted segments of one closed connection.
	// Returns nil when there was nothing meaningful to persist.
	Flush(ctx context.Context, req FlushRequest) (*models.SessionLog, error)

	Get(ctx context.Context, userID string, id uint) (*models.SessionLog, error)
	List(ctx context.Context, userID string, peerID *string) ([]models.SessionLog, error)
	Delete(ctx context.Context, userID string, id uint) error
	Summarize(ctx context.Context, userID string, id uint, lang string) (string, error)
}

type sessionLogService struct {
	logs    pgrepo.SessionLogRepo
	llm     llm.Provider
	cache   cache.Cache
	emitter presence.Emitter
	box     *utils.SecretBox
	log     *logrus.Logger
}

// NewSessionLogService wires the transcript store. A non-nil box encrypts
// every persisted transcript item at rest; nil stores plaintext.
func NewSessionLogService(logs pgrepo.SessionLogRepo, llmProvider llm.Provider, c cache.Cache, emitter presence.Emitter, box *utils.SecretBox, log *logrus.Logger) SessionLogService {
	if log == nil {
		log = logrus.New()
	}
	return &sessionLogService{logs: logs, llm: llmProvider, cache: c, emitter: emitter, box: box, log: log}
}

type savedPayload struct {
	ID uint `json:"id"`
}

func (s *sessionLogService) Flush(ctx context.Context, req FlushRequest) (*models.SessionLog, error) {
	const op = "SessionLogService.Flush"

	if req.UserID == "" || req.PeerUserID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "both participants are required", nil)
	}
	if len(req.Items) == 0 {
		return nil, nil
	}

	// A connection whose entire content reads as noise produces no record.
	joined := joinItems(req.Items, " ")
	if transcribe.IsTrash(joined) {
		s.log.WithFields(logrus.Fields{
			"user_id": req.UserID,
			"items":   len(req.Items),
		}).Info("flush skipped: transcript classified as noise")
		return nil, nil
	}

	ts := req.SessionTimestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	// From here on the items are ciphertext when a key is configured; the
	// trash check above already saw the plaintext.
	sealed, err := s.sealItems(req.Items)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to encrypt transcript", err)
	}
	req.Items = sealed

	row, err := s.resolve(ctx, req, ts)
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeInternal, op, "failed to resolve session log", err)
	}

	if row != nil {
		if err := s.appendItems(ctx, row, req.Items); err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to append transcript", err)
		}
	} else {
		row, err = s.createWithRetry(ctx, req, ts)
		if err != nil {
			return nil, utils.E(utils.CodeInternal, op, "failed to create session log", err)
		}
	}

	s.notifySaved(ctx, req.UserID, req.PeerUserID, row.ID)
	return row, nil
}

// resolve finds the record this flush should merge into: exact call id match
// when present, otherwise the most recent record for the participant pair
// inside the timestamp window.
func (s *sessionLogService) resolve(ctx context.Context, req FlushRequest, ts time.Time) (*models.SessionLog, error) {
	if req.CallID != nil && *req.CallID != "" {
		return s.logs.GetByCallID(ctx, *req.CallID)
	}
	return s.logs.FindRecentByPair(ctx, req.UserID, req.PeerUserID, ts, PairWindow)
}

func (s *sessionLogService) appendItems(ctx context.Context, row *models.SessionLog, items []models.TranscriptItem) error {
	existing, err := decodeTranscript(row.Transcript)
	if err != nil {
		// A corrupt transcript column should not lose the new segments.
		s.log.WithError(err).WithField("log_id", row.ID).Warn("unreadable transcript, rebuilding")
		existing = nil
	}

	merged := capItems(append(existing, items...))
	encoded, err := json.Marshal(merged)
	if err != nil {
		return err
	}

	if err := s.logs.SaveTranscript(ctx, row.ID, datatypes.JSON(encoded)); err != nil {
		return err
	}
	row.Transcript = datatypes.JSON(encoded)
	row.UpdatedAt = time.Now().UTC()

	// The old summary no longer describes the record.
	if s.cache != nil {
		_ = s.cache.Del(ctx, summaryKey(row.ID, "tr"), summaryKey(row.ID, "en"))
	}
	return nil
}

// createWithRetry inserts a fresh record. Two connections flushing the same
// call id can race on the unique index; the loser re-fetches and merges
// instead of failing the flush.
func (s *sessionLogService) createWithRetry(ctx context.Context, req FlushRequest, ts time.Time) (*models.SessionLog, error) {
	encoded, err := json.Marshal(capItems(req.Items))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	row := &models.SessionLog{
		CallID:           req.CallID,
		User1ID:          req.UserID,
		User2ID:          req.PeerUserID,
		SessionTimestamp: ts,
		Transcript:       datatypes.JSON(encoded),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	err = s.logs.Create(ctx, row)
	if err == nil {
		return row, nil
	}

	if !isDuplicate(err) || req.CallID == nil || *req.CallID == "" {
		return nil, err
	}

	existing, gerr := s.logs.GetByCallID(ctx, *req.CallID)
	if gerr != nil {
		return nil, gerr
	}
	if aerr := s.appendItems(ctx, existing, req.Items); aerr != nil {
		return nil, aerr
	}
	return existing, nil
}

func (s *sessionLogService) notifySaved(ctx context.Context, userID, peerID string, id uint) {
	if s.emitter == nil {
		return
	}
	payload := savedPayload{ID: id}
	for _, uid := range []string{userID, peerID} {
		if err := s.emitter.Emit(ctx, uid, "sessionlog_saved", payload); err != nil {
			s.log.WithError(err).WithField("user_id", uid).Warn("sessionlog_saved emit failed")
		}
	}
}

func (s *sessionLogService) Get(ctx context.Context, userID string, id uint) (*models.SessionLog, error) {
	const op = "SessionLogService.Get"

	row, err := s.logs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "session log not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get session log", err)
	}
	if !row.HasParticipant(userID) {
		return nil, utils.E(utils.CodeForbidden, op, "not a participant of this call", nil)
	}
	s.openTranscript(row)
	return row, nil
}

func (s *sessionLogService) List(ctx context.Context, userID string, peerID *string) ([]models.SessionLog, error) {
	const op = "SessionLogService.List"

	if userID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user id is required", nil)
	}
	rows, err := s.logs.ListForUser(ctx, userID, peerID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list session logs", err)
	}
	for i := range rows {
		s.openTranscript(&rows[i])
	}
	return rows, nil
}

func (s *sessionLogService) Delete(ctx context.Context, userID string, id uint) error {
	const op = "SessionLogService.Delete"

	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	if err := s.logs.Delete(ctx, id); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to delete session log", err)
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, summaryKey(id, "tr"), summaryKey(id, "en"))
	}
	return nil
}

func (s *sessionLogService) Summarize(ctx context.Context, userID string, id uint, lang string) (string, error) {
	const op = "SessionLogService.Summarize"

	if lang != "en" {
		lang = "tr"
	}

	row, err := s.Get(ctx, userID, id)
	if err != nil {
		return "", err
	}
	if s.llm == nil {
		return "", utils.E(utils.CodeUnavailable, op, "summarization is not configured", nil)
	}

	key := summaryKey(id, lang)
	if s.cache != nil {
		var cached string
		if hit, _ := s.cache.GetJSON(ctx, key, &cached); hit {
			return cached, nil
		}
	}

	items, err := decodeTranscript(row.Transcript)
	if err != nil {
		return "", utils.E(utils.CodeInternal, op, "unreadable transcript", err)
	}

	text := joinItems(items, "\n")
	if runes := []rune(text); len(runes) > 200_000 {
		text = string(runes[:200_000])
	}

	prompt := "Aşağıdaki görüşmenin öz ve maddeli özetini çıkar; kararlar, aksiyonlar ve tarihler. Türkçe yanıtla.\n\n" + text
	if lang == "en" {
		prompt = "Summarize the call concisely in bullet points. Extract decisions, action items, and dates. Respond in English.\n\n" + text
	}

	summary, err := s.llm.Summarize(ctx, prompt)
	if err != nil {
		return "", utils.E(utils.CodeUnavailable, op, "summarization failed", err)
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, summary, summaryTTL)
	}
	return summary, nil
}

func summaryKey(id uint, lang string) string {
	return fmt.Sprintf("sessionlog:summary:%d:%s", id, lang)
}

func decodeTranscript(raw datatypes.JSON) ([]models.TranscriptItem, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []models.TranscriptItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func joinItems(items []models.TranscriptItem, sep string) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, it.Text)
	}
	return strings.Join(parts, sep)
}

// capItems keeps the most recent TranscriptCap entries, oldest-first order
// preserved inside the window.
func capItems(items []models.TranscriptItem) []models.TranscriptItem {
	if len(items) <= models.TranscriptCap {
		return items
	}
	return items[len(items)-models.TranscriptCap:]
}

func isDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "duplicate key")
}

// sealItems encrypts each item's text before it reaches the repository.
func (s *sessionLogService) sealItems(items []models.TranscriptItem) ([]models.TranscriptItem, error) {
	if s.box == nil {
		return items, nil
	}
	out := make([]models.TranscriptItem, len(items))
	for i, it := range items {
		enc, err := s.box.Encrypt(it.Text)
		if err != nil {
			return nil, err
		}
		out[i] = models.TranscriptItem{Text: enc}
	}
	return out, nil
}

// openTranscript rewrites the row's transcript with decrypted texts. Items
// that fail to decrypt keep their stored text, so records written before a
// key was configured stay readable.
func (s *sessionLogService) openTranscript(row *models.SessionLog) {
	if s.box == nil || len(row.Transcript) == 0 {
		return
	}
	items, err := decodeTranscript(row.Transcript)
	if err != nil {
		return
	}
	for i := range items {
		if plain, derr := s.box.Decrypt(items[i].Text); derr == nil {
			items[i].Text = plain
		}
	}
	if encoded, merr := json.Marshal(items); merr == nil {
		row.Transcript = datatypes.JSON(encoded)
	}
}
