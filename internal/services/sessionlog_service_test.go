package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/denizyuce/callscribe/internal/models"
	"github.com/denizyuce/callscribe/internal/utils"
	"gorm.io/datatypes"
)

type fakeLogRepo struct {
	rows   []*models.SessionLog
	nextID uint

	// when set, the next Create fails with a duplicate-key error and this
	// row appears as the already-committed winner of the race.
	raceRow *models.SessionLog
}

func (f *fakeLogRepo) Create(ctx context.Context, row *models.SessionLog) error {
	if f.raceRow != nil {
		f.rows = append(f.rows, f.raceRow)
		f.raceRow = nil
		return errors.New(`duplicate key value violates unique constraint "uq_session_logs_call_id"`)
	}
	f.nextID++
	row.ID = f.nextID
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeLogRepo) GetByID(ctx context.Context, id uint) (*models.SessionLog, error) {
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeLogRepo) GetByCallID(ctx context.Context, callID string) (*models.SessionLog, error) {
	for _, r := range f.rows {
		if r.CallID != nil && *r.CallID == callID {
			return r, nil
		}
	}
	return nil, utils.ErrNotFound
}

func (f *fakeLogRepo) FindRecentByPair(ctx context.Context, userA, userB string, around time.Time, window time.Duration) (*models.SessionLog, error) {
	var best *models.SessionLog
	for _, r := range f.rows {
		samePair := (r.User1ID == userA && r.User2ID == userB) || (r.User1ID == userB && r.User2ID == userA)
		if !samePair {
			continue
		}
		d := r.SessionTimestamp.Sub(around)
		if d < 0 {
			d = -d
		}
		if d > window {
			continue
		}
		if best == nil || r.SessionTimestamp.After(best.SessionTimestamp) {
			best = r
		}
	}
	if best == nil {
		return nil, utils.ErrNotFound
	}
	return best, nil
}

func (f *fakeLogRepo) SaveTranscript(ctx context.Context, id uint, transcript datatypes.JSON) error {
	for _, r := range f.rows {
		if r.ID == id {
			r.Transcript = transcript
			r.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return utils.ErrNotFound
}

func (f *fakeLogRepo) ListForUser(ctx context.Context, userID string, peerID *string) ([]models.SessionLog, error) {
	var out []models.SessionLog
	for _, r := range f.rows {
		if !r.HasParticipant(userID) {
			continue
		}
		if peerID != nil && !r.HasParticipant(*peerID) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeLogRepo) Delete(ctx context.Context, id uint) error {
	for i, r := range f.rows {
		if r.ID == id {
			f.rows = append(f.rows[:i], f.rows[i+1:]...)
			return nil
		}
	}
	return utils.ErrNotFound
}

type recordedEvent struct {
	UserID string
	Event  string
}

type fakeEmitter struct {
	events []recordedEvent
}

func (f *fakeEmitter) Emit(ctx context.Context, userID, event string, payload any) error {
	f.events = append(f.events, recordedEvent{UserID: userID, Event: event})
	return nil
}

type fakeLLM struct{ summary string }

func (f *fakeLLM) Summarize(ctx context.Context, prompt string) (string, error) {
	return f.summary, nil
}
func (f *fakeLLM) Close() error { return nil }

func items(texts ...string) []models.TranscriptItem {
	out := make([]models.TranscriptItem, len(texts))
	for i, t := range texts {
		out[i] = models.TranscriptItem{Text: t}
	}
	return out
}

func transcriptOf(t *testing.T, row *models.SessionLog) []models.TranscriptItem {
	t.Helper()
	var out []models.TranscriptItem
	if err := json.Unmarshal(row.Transcript, &out); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	return out
}

type fakeCache struct {
	store   map[string][]byte
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: map[string][]byte{}}
}

func (f *fakeCache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, ok := f.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (f *fakeCache) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	f.store[key] = b
	return nil
}

func (f *fakeCache) Del(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.store, k)
		f.deleted = append(f.deleted, k)
	}
	return nil
}

func newTestService(repo *fakeLogRepo, em *fakeEmitter) SessionLogService {
	return NewSessionLogService(repo, &fakeLLM{summary: "özet"}, nil, em, nil, nil)
}

func TestFlushSkipsEmptyAndTrash(t *testing.T) {
	repo := &fakeLogRepo{}
	em := &fakeEmitter{}
	svc := newTestService(repo, em)
	ctx := context.Background()

	row, err := svc.Flush(ctx, FlushRequest{UserID: "u1", PeerUserID: "u2"})
	if err != nil || row != nil {
		t.Fatalf("empty flush: row=%v err=%v", row, err)
	}

	row, err = svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2",
		Items: items("um", "eh"),
	})
	if err != nil || row != nil {
		t.Fatalf("all-trash flush: row=%v err=%v", row, err)
	}

	if len(repo.rows) != 0 {
		t.Errorf("no record should exist, got %d", len(repo.rows))
	}
	if len(em.events) != 0 {
		t.Errorf("no notification should be sent, got %d", len(em.events))
	}
}

func TestFlushCreatesAndMergesByCallID(t *testing.T) {
	repo := &fakeLogRepo{}
	em := &fakeEmitter{}
	svc := newTestService(repo, em)
	ctx := context.Background()
	callID := "call-42"
	ts := time.Now().UTC()

	first, err := svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2", CallID: &callID, SessionTimestamp: ts,
		Items: items("Hastanın son üç gündür ateşi yükseliyor."),
	})
	if err != nil {
		t.Fatalf("first flush: %v", err)
	}

	second, err := svc.Flush(ctx, FlushRequest{
		UserID: "u2", PeerUserID: "u1", CallID: &callID, SessionTimestamp: ts.Add(time.Minute),
		Items: items("İlaçları düzenli kullanıyor musunuz acaba?"),
	})
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}

	if len(repo.rows) != 1 {
		t.Fatalf("two flushes with one call id must merge: %d rows", len(repo.rows))
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %d vs %d", first.ID, second.ID)
	}

	merged := transcriptOf(t, repo.rows[0])
	if len(merged) != 2 {
		t.Fatalf("expected 2 transcript items, got %d", len(merged))
	}
	if merged[0].Text != "Hastanın son üç gündür ateşi yükseliyor." {
		t.Error("chronological order not preserved")
	}

	// Both participants notified on each flush.
	if len(em.events) != 4 {
		t.Errorf("expected 4 sessionlog_saved events, got %d", len(em.events))
	}
}

func TestFlushPairWindowResolution(t *testing.T) {
	repo := &fakeLogRepo{}
	svc := newTestService(repo, &fakeEmitter{})
	ctx := context.Background()
	ts := time.Date(2026, 2, 10, 14, 0, 0, 0, time.UTC)

	if _, err := svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2", SessionTimestamp: ts,
		Items: items("Tedaviye yarın sabah devam edeceğiz."),
	}); err != nil {
		t.Fatalf("first flush: %v", err)
	}

	// Reversed participant order, 5 minutes later: inside the window.
	if _, err := svc.Flush(ctx, FlushRequest{
		UserID: "u2", PeerUserID: "u1", SessionTimestamp: ts.Add(5 * time.Minute),
		Items: items("Anlaştık, yarın görüşürüz o zaman."),
	}); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if len(repo.rows) != 1 {
		t.Fatalf("flushes inside the window must merge: %d rows", len(repo.rows))
	}

	// 30 minutes later: outside the window, new record.
	if _, err := svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2", SessionTimestamp: ts.Add(30 * time.Minute),
		Items: items("Kontrol sonuçları bugün elime ulaştı."),
	}); err != nil {
		t.Fatalf("third flush: %v", err)
	}
	if len(repo.rows) != 2 {
		t.Fatalf("flush outside the window must create a new record: %d rows", len(repo.rows))
	}
}

func TestFlushRecoversFromDuplicateCallID(t *testing.T) {
	repo := &fakeLogRepo{}
	svc := newTestService(repo, &fakeEmitter{})
	ctx := context.Background()
	callID := "call-race"

	winner := &models.SessionLog{
		ID: 7, CallID: &callID, User1ID: "u2", User2ID: "u1",
		SessionTimestamp: time.Now().UTC(),
	}
	enc, _ := json.Marshal(items("Merhaba, beni duyabiliyor musunuz?"))
	winner.Transcript = datatypes.JSON(enc)
	repo.raceRow = winner

	row, err := svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2", CallID: &callID,
		Items: items("Evet, gayet net duyuyorum sizi."),
	})
	if err != nil {
		t.Fatalf("flush must recover from the duplicate-key race: %v", err)
	}
	if row.ID != 7 {
		t.Errorf("expected merge into the winner row, got id %d", row.ID)
	}

	merged := transcriptOf(t, row)
	if len(merged) != 2 {
		t.Fatalf("expected both halves merged, got %d items", len(merged))
	}
}

func TestFlushTranscriptCap(t *testing.T) {
	repo := &fakeLogRepo{}
	svc := newTestService(repo, &fakeEmitter{})
	ctx := context.Background()
	callID := "call-cap"

	old := make([]models.TranscriptItem, 0, 490)
	for i := 0; i < 490; i++ {
		old = append(old, models.TranscriptItem{Text: fmt.Sprintf("önceki kayıt numarası %d", i)})
	}
	enc, _ := json.Marshal(old)
	repo.rows = append(repo.rows, &models.SessionLog{
		ID: 1, CallID: &callID, User1ID: "u1", User2ID: "u2",
		SessionTimestamp: time.Now().UTC(),
		Transcript:       datatypes.JSON(enc),
	})
	repo.nextID = 1

	fresh := make([]models.TranscriptItem, 0, 20)
	for i := 0; i < 20; i++ {
		fresh = append(fresh, models.TranscriptItem{Text: fmt.Sprintf("yeni kayıt numarası %d", i)})
	}

	if _, err := svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2", CallID: &callID, Items: fresh,
	}); err != nil {
		t.Fatalf("flush: %v", err)
	}

	merged := transcriptOf(t, repo.rows[0])
	if len(merged) != models.TranscriptCap {
		t.Fatalf("transcript has %d items, want %d", len(merged), models.TranscriptCap)
	}
	if merged[0].Text != "önceki kayıt numarası 10" {
		t.Errorf("oldest surviving item wrong: %q", merged[0].Text)
	}
	if merged[len(merged)-1].Text != "yeni kayıt numarası 19" {
		t.Errorf("newest item wrong: %q", merged[len(merged)-1].Text)
	}
}

func TestGetAuthorization(t *testing.T) {
	repo := &fakeLogRepo{}
	svc := newTestService(repo, &fakeEmitter{})
	ctx := context.Background()

	repo.rows = append(repo.rows, &models.SessionLog{ID: 1, User1ID: "u1", User2ID: "u2"})

	if _, err := svc.Get(ctx, "u2", 1); err != nil {
		t.Errorf("participant must be allowed: %v", err)
	}
	if _, err := svc.Get(ctx, "intruder", 1); !utils.IsCode(err, utils.CodeForbidden) {
		t.Errorf("non-participant must be forbidden, got %v", err)
	}
	if _, err := svc.Get(ctx, "u1", 99); !utils.IsCode(err, utils.CodeNotFound) {
		t.Errorf("missing record must be NOT_FOUND, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	repo := &fakeLogRepo{}
	svc := newTestService(repo, &fakeEmitter{})
	ctx := context.Background()

	enc, _ := json.Marshal(items("Hastanın ateşi düştü.", "Tedaviye devam ediyoruz."))
	repo.rows = append(repo.rows, &models.SessionLog{
		ID: 1, User1ID: "u1", User2ID: "u2", Transcript: datatypes.JSON(enc),
	})

	got, err := svc.Summarize(ctx, "u1", 1, "tr")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "özet" {
		t.Errorf("summary = %q", got)
	}

	if _, err := svc.Summarize(ctx, "intruder", 1, "tr"); !utils.IsCode(err, utils.CodeForbidden) {
		t.Errorf("non-participant summarize must be forbidden, got %v", err)
	}
}

func TestFlushEncryptsTranscriptAtRest(t *testing.T) {
	repo := &fakeLogRepo{}
	box, err := utils.NewSecretBox(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	svc := NewSessionLogService(repo, nil, nil, &fakeEmitter{}, box, nil)
	ctx := context.Background()
	callID := "call-enc"

	plain := "Hastanın son üç gündür ateşi yükseliyor."
	row, err := svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2", CallID: &callID,
		Items: items(plain),
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}

	if strings.Contains(string(repo.rows[0].Transcript), "ateşi") {
		t.Error("stored transcript leaks plaintext")
	}

	// A second flush merges against the ciphertext without corruption.
	if _, err := svc.Flush(ctx, FlushRequest{
		UserID: "u2", PeerUserID: "u1", CallID: &callID,
		Items: items("İlaçları düzenli kullanıyor musunuz acaba?"),
	}); err != nil {
		t.Fatalf("second flush: %v", err)
	}

	got, err := svc.Get(ctx, "u1", row.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	decoded := transcriptOf(t, got)
	if len(decoded) != 2 || decoded[0].Text != plain {
		t.Errorf("Get must return decrypted items in order: %+v", decoded)
	}
}

func TestAppendInvalidatesSummaryCache(t *testing.T) {
	repo := &fakeLogRepo{}
	cache := newFakeCache()
	svc := NewSessionLogService(repo, &fakeLLM{summary: "özet"}, cache, &fakeEmitter{}, nil, nil)
	ctx := context.Background()
	callID := "call-cache"

	row, err := svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2", CallID: &callID,
		Items: items("Kontrol sonuçları bugün elime ulaştı."),
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}

	if _, err := svc.Summarize(ctx, "u1", row.ID, "tr"); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	key := summaryKey(row.ID, "tr")
	if _, ok := cache.store[key]; !ok {
		t.Fatal("summary was not cached")
	}

	// Merging new segments must drop the now-stale summary.
	if _, err := svc.Flush(ctx, FlushRequest{
		UserID: "u1", PeerUserID: "u2", CallID: &callID,
		Items: items("Tedaviye yarın sabah devam edeceğiz."),
	}); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if _, ok := cache.store[key]; ok {
		t.Error("stale summary survived the transcript merge")
	}
	found := false
	for _, k := range cache.deleted {
		if k == key {
			found = true
		}
	}
	if !found {
		t.Errorf("summary key was not invalidated, deleted=%v", cache.deleted)
	}
}
