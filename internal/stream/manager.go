package stream

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/denizyuce/callscribe/internal/audio"
	"github.com/denizyuce/callscribe/internal/logger"
	"github.com/denizyuce/callscribe/internal/models"
	mongorepo "github.com/denizyuce/callscribe/internal/repositories/mongo"
	"github.com/denizyuce/callscribe/internal/services"
	"github.com/denizyuce/callscribe/internal/transcribe"
	"github.com/denizyuce/callscribe/internal/utils"
)

// Config holds the per-connection pipeline settings. Zero values fall back
// to the defaults for 16 kHz mono telephony audio.
type Config struct {
	SampleRate  int
	FrameMS     int
	SilenceTail time.Duration
	MinSegment  time.Duration

	// QueueSize bounds the per-connection segment queue. A full queue
	// backpressures the socket reader instead of dropping audio.
	QueueSize int

	// SegmentTTL is how long call_segments audit rows live in Mongo.
	SegmentTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameMS <= 0 {
		c.FrameMS = 20
	}
	if c.SilenceTail <= 0 {
		c.SilenceTail = 900 * time.Millisecond
	}
	if c.MinSegment <= 0 {
		c.MinSegment = 1200 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.SegmentTTL <= 0 {
		c.SegmentTTL = 24 * time.Hour
	}
	return c
}

// BeginInfo identifies the call a connection belongs to.
type BeginInfo struct {
	UserID           string
	PeerUserID       string
	CallID           *string
	SessionTimestamp time.Time
}

// SegmentTranscriber is what the manager needs from the transcription layer.
// *transcribe.Transcriber satisfies it.
type SegmentTranscriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, float64, error)
}

// Notifier delivers pipeline events to users. presence.Directory satisfies it.
type Notifier interface {
	Emit(ctx context.Context, userID, event string, payload any) error
}

type segmentJob struct {
	seq int64
	pcm []byte
}

type callState struct {
	id   string
	info BeginInfo
	log  *logrus.Entry

	// mu serializes Chunk against End; the reader goroutine and the
	// teardown path both touch the framer and the accumulator.
	mu       sync.Mutex
	closed   bool
	framer   *audio.Framer
	detector *audio.EnergyDetector
	acc      *audio.Accumulator
	seq      int64

	jobs chan segmentJob
	wg   sync.WaitGroup

	// items collects per-segment transcripts in arrival order. Only the
	// worker goroutine writes here, so no lock is needed until End has
	// waited the worker out.
	items []models.TranscriptItem
}

// Manager owns the live audio connections. Each connection gets its own
// framer, voice detector, segment accumulator, and a single worker goroutine
// so segments of one call are transcribed strictly in order while the socket
// reader never blocks on the STT provider.
type Manager struct {
	transcriber SegmentTranscriber
	logs        services.SessionLogService
	segments    mongorepo.SegmentRepository
	notifier    Notifier
	cfg         Config
	log         *logrus.Logger

	mu    sync.Mutex
	conns map[string]*callState
}

func NewManager(
	transcriber SegmentTranscriber,
	logs services.SessionLogService,
	segments mongorepo.SegmentRepository,
	notifier Notifier,
	log *logrus.Logger,
	cfg Config,
) *Manager {
	if log == nil {
		log = logrus.New()
	}
	return &Manager{
		transcriber: transcriber,
		logs:        logs,
		segments:    segments,
		notifier:    notifier,
		cfg:         cfg.withDefaults(),
		log:         log,
		conns:       make(map[string]*callState),
	}
}

// Begin registers a connection and starts its segment worker. A second Begin
// on the same connection id is an error; the first stream keeps running.
func (m *Manager) Begin(connectionID string, info BeginInfo) error {
	const op = "Manager.Begin"

	if connectionID == "" || info.UserID == "" || info.PeerUserID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "connection id and both participants are required", nil)
	}
	if info.SessionTimestamp.IsZero() {
		info.SessionTimestamp = time.Now().UTC()
	}

	framer := audio.NewFramer(m.cfg.SampleRate, m.cfg.FrameMS)
	st := &callState{
		id:       connectionID,
		info:     info,
		log:      logger.ForConnection(m.log, connectionID, info.UserID),
		framer:   framer,
		detector: audio.NewEnergyDetector(),
		acc:      audio.NewAccumulator(framer.FrameBytes(), m.cfg.FrameMS, m.cfg.SilenceTail, m.cfg.MinSegment),
		jobs:     make(chan segmentJob, m.cfg.QueueSize),
	}

	m.mu.Lock()
	if _, exists := m.conns[connectionID]; exists {
		m.mu.Unlock()
		return utils.E(utils.CodeInvalidArgument, op, "stream already begun on this connection", nil)
	}
	m.conns[connectionID] = st
	m.mu.Unlock()

	st.wg.Add(1)
	go m.runWorker(st)

	st.log.Info("audio stream begun")
	return nil
}

// Chunk feeds raw PCM into a connection's pipeline. Chunks for an unknown or
// already-ended connection are dropped without error; the protocol tolerates
// stragglers around begin and end.
func (m *Manager) Chunk(connectionID string, pcm []byte) {
	m.mu.Lock()
	st := m.conns[connectionID]
	m.mu.Unlock()
	if st == nil || len(pcm) == 0 {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return
	}

	for _, frame := range st.framer.Push(pcm) {
		voiced := st.detector.IsSpeech(frame, st.framer.SampleRate())
		if seg := st.acc.Feed(frame, voiced); seg != nil {
			m.enqueue(st, seg)
		}
	}
}

// End finalizes a connection: the trailing segment is flushed through the
// worker, the worker is drained, and whatever survived transcription and
// filtering is persisted as one transcript flush. End is idempotent; a
// second call for the same connection returns (nil, nil).
func (m *Manager) End(ctx context.Context, connectionID string) (*models.SessionLog, error) {
	m.mu.Lock()
	st := m.conns[connectionID]
	delete(m.conns, connectionID)
	m.mu.Unlock()
	if st == nil {
		return nil, nil
	}

	st.mu.Lock()
	if seg := st.acc.Flush(); seg != nil {
		m.enqueue(st, seg)
	}
	st.closed = true
	close(st.jobs)
	st.mu.Unlock()

	st.wg.Wait()

	row, err := m.logs.Flush(ctx, services.FlushRequest{
		UserID:           st.info.UserID,
		PeerUserID:       st.info.PeerUserID,
		CallID:           st.info.CallID,
		SessionTimestamp: st.info.SessionTimestamp,
		Items:            st.items,
	})
	if err != nil {
		st.log.WithError(err).Error("transcript flush failed")
		return nil, err
	}

	st.log.WithField("segments", st.seq).Info("audio stream ended")
	return row, nil
}

// Disconnect is End for the abrupt path: the socket dropped without a
// pcm_end. The partial transcript is still flushed.
func (m *Manager) Disconnect(connectionID string) {
	if _, err := m.End(context.Background(), connectionID); err != nil {
		m.log.WithError(err).WithField("connection_id", connectionID).Error("flush on disconnect failed")
	}
}

// Shutdown ends every live connection. Used on process exit so in-flight
// calls are not lost.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if _, err := m.End(ctx, id); err != nil {
			m.log.WithError(err).WithField("connection_id", id).Error("flush on shutdown failed")
		}
	}
}

// enqueue assigns the segment its sequence number, writes the pending audit
// row, and hands it to the worker. Caller holds st.mu, so sequence numbers
// follow arrival order.
func (m *Manager) enqueue(st *callState, seg []byte) {
	st.seq++
	job := segmentJob{seq: st.seq, pcm: seg}

	if m.segments != nil {
		now := time.Now().UTC()
		err := m.segments.Insert(context.Background(), &models.CallSegment{
			ConnectionID: st.id,
			Seq:          job.seq,
			UserID:       st.info.UserID,
			PeerUserID:   st.info.PeerUserID,
			CallID:       st.info.CallID,
			DurationMS:   m.segmentDuration(len(seg)).Milliseconds(),
			Status:       "pending",
			Timestamp:    now,
			ExpiresAt:    now.Add(m.cfg.SegmentTTL),
		})
		if err != nil {
			st.log.WithError(err).WithField("seq", job.seq).Warn("segment audit insert failed")
		}
	}

	st.jobs <- job
}

func (m *Manager) runWorker(st *callState) {
	defer st.wg.Done()
	ctx := context.Background()

	for job := range st.jobs {
		m.processSegment(ctx, st, job)
	}
}

func (m *Manager) processSegment(ctx context.Context, st *callState, job segmentJob) {
	log := st.log.WithField("seq", job.seq)

	text, conf, err := m.transcriber.Transcribe(ctx, job.pcm)
	if err != nil {
		log.WithError(err).Error("segment transcription failed")
		m.markResult(st, job.seq, "", 0, "failed")
		m.notify(ctx, st, "transcribe_error", map[string]any{
			"seq":     job.seq,
			"message": err.Error(),
		})
		return
	}

	if transcribe.IsTrash(text) {
		log.WithField("text", text).Debug("segment dropped as noise")
		m.markResult(st, job.seq, text, conf, "trash")
		return
	}

	st.items = append(st.items, models.TranscriptItem{Text: text})
	m.markResult(st, job.seq, text, conf, "done")
	m.notify(ctx, st, "partial_transcript", map[string]any{
		"seq":        job.seq,
		"text":       text,
		"confidence": conf,
		"is_final":   true,
	})
}

func (m *Manager) markResult(st *callState, seq int64, text string, conf float64, status string) {
	if m.segments == nil {
		return
	}
	if err := m.segments.MarkResult(context.Background(), st.id, seq, text, conf, status); err != nil {
		st.log.WithError(err).WithField("seq", seq).Warn("segment audit update failed")
	}
}

func (m *Manager) notify(ctx context.Context, st *callState, event string, payload map[string]any) {
	if m.notifier == nil {
		return
	}
	for _, uid := range []string{st.info.UserID, st.info.PeerUserID} {
		if err := m.notifier.Emit(ctx, uid, event, payload); err != nil {
			st.log.WithError(err).WithField("event", event).Warn("event emit failed")
		}
	}
}

func (m *Manager) segmentDuration(segBytes int) time.Duration {
	bytesPerSecond := m.cfg.SampleRate * 2
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(segBytes) * time.Second / time.Duration(bytesPerSecond)
}
