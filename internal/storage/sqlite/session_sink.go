package sqlite

import (
	"time"

	"github.com/ferhates/earshot/internal/session"
	"github.com/ferhates/earshot/pkg/logger"
)

const sinkQueueSize = 256

// SessionSink adapts SessionStorage to the reconciler's history sink.
// Writes are queued and performed on a single background goroutine so
// the reconciler never blocks on the database.
type SessionSink struct {
	storage   *SessionStorage
	sessionID string
	logger    *logger.Logger

	queue chan func()
	done  chan struct{}
}

// NewSessionSink creates a sink that persists one session's history.
func NewSessionSink(storage *SessionStorage, sessionID string, log *logger.Logger) *SessionSink {
	s := &SessionSink{
		storage:   storage,
		sessionID: sessionID,
		logger:    log.Named("session-sink"),
		queue:     make(chan func(), sinkQueueSize),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *SessionSink) run() {
	defer close(s.done)
	for write := range s.queue {
		write()
	}
}

// enqueue hands a write to the background goroutine. A full queue drops
// the write: history is best-effort, the live session must not stall.
func (s *SessionSink) enqueue(write func()) {
	select {
	case s.queue <- write:
	default:
		s.logger.Warn("History queue full, dropping write",
			logger.String("session_id", s.sessionID))
	}
}

// SegmentFinalized persists a finalized transcript segment.
func (s *SessionSink) SegmentFinalized(seg session.TranscriptSegment) {
	record := &SegmentRecord{
		SessionID: s.sessionID,
		Text:      seg.Text,
		Timestamp: seg.Timestamp,
		IsEvent:   seg.IsEvent,
		EventType: string(seg.EventType),
		SpeakerID: seg.SpeakerID,
		CreatedAt: time.Now().UTC(),
	}
	s.enqueue(func() {
		if _, err := s.storage.StoreSegment(record); err != nil {
			s.logger.Error("Failed to store transcript segment", logger.Error(err))
		}
	})
}

// WordTriggered persists a trigger-word firing.
func (s *SessionSink) WordTriggered(word session.WordStatus) {
	triggeredAt := 0.0
	if word.TriggeredAt != nil {
		triggeredAt = *word.TriggeredAt
	}
	record := &WordEventRecord{
		SessionID:    s.sessionID,
		MarketTicker: word.MarketTicker,
		Word:         word.Word,
		TriggeredAt:  triggeredAt,
		NoPurchased:  word.NoPurchased,
		CreatedAt:    time.Now().UTC(),
	}
	s.enqueue(func() {
		if _, err := s.storage.StoreWordEvent(record); err != nil {
			s.logger.Error("Failed to store word event", logger.Error(err))
		}
	})
}

// Close drains queued writes and stops the background goroutine.
func (s *SessionSink) Close() {
	close(s.queue)
	<-s.done
}
