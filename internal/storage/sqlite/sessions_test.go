package sqlite

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ferhates/earshot/internal/session"
	"github.com/ferhates/earshot/pkg/logger"
)

func testStorage(t *testing.T) *SessionStorage {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	return NewSessionStorage(db, log)
}

func TestStoreAndGetSegments(t *testing.T) {
	storage := testStorage(t)
	now := time.Now().UTC().Truncate(time.Second)

	records := []*SegmentRecord{
		{SessionID: "acme-q3", Text: "welcome to the call", Timestamp: 1.5, SpeakerID: "spk0", CreatedAt: now},
		{SessionID: "acme-q3", Text: "trade executed", Timestamp: 3.0, IsEvent: true, EventType: "trade", CreatedAt: now},
		{SessionID: "other", Text: "unrelated", Timestamp: 2.0, CreatedAt: now},
	}
	for _, r := range records {
		if _, err := storage.StoreSegment(r); err != nil {
			t.Fatalf("failed to store segment: %v", err)
		}
	}

	got, err := storage.GetSegmentsBySession("acme-q3", 100)
	if err != nil {
		t.Fatalf("failed to get segments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d segments, want 2", len(got))
	}
	if got[0].Text != "welcome to the call" || got[1].Text != "trade executed" {
		t.Errorf("segments out of order: %q, %q", got[0].Text, got[1].Text)
	}
	if !got[1].IsEvent || got[1].EventType != "trade" {
		t.Errorf("event flags not round-tripped: %+v", got[1])
	}
	if got[0].SpeakerID != "spk0" {
		t.Errorf("speaker id not round-tripped: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", got[0].CreatedAt, now)
	}
}

func TestGetSegmentsByTimeRange(t *testing.T) {
	storage := testStorage(t)
	now := time.Now().UTC()

	for _, ts := range []float64{1, 5, 10, 20} {
		_, err := storage.StoreSegment(&SegmentRecord{
			SessionID: "acme-q3", Text: "x", Timestamp: ts, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("failed to store segment: %v", err)
		}
	}

	got, err := storage.GetSegmentsByTimeRange("acme-q3", 4, 11)
	if err != nil {
		t.Fatalf("failed to get segments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d segments in range, want 2", len(got))
	}
	if got[0].Timestamp != 5 || got[1].Timestamp != 10 {
		t.Errorf("range = [%v, %v], want [5, 10]", got[0].Timestamp, got[1].Timestamp)
	}
}

func TestStoreAndGetWordEvents(t *testing.T) {
	storage := testStorage(t)
	now := time.Now().UTC()

	_, err := storage.StoreWordEvent(&WordEventRecord{
		SessionID:    "acme-q3",
		MarketTicker: "AI-24",
		Word:         "artificial intelligence",
		TriggeredAt:  42.5,
		NoPurchased:  true,
		CreatedAt:    now,
	})
	if err != nil {
		t.Fatalf("failed to store word event: %v", err)
	}

	got, err := storage.GetWordEventsBySession("acme-q3")
	if err != nil {
		t.Fatalf("failed to get word events: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d word events, want 1", len(got))
	}
	if got[0].MarketTicker != "AI-24" || got[0].TriggeredAt != 42.5 || !got[0].NoPurchased {
		t.Errorf("word event not round-tripped: %+v", got[0])
	}
}

func TestSessionSinkPersistsHistory(t *testing.T) {
	storage := testStorage(t)

	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	sink := NewSessionSink(storage, "acme-q3", log)

	ts := 12.5
	sink.SegmentFinalized(session.TranscriptSegment{Text: "guidance raised", Timestamp: 9, IsFinal: true})
	sink.WordTriggered(session.WordStatus{
		MarketTicker: "GROWTH-24",
		Word:         "growth",
		Triggered:    true,
		TriggeredAt:  &ts,
	})
	sink.Close()

	segments, err := storage.GetSegmentsBySession("acme-q3", 10)
	if err != nil {
		t.Fatalf("failed to get segments: %v", err)
	}
	if len(segments) != 1 || segments[0].Text != "guidance raised" {
		t.Errorf("segments = %+v, want one finalized segment", segments)
	}

	events, err := storage.GetWordEventsBySession("acme-q3")
	if err != nil {
		t.Fatalf("failed to get word events: %v", err)
	}
	if len(events) != 1 || events[0].TriggeredAt != 12.5 {
		t.Errorf("events = %+v, want one trigger at 12.5", events)
	}
}
