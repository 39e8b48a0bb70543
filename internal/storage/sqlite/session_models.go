package sqlite

import "time"

// SegmentRecord is one persisted transcript entry for a session
type SegmentRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Timestamp float64   `json:"timestamp"` // seconds into the call
	IsEvent   bool      `json:"is_event"`
	EventType string    `json:"event_type,omitempty"`
	SpeakerID string    `json:"speaker_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WordEventRecord is one persisted trigger-word firing
type WordEventRecord struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"session_id"`
	MarketTicker string    `json:"market_ticker"`
	Word         string    `json:"word"`
	TriggeredAt  float64   `json:"triggered_at"` // seconds into the call
	NoPurchased  bool      `json:"no_purchased"`
	CreatedAt    time.Time `json:"created_at"`
}
