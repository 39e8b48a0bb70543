package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ferhates/earshot/pkg/logger"
)

// SessionStorage handles storage of session history records
type SessionStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewSessionStorage creates a new SQLite session storage
func NewSessionStorage(db *sql.DB, log *logger.Logger) *SessionStorage {
	storage := &SessionStorage{
		db:     db,
		logger: log.Named("sqlite-sessions"),
	}

	// Initialize database
	if err := storage.initDB(); err != nil {
		log.Error("Failed to initialize session storage", logger.Error(err))
	}

	return storage
}

// initDB initializes the database tables
func (s *SessionStorage) initDB() error {
	// Create transcript segments table
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS transcript_segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			text TEXT NOT NULL,
			timestamp REAL NOT NULL,
			is_event INTEGER NOT NULL DEFAULT 0,
			event_type TEXT,
			speaker_id TEXT,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create transcript_segments table: %w", err)
	}

	// Create word events table
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS word_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			market_ticker TEXT NOT NULL,
			word TEXT NOT NULL,
			triggered_at REAL NOT NULL,
			no_purchased INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create word_events table: %w", err)
	}

	// Create indexes for performance
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_segments_session_id ON transcript_segments(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_timestamp ON transcript_segments(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_word_events_session_id ON word_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_word_events_ticker ON word_events(market_ticker)`,
	}

	for _, indexSQL := range indexes {
		_, err = s.db.Exec(indexSQL)
		if err != nil {
			return fmt.Errorf("failed to create session storage index: %w", err)
		}
	}

	return nil
}

// StoreSegment stores a finalized transcript segment
func (s *SessionStorage) StoreSegment(record *SegmentRecord) (int64, error) {
	// Insert record
	result, err := s.db.Exec(
		`INSERT INTO transcript_segments
		(session_id, text, timestamp, is_event, event_type, speaker_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		record.Text,
		record.Timestamp,
		record.IsEvent,
		record.EventType,
		record.SpeakerID,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transcript segment: %w", err)
	}

	// Get ID
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// StoreWordEvent stores a trigger-word firing
func (s *SessionStorage) StoreWordEvent(record *WordEventRecord) (int64, error) {
	// Insert record
	result, err := s.db.Exec(
		`INSERT INTO word_events
		(session_id, market_ticker, word, triggered_at, no_purchased, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		record.MarketTicker,
		record.Word,
		record.TriggeredAt,
		record.NoPurchased,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert word event: %w", err)
	}

	// Get ID
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetSegmentsBySession returns the stored transcript for a session in
// call order
func (s *SessionStorage) GetSegmentsBySession(sessionID string, limit int) ([]*SegmentRecord, error) {
	// Query records
	rows, err := s.db.Query(
		`SELECT id, session_id, text, timestamp, is_event, event_type, speaker_id, created_at
		FROM transcript_segments
		WHERE session_id = ?
		ORDER BY timestamp ASC
		LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments by session: %w", err)
	}
	defer rows.Close()

	return s.scanSegmentRows(rows)
}

// GetSegmentsByTimeRange returns a session's segments within a window
// of call time
func (s *SessionStorage) GetSegmentsByTimeRange(sessionID string, start, end float64) ([]*SegmentRecord, error) {
	// Query records
	rows, err := s.db.Query(
		`SELECT id, session_id, text, timestamp, is_event, event_type, speaker_id, created_at
		FROM transcript_segments
		WHERE session_id = ? AND timestamp BETWEEN ? AND ?
		ORDER BY timestamp ASC`,
		sessionID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments by time range: %w", err)
	}
	defer rows.Close()

	return s.scanSegmentRows(rows)
}

// GetWordEventsBySession returns the trigger firings for a session
func (s *SessionStorage) GetWordEventsBySession(sessionID string) ([]*WordEventRecord, error) {
	// Query records
	rows, err := s.db.Query(
		`SELECT id, session_id, market_ticker, word, triggered_at, no_purchased, created_at
		FROM word_events
		WHERE session_id = ?
		ORDER BY triggered_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query word events by session: %w", err)
	}
	defer rows.Close()

	return s.scanWordEventRows(rows)
}

// scanSegmentRows scans database rows into SegmentRecord structs
func (s *SessionStorage) scanSegmentRows(rows *sql.Rows) ([]*SegmentRecord, error) {
	var records []*SegmentRecord
	for rows.Next() {
		var record SegmentRecord
		var createdAt string
		var eventType, speakerID sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.Text,
			&record.Timestamp,
			&record.IsEvent,
			&eventType,
			&speakerID,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		// Parse timestamps
		var err error
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		// Handle nullable fields
		if eventType.Valid {
			record.EventType = eventType.String
		}
		if speakerID.Valid {
			record.SpeakerID = speakerID.String
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}

// scanWordEventRows scans database rows into WordEventRecord structs
func (s *SessionStorage) scanWordEventRows(rows *sql.Rows) ([]*WordEventRecord, error) {
	var records []*WordEventRecord
	for rows.Next() {
		var record WordEventRecord
		var createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.MarketTicker,
			&record.Word,
			&record.TriggeredAt,
			&record.NoPurchased,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan word event: %w", err)
		}

		// Parse timestamps
		var err error
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		records = append(records, &record)
	}

	return records, rows.Err()
}
