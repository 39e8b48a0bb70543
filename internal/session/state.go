package session

// CallState is the remote phone/stream session's state as reported by
// the server. Orthogonal to the transport's own channel state: the
// channel describes the pipe, the call state describes what it carries.
type CallState string

const (
	CallWaiting      CallState = "waiting"
	CallConnecting   CallState = "connecting"
	CallInProgress   CallState = "in_progress"
	CallQASession    CallState = "qa_session"
	CallDisconnected CallState = "disconnected"
	CallSweepingNo   CallState = "sweeping_no"
	CallCompleted    CallState = "completed"
)

// ChannelState is the push transport's lifecycle state.
type ChannelState int

const (
	ChannelIdle ChannelState = iota
	ChannelConnecting
	ChannelOpen
	ChannelClosed
)

// String returns the string representation of the channel state.
func (s ChannelState) String() string {
	switch s {
	case ChannelIdle:
		return "idle"
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TranscriptSegment is one entry in the session transcript: a partial
// or final speech fragment, or an event marker.
type TranscriptSegment struct {
	Text      string    `json:"text"`
	Timestamp float64   `json:"timestamp"` // seconds, monotonic per session
	IsFinal   bool      `json:"is_final"`
	IsEvent   bool      `json:"is_event"`
	EventType EventType `json:"event_type,omitempty"`
	SpeakerID string    `json:"speaker_id,omitempty"`
}

// EventType tags event segments.
type EventType string

const (
	EventStateChange   EventType = "state_change"
	EventTrade         EventType = "trade"
	EventQAStarted     EventType = "qa_started"
	EventCallEnd       EventType = "call_end"
	EventSpeakerChange EventType = "speaker_change"
)

// WordStatus tracks one trigger word and its market. Created when a
// session is selected, mutated in place by trigger events, never
// removed while the session lives.
type WordStatus struct {
	MarketTicker string   `json:"market_ticker"`
	Word         string   `json:"word"`
	Variants     []string `json:"variants,omitempty"`
	Triggered    bool     `json:"triggered"`
	TriggeredAt  *float64 `json:"triggered_at,omitempty"`
	NoPurchased  bool     `json:"no_purchased"`
}

// SpeakerSummary describes who is talking on the call.
type SpeakerSummary struct {
	ValidCount     int      `json:"valid_count"`
	InvalidCount   int      `json:"invalid_count"`
	CurrentSpeaker string   `json:"current_speaker,omitempty"`
	Roster         []string `json:"roster,omitempty"`
}

// TradingInfo carries the operator's trading parameters.
type TradingInfo struct {
	CashBalance   float64 `json:"cash_balance"`
	AvailableCash float64 `json:"available_cash"`
	MinTrade      float64 `json:"min_trade"`
	BetSize       float64 `json:"bet_size"`
}

// State is the reconciled session view. The Reconciler is its single
// owner; everyone else reads snapshots.
type State struct {
	CallState          CallState           `json:"call_state"`
	StatusMessage      string              `json:"status_message,omitempty"`
	DetectionPaused    bool                `json:"detection_paused"`
	QAStarted          bool                `json:"qa_started"`
	QADetectionEnabled bool                `json:"qa_detection_enabled"`
	AudioActive        bool                `json:"audio_active"`
	Speakers           SpeakerSummary      `json:"speakers"`
	Transcript         []TranscriptSegment `json:"transcript"`
	Words              []WordStatus        `json:"words"`
	Trading            TradingInfo         `json:"trading"`
	ConnectionError    string              `json:"connection_error,omitempty"`
	LastError          string              `json:"last_error,omitempty"`
}

// clone deep-copies the state so observers never share slices with the
// reconciler.
func (s *State) clone() State {
	out := *s
	out.Transcript = append([]TranscriptSegment(nil), s.Transcript...)
	out.Words = make([]WordStatus, len(s.Words))
	for i, w := range s.Words {
		out.Words[i] = w
		out.Words[i].Variants = append([]string(nil), w.Variants...)
		if w.TriggeredAt != nil {
			ts := *w.TriggeredAt
			out.Words[i].TriggeredAt = &ts
		}
	}
	out.Speakers.Roster = append([]string(nil), s.Speakers.Roster...)
	return out
}
