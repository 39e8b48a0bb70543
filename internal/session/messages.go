package session

import (
	"encoding/json"
	"fmt"
)

// Inbound is a typed, tagged message received on the push channel.
type Inbound interface {
	inboundTag() string
}

// CallInfo is the call sub-tree of a full-state snapshot.
type CallInfo struct {
	State              CallState       `json:"state"`
	StatusMessage      string          `json:"status_message"`
	DetectionPaused    bool            `json:"detection_paused"`
	QAStarted          bool            `json:"qa_started"`
	QADetectionEnabled bool            `json:"qa_detection_enabled"`
	Speakers           *SpeakerSummary `json:"speakers,omitempty"`
}

// FullStateMessage replaces entire state sub-trees.
type FullStateMessage struct {
	Call       CallInfo              `json:"call"`
	Words      []WordStatus          `json:"words"`
	PNL        TradingParamsMessage  `json:"pnl"`
	Transcript []TranscriptSegment   `json:"transcript"`
	AutoDial   *bool                 `json:"auto_dial,omitempty"`
}

func (FullStateMessage) inboundTag() string { return "full_state" }

// TranscriptMessage is a partial or final speech fragment.
type TranscriptMessage struct {
	Text      string  `json:"text"`
	IsFinal   bool    `json:"is_final"`
	SpeakerID string  `json:"speaker_id,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

func (TranscriptMessage) inboundTag() string { return "transcript" }

// WordTriggeredMessage marks one tracked word as heard.
type WordTriggeredMessage struct {
	MarketTicker string  `json:"market_ticker"`
	Timestamp    float64 `json:"timestamp"`
}

func (WordTriggeredMessage) inboundTag() string { return "word_triggered" }

// EventMessage is a session event rendered into the transcript.
type EventMessage struct {
	Message   string    `json:"message"`
	EventType EventType `json:"event_type"`
	Timestamp float64   `json:"timestamp"`
}

func (EventMessage) inboundTag() string { return "event" }

// SpeakerChangeMessage announces the current speaker.
type SpeakerChangeMessage struct {
	SpeakerID   string  `json:"speaker_id"`
	SpeakerName string  `json:"speaker_name,omitempty"`
	Timestamp   float64 `json:"timestamp"`
}

func (SpeakerChangeMessage) inboundTag() string { return "speaker_change" }

// DisconnectAlertMessage is a remote-reported error.
type DisconnectAlertMessage struct {
	Message string `json:"message"`
}

func (DisconnectAlertMessage) inboundTag() string { return "disconnect_alert" }

// AudioActiveMessage reports whether the server is streaming call audio.
type AudioActiveMessage struct {
	Active bool `json:"active"`
}

func (AudioActiveMessage) inboundTag() string { return "audio_active" }

// TradingParamsMessage updates the operator's trading parameters.
type TradingParamsMessage struct {
	CashBalance   float64 `json:"cash_balance"`
	AvailableCash float64 `json:"available_cash"`
	MinTrade      float64 `json:"min_trade"`
}

func (TradingParamsMessage) inboundTag() string { return "trading_params" }

// DecodeInbound parses a text frame into a typed message. Unknown tags
// return (nil, nil): they are ignored, never fatal.
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to parse message envelope: %w", err)
	}

	var msg Inbound
	var err error
	switch envelope.Type {
	case "full_state":
		var m FullStateMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case "transcript":
		var m TranscriptMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case "word_triggered":
		var m WordTriggeredMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case "event":
		var m EventMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case "speaker_change":
		var m SpeakerChangeMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case "disconnect_alert":
		var m DisconnectAlertMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case "audio_active":
		var m AudioActiveMessage
		err = json.Unmarshal(data, &m)
		msg = m
	case "trading_params":
		var m TradingParamsMessage
		err = json.Unmarshal(data, &m)
		msg = m
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s message: %w", envelope.Type, err)
	}
	return msg, nil
}

// outboundMessage is the wire shape for operator intents. Optional
// payload fields are pointers so absent ones are omitted.
type outboundMessage struct {
	Type    string   `json:"type"`
	Dollars *float64 `json:"dollars,omitempty"`
	Digits  string   `json:"digits,omitempty"`
	Paused  *bool    `json:"paused,omitempty"`
}

// PollStatus is the point-in-time session status returned by the
// fallback poll endpoint.
type PollStatus struct {
	CallState          CallState       `json:"call_state"`
	StatusMessage      string          `json:"status_message"`
	QAStarted          bool            `json:"qa_started"`
	DetectionPaused    bool            `json:"detection_paused"`
	Speakers           *SpeakerSummary `json:"speakers,omitempty"`
	TranscriptSegments int             `json:"transcript_segments"`
	TranscriptPreview  string          `json:"transcript_preview,omitempty"`
	AudioActive        *bool           `json:"audio_active,omitempty"`
	ContainerStatus    string          `json:"container_status,omitempty"`
	LastError          string          `json:"last_error,omitempty"`
}
