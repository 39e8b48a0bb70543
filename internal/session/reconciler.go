package session

import (
	"sync"

	"github.com/ferhates/earshot/pkg/logger"
)

const (
	defaultTranscriptCap = 500
	// partialStalenessSec is how long a dangling partial survives once
	// a final fragment lands.
	partialStalenessSec = 5.0
	maxRoster           = 16
)

// HistorySink receives durable session history as the reconciler
// commits it. Implementations must not block.
type HistorySink interface {
	SegmentFinalized(seg TranscriptSegment)
	WordTriggered(word WordStatus)
}

// Reconciler folds push messages and poll responses into one coherent
// State. Push is authoritative; poll fills gaps and never regresses
// fields push has populated.
type Reconciler struct {
	logger        *logger.Logger
	sink          HistorySink
	transcriptCap int

	mu    sync.RWMutex
	state State

	// authority tracking: once push has populated a sub-tree, poll
	// stops touching it
	pushCallSeen     bool
	pushSpeakersSeen bool
	pushAudioSeen    bool
}

// NewReconciler creates a reconciler. sink may be nil.
func NewReconciler(transcriptCap int, sink HistorySink, log *logger.Logger) *Reconciler {
	if transcriptCap <= 0 {
		transcriptCap = defaultTranscriptCap
	}
	r := &Reconciler{
		logger:        log.Named("reconciler"),
		sink:          sink,
		transcriptCap: transcriptCap,
		state: State{
			CallState: CallWaiting,
			Trading:   TradingInfo{},
		},
	}
	return r
}

// Snapshot returns a deep copy of the current state.
func (r *Reconciler) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// ApplyPush applies one push-channel message.
func (r *Reconciler) ApplyPush(msg Inbound) {
	if msg == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m := msg.(type) {
	case FullStateMessage:
		r.applyFullState(m)
	case TranscriptMessage:
		r.mergeFragment(TranscriptSegment{
			Text:      m.Text,
			Timestamp: m.Timestamp,
			IsFinal:   m.IsFinal,
			SpeakerID: m.SpeakerID,
		})
	case WordTriggeredMessage:
		r.applyWordTriggered(m)
	case EventMessage:
		r.appendEvent(TranscriptSegment{
			Text:      m.Message,
			Timestamp: m.Timestamp,
			IsFinal:   true,
			IsEvent:   true,
			EventType: m.EventType,
		})
	case SpeakerChangeMessage:
		r.applySpeakerChange(m)
	case DisconnectAlertMessage:
		r.state.StatusMessage = m.Message
		r.state.LastError = m.Message
		r.state.AudioActive = false
	case AudioActiveMessage:
		r.state.AudioActive = m.Active
		r.pushAudioSeen = true
	case TradingParamsMessage:
		r.applyTradingParams(m)
	default:
		r.logger.Debug("Ignoring unhandled push message",
			logger.String("tag", msg.inboundTag()))
	}
}

func (r *Reconciler) applyFullState(m FullStateMessage) {
	r.state.CallState = m.Call.State
	r.state.StatusMessage = m.Call.StatusMessage
	r.state.DetectionPaused = m.Call.DetectionPaused
	r.state.QAStarted = m.Call.QAStarted
	r.state.QADetectionEnabled = m.Call.QADetectionEnabled
	r.pushCallSeen = true

	if m.Call.Speakers != nil {
		r.state.Speakers = *m.Call.Speakers
		r.pushSpeakersSeen = true
	}

	r.state.Words = make([]WordStatus, len(m.Words))
	copy(r.state.Words, m.Words)

	r.state.Transcript = append([]TranscriptSegment(nil), m.Transcript...)
	r.evictTranscript()

	r.applyTradingParams(m.PNL)
}

func (r *Reconciler) applyTradingParams(m TradingParamsMessage) {
	r.state.Trading.CashBalance = m.CashBalance
	r.state.Trading.AvailableCash = m.AvailableCash
	r.state.Trading.MinTrade = m.MinTrade
}

func (r *Reconciler) applyWordTriggered(m WordTriggeredMessage) {
	for i := range r.state.Words {
		if r.state.Words[i].MarketTicker != m.MarketTicker {
			continue
		}
		r.state.Words[i].Triggered = true
		ts := m.Timestamp
		r.state.Words[i].TriggeredAt = &ts
		if r.sink != nil {
			r.sink.WordTriggered(r.state.Words[i])
		}
		return
	}
	// Server/client skew: unknown tickers are ignored.
	r.logger.Debug("Trigger for unknown market ticker",
		logger.String("market_ticker", m.MarketTicker))
}

func (r *Reconciler) applySpeakerChange(m SpeakerChangeMessage) {
	name := m.SpeakerName
	if name == "" {
		name = m.SpeakerID
	}
	r.state.Speakers.CurrentSpeaker = name
	r.pushSpeakersSeen = true

	known := false
	for _, s := range r.state.Speakers.Roster {
		if s == name {
			known = true
			break
		}
	}
	if !known && len(r.state.Speakers.Roster) < maxRoster {
		r.state.Speakers.Roster = append(r.state.Speakers.Roster, name)
	}

	r.appendEvent(TranscriptSegment{
		Text:      name,
		Timestamp: m.Timestamp,
		IsFinal:   true,
		IsEvent:   true,
		EventType: EventSpeakerChange,
		SpeakerID: m.SpeakerID,
	})
}

// mergeFragment applies the transcript merge rule for speech fragments:
// only the single most recent partial is ever visible, and a final
// fragment sweeps superseded or stale partials before appending.
func (r *Reconciler) mergeFragment(seg TranscriptSegment) {
	t := r.state.Transcript

	if seg.IsFinal {
		kept := t[:0]
		for i, existing := range t {
			if !existing.IsFinal && !existing.IsEvent {
				superseded := i == len(t)-1
				stale := seg.Timestamp-existing.Timestamp > partialStalenessSec
				if superseded || stale {
					continue
				}
			}
			kept = append(kept, existing)
		}
		r.state.Transcript = append(kept, seg)
		r.evictTranscript()
		if r.sink != nil {
			r.sink.SegmentFinalized(seg)
		}
		return
	}

	// Partial: replace the trailing partial in place, else append.
	if n := len(t); n > 0 && !t[n-1].IsFinal && !t[n-1].IsEvent {
		t[n-1] = seg
		return
	}
	r.state.Transcript = append(t, seg)
	r.evictTranscript()
}

// appendEvent adds an event segment; events are exempt from the
// partial/final replacement rule.
func (r *Reconciler) appendEvent(seg TranscriptSegment) {
	r.state.Transcript = append(r.state.Transcript, seg)
	r.evictTranscript()
	if r.sink != nil {
		r.sink.SegmentFinalized(seg)
	}
}

func (r *Reconciler) evictTranscript() {
	if over := len(r.state.Transcript) - r.transcriptCap; over > 0 {
		r.state.Transcript = append([]TranscriptSegment(nil), r.state.Transcript[over:]...)
	}
}

// ApplyPoll applies a fallback poll response. Poll only fills fields
// push has never populated; a stale poll idle state never downgrades a
// push-reported active call.
func (r *Reconciler) ApplyPoll(st PollStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.pushCallSeen {
		if st.CallState != "" {
			r.state.CallState = st.CallState
		}
		r.state.StatusMessage = st.StatusMessage
		r.state.QAStarted = st.QAStarted
		r.state.DetectionPaused = st.DetectionPaused

		if len(r.state.Transcript) == 0 && st.TranscriptPreview != "" {
			r.state.Transcript = append(r.state.Transcript, TranscriptSegment{
				Text:    st.TranscriptPreview,
				IsFinal: false,
			})
		}
	}

	if !r.pushSpeakersSeen && st.Speakers != nil {
		r.state.Speakers = *st.Speakers
	}

	if !r.pushAudioSeen && st.AudioActive != nil {
		r.state.AudioActive = *st.AudioActive
	}

	// Remote-reported errors always surface, whatever the source.
	if st.LastError != "" {
		r.state.LastError = st.LastError
		r.state.AudioActive = false
	}
}

// SetBetSize records the operator's local bet size.
func (r *Reconciler) SetBetSize(dollars float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Trading.BetSize = dollars
}

// SetConnectionError surfaces a terminal transport error to observers.
func (r *Reconciler) SetConnectionError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.ConnectionError = msg
}
