package session

import (
	"testing"

	"github.com/ferhates/earshot/pkg/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return log
}

func newTestReconciler(t *testing.T) *Reconciler {
	t.Helper()
	return NewReconciler(0, nil, testLogger(t))
}

func countTrailingPartials(t []TranscriptSegment) int {
	n := 0
	for _, seg := range t {
		if !seg.IsFinal && !seg.IsEvent {
			n++
		}
	}
	return n
}

func TestTranscriptSingleTrailingPartial(t *testing.T) {
	r := newTestReconciler(t)

	// Arbitrary interleaving of partials, finals and events: at most
	// one non-final, non-event segment may exist, and only at the tail.
	fragments := []Inbound{
		TranscriptMessage{Text: "hel", IsFinal: false, Timestamp: 1.0},
		TranscriptMessage{Text: "hello", IsFinal: false, Timestamp: 1.2},
		TranscriptMessage{Text: "hello there", IsFinal: true, Timestamp: 1.4},
		EventMessage{Message: "trade executed", EventType: EventTrade, Timestamp: 1.7},
		TranscriptMessage{Text: "how", IsFinal: false, Timestamp: 1.9},
		TranscriptMessage{Text: "how are", IsFinal: false, Timestamp: 2.0},
		TranscriptMessage{Text: "how are you", IsFinal: true, Timestamp: 2.1},
		TranscriptMessage{Text: "fine", IsFinal: false, Timestamp: 2.3},
	}

	for i, msg := range fragments {
		r.ApplyPush(msg)
		st := r.Snapshot()
		if got := countTrailingPartials(st.Transcript); got > 1 {
			t.Fatalf("after fragment %d: %d partials in transcript, want at most 1", i, got)
		}
		for j, seg := range st.Transcript {
			if !seg.IsFinal && !seg.IsEvent && j != len(st.Transcript)-1 {
				t.Fatalf("after fragment %d: partial at position %d, only tail may be partial", i, j)
			}
		}
	}

	st := r.Snapshot()
	want := []string{"hello there", "trade executed", "how are you", "fine"}
	if len(st.Transcript) != len(want) {
		t.Fatalf("transcript has %d segments, want %d: %+v", len(st.Transcript), len(want), st.Transcript)
	}
	for i, text := range want {
		if st.Transcript[i].Text != text {
			t.Errorf("segment %d: got %q, want %q", i, st.Transcript[i].Text, text)
		}
	}
}

func TestFinalReplacesPartialThenNewPartialAppends(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPush(TranscriptMessage{Text: "par", IsFinal: false, Timestamp: 1})
	r.ApplyPush(TranscriptMessage{Text: "partial done", IsFinal: true, Timestamp: 2})
	r.ApplyPush(TranscriptMessage{Text: "next", IsFinal: false, Timestamp: 3})

	st := r.Snapshot()
	if len(st.Transcript) != 2 {
		t.Fatalf("transcript has %d segments, want 2", len(st.Transcript))
	}
	if !st.Transcript[0].IsFinal || st.Transcript[0].Text != "partial done" {
		t.Errorf("segment 0 = %+v, want final %q", st.Transcript[0], "partial done")
	}
	if st.Transcript[1].IsFinal || st.Transcript[1].Text != "next" {
		t.Errorf("segment 1 = %+v, want partial %q", st.Transcript[1], "next")
	}
}

func TestPartialReplacedInPlace(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPush(TranscriptMessage{Text: "a", IsFinal: false, Timestamp: 1})
	r.ApplyPush(TranscriptMessage{Text: "ab", IsFinal: false, Timestamp: 1.1})
	r.ApplyPush(TranscriptMessage{Text: "abc", IsFinal: false, Timestamp: 1.2})

	st := r.Snapshot()
	if len(st.Transcript) != 1 {
		t.Fatalf("transcript has %d segments, want 1", len(st.Transcript))
	}
	if st.Transcript[0].Text != "abc" {
		t.Errorf("partial = %q, want %q", st.Transcript[0].Text, "abc")
	}
}

func TestEventsExemptFromReplacement(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPush(EventMessage{Message: "call started", EventType: EventStateChange, Timestamp: 1})
	r.ApplyPush(TranscriptMessage{Text: "hi", IsFinal: false, Timestamp: 2})
	r.ApplyPush(EventMessage{Message: "qa", EventType: EventQAStarted, Timestamp: 3})
	r.ApplyPush(TranscriptMessage{Text: "hi there", IsFinal: false, Timestamp: 4})

	st := r.Snapshot()
	// Events are never replaced; the second partial appends after the
	// event rather than overwriting it.
	texts := make([]string, len(st.Transcript))
	for i, seg := range st.Transcript {
		texts[i] = seg.Text
	}
	want := []string{"call started", "hi", "qa", "hi there"}
	if len(texts) != len(want) {
		t.Fatalf("transcript = %v, want %v", texts, want)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Fatalf("transcript = %v, want %v", texts, want)
		}
	}
}

func TestStalePartialSweptByFinal(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPush(TranscriptMessage{Text: "orphan", IsFinal: false, Timestamp: 1})
	r.ApplyPush(EventMessage{Message: "speaker", EventType: EventSpeakerChange, Timestamp: 2})
	// Final arrives well past the staleness window; the orphan partial
	// buried behind the event is swept.
	r.ApplyPush(TranscriptMessage{Text: "settled", IsFinal: true, Timestamp: 10})

	st := r.Snapshot()
	for _, seg := range st.Transcript {
		if seg.Text == "orphan" {
			t.Fatalf("stale partial survived: %+v", st.Transcript)
		}
	}
}

func TestTranscriptBounded(t *testing.T) {
	r := NewReconciler(10, nil, testLogger(t))
	for i := 0; i < 50; i++ {
		r.ApplyPush(TranscriptMessage{Text: "x", IsFinal: true, Timestamp: float64(i)})
	}
	st := r.Snapshot()
	if len(st.Transcript) != 10 {
		t.Fatalf("transcript has %d segments, want cap 10", len(st.Transcript))
	}
	if st.Transcript[len(st.Transcript)-1].Timestamp != 49 {
		t.Errorf("newest segment missing after eviction")
	}
}

func TestWordTriggeredMutatesExactlyOne(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplyPush(FullStateMessage{
		Words: []WordStatus{
			{MarketTicker: "GROWTH-24", Word: "growth"},
			{MarketTicker: "AI-24", Word: "artificial intelligence"},
			{MarketTicker: "MARGIN-24", Word: "margin"},
		},
	})

	r.ApplyPush(WordTriggeredMessage{MarketTicker: "AI-24", Timestamp: 12.5})

	st := r.Snapshot()
	for _, w := range st.Words {
		if w.MarketTicker == "AI-24" {
			if !w.Triggered || w.TriggeredAt == nil || *w.TriggeredAt != 12.5 {
				t.Errorf("AI-24 not triggered correctly: %+v", w)
			}
		} else if w.Triggered || w.TriggeredAt != nil {
			t.Errorf("%s mutated by foreign trigger: %+v", w.MarketTicker, w)
		}
	}
}

func TestWordTriggeredUnknownTickerIgnored(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplyPush(FullStateMessage{Words: []WordStatus{{MarketTicker: "GROWTH-24"}}})
	r.ApplyPush(WordTriggeredMessage{MarketTicker: "NOPE-24"})

	st := r.Snapshot()
	if st.Words[0].Triggered {
		t.Errorf("unknown ticker trigger mutated an entry")
	}
}

func TestPollNeverDowngradesPushCallState(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPush(FullStateMessage{Call: CallInfo{State: CallInProgress, StatusMessage: "live"}})

	idle := false
	r.ApplyPoll(PollStatus{CallState: CallDisconnected, StatusMessage: "idle", AudioActive: &idle})

	st := r.Snapshot()
	if st.CallState != CallInProgress {
		t.Fatalf("poll downgraded call state to %q", st.CallState)
	}
	if st.StatusMessage != "live" {
		t.Errorf("poll overwrote status message: %q", st.StatusMessage)
	}
}

func TestPollFillsGapsBeforePush(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPoll(PollStatus{
		CallState:         CallConnecting,
		StatusMessage:     "dialing",
		Speakers:          &SpeakerSummary{ValidCount: 2, CurrentSpeaker: "CEO"},
		TranscriptPreview: "welcome everyone",
	})

	st := r.Snapshot()
	if st.CallState != CallConnecting {
		t.Errorf("call state = %q, want connecting", st.CallState)
	}
	if st.Speakers.CurrentSpeaker != "CEO" {
		t.Errorf("poll speakers not adopted: %+v", st.Speakers)
	}
	if len(st.Transcript) != 1 || st.Transcript[0].Text != "welcome everyone" {
		t.Errorf("transcript preview not adopted: %+v", st.Transcript)
	}
}

func TestPollSpeakersIgnoredAfterPushSpeakers(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPush(SpeakerChangeMessage{SpeakerID: "spk1", SpeakerName: "CFO", Timestamp: 5})
	r.ApplyPoll(PollStatus{Speakers: &SpeakerSummary{CurrentSpeaker: "stale"}})

	st := r.Snapshot()
	if st.Speakers.CurrentSpeaker != "CFO" {
		t.Errorf("poll regressed push speakers: %q", st.Speakers.CurrentSpeaker)
	}
}

func TestPollLastErrorAlwaysSurfaces(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPush(FullStateMessage{Call: CallInfo{State: CallInProgress}})
	r.ApplyPush(AudioActiveMessage{Active: true})

	r.ApplyPoll(PollStatus{LastError: "worker restarted"})

	st := r.Snapshot()
	if st.LastError != "worker restarted" {
		t.Errorf("remote error not surfaced: %q", st.LastError)
	}
	if st.AudioActive {
		t.Errorf("audio_active not forced false on remote error")
	}
}

func TestDisconnectAlertForcesAudioInactive(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplyPush(AudioActiveMessage{Active: true})
	r.ApplyPush(DisconnectAlertMessage{Message: "carrier dropped"})

	st := r.Snapshot()
	if st.AudioActive {
		t.Errorf("audio still active after disconnect alert")
	}
	if st.StatusMessage != "carrier dropped" {
		t.Errorf("alert message not surfaced: %q", st.StatusMessage)
	}
}

func TestFullStateReplacesSubTrees(t *testing.T) {
	r := newTestReconciler(t)

	r.ApplyPush(TranscriptMessage{Text: "old", IsFinal: true, Timestamp: 1})
	r.ApplyPush(FullStateMessage{
		Call:       CallInfo{State: CallQASession, QAStarted: true},
		Words:      []WordStatus{{MarketTicker: "T", Word: "tariff"}},
		PNL:        TradingParamsMessage{CashBalance: 5000, AvailableCash: 4200, MinTrade: 10},
		Transcript: []TranscriptSegment{{Text: "fresh", IsFinal: true, Timestamp: 9}},
	})

	st := r.Snapshot()
	if st.CallState != CallQASession || !st.QAStarted {
		t.Errorf("call sub-tree not replaced: %+v", st)
	}
	if len(st.Transcript) != 1 || st.Transcript[0].Text != "fresh" {
		t.Errorf("transcript not replaced wholesale: %+v", st.Transcript)
	}
	if st.Trading.CashBalance != 5000 || st.Trading.AvailableCash != 4200 {
		t.Errorf("trading params not applied: %+v", st.Trading)
	}
}

type recordingSink struct {
	finals   []TranscriptSegment
	triggers []WordStatus
}

func (s *recordingSink) SegmentFinalized(seg TranscriptSegment) { s.finals = append(s.finals, seg) }
func (s *recordingSink) WordTriggered(w WordStatus)             { s.triggers = append(s.triggers, w) }

func TestSinkReceivesFinalsAndTriggers(t *testing.T) {
	sink := &recordingSink{}
	r := NewReconciler(0, sink, testLogger(t))

	r.ApplyPush(FullStateMessage{Words: []WordStatus{{MarketTicker: "T", Word: "tariff"}}})
	r.ApplyPush(TranscriptMessage{Text: "partial", IsFinal: false, Timestamp: 1})
	r.ApplyPush(TranscriptMessage{Text: "final", IsFinal: true, Timestamp: 2})
	r.ApplyPush(WordTriggeredMessage{MarketTicker: "T", Timestamp: 3})

	if len(sink.finals) != 1 || sink.finals[0].Text != "final" {
		t.Errorf("sink finals = %+v, want one final segment", sink.finals)
	}
	if len(sink.triggers) != 1 || sink.triggers[0].MarketTicker != "T" {
		t.Errorf("sink triggers = %+v, want one trigger", sink.triggers)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	r := newTestReconciler(t)
	r.ApplyPush(FullStateMessage{Words: []WordStatus{{MarketTicker: "T", Word: "tariff"}}})

	st := r.Snapshot()
	st.Words[0].Triggered = true
	st.Transcript = append(st.Transcript, TranscriptSegment{Text: "rogue"})

	fresh := r.Snapshot()
	if fresh.Words[0].Triggered {
		t.Errorf("snapshot mutation leaked into reconciler state")
	}
	if len(fresh.Transcript) != 0 {
		t.Errorf("snapshot transcript shares storage with reconciler")
	}
}
