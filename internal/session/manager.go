package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/ferhates/earshot/internal/audio"
	"github.com/ferhates/earshot/internal/config"
	"github.com/ferhates/earshot/pkg/logger"
)

// SinkFactory builds a HistorySink scoped to one session. May return
// nil to disable persistence.
type SinkFactory func(sessionID string) HistorySink

// Manager owns at most one active session at a time: its push channel,
// poll loop, capture pipeline, playback engine and reconciled state.
// Launching a session tears the previous one down completely first.
type Manager struct {
	cfg     *config.Config
	logger  *logger.Logger
	newSink SinkFactory

	mu      sync.Mutex
	current *activeSession
}

type activeSession struct {
	id         string
	reconciler *Reconciler
	channel    *Channel
	poller     *Poller
	capture    *audio.Capture
	player     *audio.Player
	sink       HistorySink

	// operator-local knobs; guarded separately so channel callbacks
	// never contend with the manager lock
	knobMu  sync.Mutex
	betSize float64
	muted   bool
}

// NewManager creates a session manager. newSink may be nil.
func NewManager(cfg *config.Config, newSink SinkFactory, log *logger.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  log.Named("session-mgr"),
		newSink: newSink,
	}
}

// Launch switches to the given session. Any previous session's
// transport, poll loop, microphone and playback context are released
// before the new one starts.
func (m *Manager) Launch(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardownLocked()

	var sink HistorySink
	if m.newSink != nil {
		sink = m.newSink(sessionID)
	}

	reconciler := NewReconciler(m.cfg.Session.TranscriptCap, sink, m.logger)
	reconciler.SetBetSize(m.cfg.Session.DefaultBetSize)

	player := audio.NewPlayer(audio.PlayerConfig{
		SampleRate:    m.cfg.Audio.SampleRate,
		JitterSamples: m.cfg.Audio.SampleRate * m.cfg.Audio.JitterDelayMS / 1000,
	}, m.logger)

	// No output device is not fatal: the session is still monitorable
	// through the transcript and state.
	if err := player.Start(); err != nil {
		m.logger.Warn("Playback unavailable", logger.Error(err))
	}

	s := &activeSession{
		id:         sessionID,
		reconciler: reconciler,
		player:     player,
		sink:       sink,
		betSize:    m.cfg.Session.DefaultBetSize,
	}

	channel := NewChannel(ChannelConfig{
		URL:              fmt.Sprintf(m.cfg.Session.WSURLTemplate, sessionID),
		RetryInterval:    time.Duration(m.cfg.Transport.RetryIntervalMS) * time.Millisecond,
		MaxAttempts:      m.cfg.Transport.MaxAttempts,
		HandshakeTimeout: time.Duration(m.cfg.Transport.HandshakeTimeoutSec) * time.Second,
	}, ChannelCallbacks{
		OnBinary:  player.EnqueuePCM16,
		OnMessage: reconciler.ApplyPush,
		OnOpen: func() {
			s.knobMu.Lock()
			bet := s.betSize
			s.knobMu.Unlock()
			if err := s.channel.SetBetSize(bet); err != nil {
				m.logger.Warn("Failed to sync bet size", logger.Error(err))
			}
		},
		OnStateChange: func(state ChannelState) {
			m.logger.Info("Transport state changed", logger.String("state", state.String()))
		},
		OnTerminalError: func(err error) {
			reconciler.SetConnectionError(err.Error())
		},
	}, m.logger)
	s.channel = channel

	s.poller = NewPoller(
		fmt.Sprintf(m.cfg.Session.PollURLTemplate, sessionID),
		time.Duration(m.cfg.Session.PollIntervalMS)*time.Millisecond,
		time.Duration(m.cfg.Session.PollTimeoutSec)*time.Second,
		reconciler.ApplyPoll,
		m.logger,
	)

	s.capture = audio.NewCapture(audio.CaptureConfig{
		SampleRate:    m.cfg.Audio.SampleRate,
		PacketSamples: m.cfg.Audio.PacketSamples,
		LowLatency:    m.cfg.Audio.LowLatency,
	}, func(packet []byte) {
		// Dropped when the channel is not open; stale audio has no value.
		_ = channel.SendAudio(packet)
	}, m.logger)

	m.current = s
	channel.Start()
	s.poller.Start()

	m.logger.Info("Session launched", logger.String("session_id", sessionID))
	return nil
}

// Teardown ends the active session, releasing every resource before
// returning.
func (m *Manager) Teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
}

func (m *Manager) teardownLocked() {
	s := m.current
	if s == nil {
		return
	}
	m.current = nil

	// Order matters: transport, polling, microphone, playback.
	s.channel.Close()
	s.poller.Stop()
	s.capture.Stop()
	s.player.Close()

	// No writers remain; flush the history sink if it holds resources.
	if closer, ok := s.sink.(interface{ Close() }); ok {
		closer.Close()
	}

	m.logger.Info("Session torn down", logger.String("session_id", s.id))
}

// Snapshot returns the active session's reconciled state.
func (m *Manager) Snapshot() (State, bool) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return State{}, false
	}
	return s.reconciler.Snapshot(), true
}

// SessionID returns the active session's ID.
func (m *Manager) SessionID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return "", false
	}
	return m.current.id, true
}

// StartMic acquires the microphone and begins streaming. Device and
// permission errors surface immediately; the pipeline stays off.
func (m *Manager) StartMic() error {
	s, err := m.active()
	if err != nil {
		return err
	}
	return s.capture.Start()
}

// StopMic releases the microphone.
func (m *Manager) StopMic() error {
	s, err := m.active()
	if err != nil {
		return err
	}
	s.capture.Stop()
	return nil
}

// MicActive reports whether the microphone is held.
func (m *Manager) MicActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.capture.Active()
}

// SetMuted toggles playback mute. Local only; nothing is sent.
func (m *Manager) SetMuted(muted bool) error {
	s, err := m.active()
	if err != nil {
		return err
	}
	s.knobMu.Lock()
	s.muted = muted
	s.knobMu.Unlock()
	s.player.SetMuted(muted)
	return nil
}

// SetBetSize records the bet size locally and syncs it to the server
// when the channel is open.
func (m *Manager) SetBetSize(dollars float64) error {
	s, err := m.active()
	if err != nil {
		return err
	}
	s.knobMu.Lock()
	s.betSize = dollars
	s.knobMu.Unlock()
	s.reconciler.SetBetSize(dollars)
	return s.channel.SetBetSize(dollars)
}

// SendDTMF forwards touch-tone digits.
func (m *Manager) SendDTMF(digits string) error {
	s, err := m.active()
	if err != nil {
		return err
	}
	return s.channel.SendDTMF(digits)
}

// Redial asks the server to re-dial.
func (m *Manager) Redial() error {
	s, err := m.active()
	if err != nil {
		return err
	}
	return s.channel.Redial()
}

// SetDetectionPaused pauses or resumes word detection.
func (m *Manager) SetDetectionPaused(paused bool) error {
	s, err := m.active()
	if err != nil {
		return err
	}
	return s.channel.SetDetectionPaused(paused)
}

// SetQAStarted marks Q&A as started.
func (m *Manager) SetQAStarted() error {
	s, err := m.active()
	if err != nil {
		return err
	}
	return s.channel.SetQAStarted()
}

// ForceCallEnd asks the server to hang up.
func (m *Manager) ForceCallEnd() error {
	s, err := m.active()
	if err != nil {
		return err
	}
	return s.channel.ForceCallEnd()
}

// GetTradingParams requests fresh trading parameters.
func (m *Manager) GetTradingParams() error {
	s, err := m.active()
	if err != nil {
		return err
	}
	return s.channel.GetTradingParams()
}

// ChannelState returns the push transport's state.
func (m *Manager) ChannelState() ChannelState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return ChannelIdle
	}
	return m.current.channel.State()
}

// ErrNoSession is returned by session-scoped operations when no
// session is active.
var ErrNoSession = fmt.Errorf("no active session")

func (m *Manager) active() (*activeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoSession
	}
	return m.current, nil
}
