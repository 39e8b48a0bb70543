package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ferhates/earshot/pkg/logger"
)

// ErrNotConnected is reported to callers attempting to send while the
// transport is not open. It is a result, not a failure: intents while
// disconnected are no-ops.
var ErrNotConnected = errors.New("not connected")

// wsConn is the slice of *websocket.Conn the channel uses; tests
// substitute their own.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteJSON(v interface{}) error
	Close() error
}

// ChannelConfig configures one logical push connection.
type ChannelConfig struct {
	URL              string
	RetryInterval    time.Duration
	MaxAttempts      int
	HandshakeTimeout time.Duration
}

// ChannelCallbacks route channel activity outward. All callbacks run on
// the channel's goroutine, in arrival order.
type ChannelCallbacks struct {
	// OnBinary receives raw audio frames.
	OnBinary func(data []byte)
	// OnMessage receives decoded text frames.
	OnMessage func(msg Inbound)
	// OnOpen fires after each successful handshake, after the
	// capability negotiation has been sent.
	OnOpen func()
	// OnStateChange observes transport state transitions.
	OnStateChange func(state ChannelState)
	// OnTerminalError fires once when the connection gives up for good.
	OnTerminalError func(err error)
}

// Channel owns one push transport instance: connect, bounded retry,
// dispatch, teardown. A new session gets a wholly new Channel; this one
// never dials again once closed.
type Channel struct {
	cfg       ChannelConfig
	callbacks ChannelCallbacks
	logger    *logger.Logger

	// dial is swapped in tests
	dial func() (wsConn, error)

	mu       sync.Mutex
	state    ChannelState
	conn     wsConn
	attempts int
	everOpen bool
	started  bool

	writeMu sync.Mutex

	closing chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewChannel creates a channel in the idle state; Start launches it.
func NewChannel(cfg ChannelConfig, callbacks ChannelCallbacks, log *logger.Logger) *Channel {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 2 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 15
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	c := &Channel{
		cfg:       cfg,
		callbacks: callbacks,
		logger:    log.Named("channel"),
		state:     ChannelIdle,
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.dial = func() (wsConn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
		conn, _, err := dialer.Dial(cfg.URL, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
	return c
}

// State returns the transport state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the connection loop.
func (c *Channel) Start() {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go c.run()
}

func (c *Channel) run() {
	defer close(c.done)

	for {
		if c.isClosing() {
			c.setState(ChannelClosed)
			return
		}

		c.setState(ChannelConnecting)
		conn, err := c.dial()
		if err != nil {
			if c.isClosing() {
				c.setState(ChannelClosed)
				return
			}

			c.mu.Lock()
			c.attempts++
			attempts := c.attempts
			c.mu.Unlock()

			if attempts > c.cfg.MaxAttempts {
				c.logger.Error("Giving up on push channel",
					logger.Int("attempts", attempts),
					logger.Error(err))
				c.setState(ChannelClosed)
				if c.callbacks.OnTerminalError != nil {
					c.callbacks.OnTerminalError(fmt.Errorf("connection failed after %d attempts: %w", attempts, err))
				}
				return
			}

			c.logger.Warn("Push channel connect failed, retrying",
				logger.Int("attempt", attempts),
				logger.Duration("retry_in", c.cfg.RetryInterval),
				logger.Error(err))

			select {
			case <-c.closing:
				c.setState(ChannelClosed)
				return
			case <-time.After(c.cfg.RetryInterval):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.attempts = 0
		c.everOpen = true
		c.mu.Unlock()
		c.setState(ChannelOpen)

		c.logger.Info("Push channel open", logger.String("url", c.cfg.URL))

		// Capability negotiation, then session-scoped parameter sync,
		// then a full resync: no ordering is assumed across reconnects.
		c.sendTag("enable_audio_stream")
		if c.callbacks.OnOpen != nil {
			c.callbacks.OnOpen()
		}
		c.sendTag("get_current_state")

		readErr := c.readLoop(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
		c.setState(ChannelClosed)

		if c.isClosing() || isNormalClose(readErr) {
			c.logger.Info("Push channel closed")
			return
		}

		// Abnormal close after the channel reached open: terminal for
		// this connection instance. A new session starts a new one.
		c.logger.Error("Push channel closed abnormally", logger.Error(readErr))
		if c.callbacks.OnTerminalError != nil {
			c.callbacks.OnTerminalError(readErr)
		}
		return
	}
}

// readLoop dispatches frames until the connection fails or closes.
// Binary frames go to the playback path, text frames to the reconciler;
// malformed or unknown messages are dropped, never fatal.
func (c *Channel) readLoop(conn wsConn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		switch messageType {
		case websocket.BinaryMessage:
			if c.callbacks.OnBinary != nil {
				c.callbacks.OnBinary(data)
			}
		case websocket.TextMessage:
			msg, err := DecodeInbound(data)
			if err != nil {
				c.logger.Warn("Dropping malformed message", logger.Error(err))
				continue
			}
			if msg == nil {
				c.logger.Debug("Ignoring unknown message tag")
				continue
			}
			if c.callbacks.OnMessage != nil {
				c.callbacks.OnMessage(msg)
			}
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

func (c *Channel) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *Channel) setState(state ChannelState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	if c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(state)
	}
}

// openConn returns the live connection, or nil if the channel is not open.
func (c *Channel) openConn() wsConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != ChannelOpen {
		return nil
	}
	return c.conn
}

func (c *Channel) send(msg outboundMessage) error {
	conn := c.openConn()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Channel) sendTag(tag string) {
	if err := c.send(outboundMessage{Type: tag}); err != nil {
		c.logger.Warn("Failed to send control message",
			logger.String("type", tag),
			logger.Error(err))
	}
}

// SendAudio forwards one encoded microphone packet. Packets sent while
// the channel is not open are dropped: stale audio has no value.
func (c *Channel) SendAudio(packet []byte) error {
	conn := c.openConn()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, packet); err != nil {
		return fmt.Errorf("failed to send audio packet: %w", err)
	}
	return nil
}

// Operator intents. Each is a no-op returning ErrNotConnected while the
// transport is not open.

func (c *Channel) EnableAudioStream() error { return c.send(outboundMessage{Type: "enable_audio_stream"}) }

// GetTradingParams requests the current trading parameters.
func (c *Channel) GetTradingParams() error { return c.send(outboundMessage{Type: "get_trading_params"}) }

// GetCurrentState requests a full-state resync.
func (c *Channel) GetCurrentState() error { return c.send(outboundMessage{Type: "get_current_state"}) }

// SetBetSize syncs the server-side bet size.
func (c *Channel) SetBetSize(dollars float64) error {
	return c.send(outboundMessage{Type: "set_bet_size", Dollars: &dollars})
}

// SendDTMF sends touch-tone digits into the call.
func (c *Channel) SendDTMF(digits string) error {
	return c.send(outboundMessage{Type: "send_dtmf", Digits: digits})
}

// Redial asks the server to re-dial the call.
func (c *Channel) Redial() error { return c.send(outboundMessage{Type: "redial"}) }

// SetDetectionPaused pauses or resumes word detection.
func (c *Channel) SetDetectionPaused(paused bool) error {
	return c.send(outboundMessage{Type: "set_detection_paused", Paused: &paused})
}

// SetQAStarted marks the Q&A portion of the call as started.
func (c *Channel) SetQAStarted() error { return c.send(outboundMessage{Type: "set_qa_started"}) }

// ForceCallEnd asks the server to hang up.
func (c *Channel) ForceCallEnd() error { return c.send(outboundMessage{Type: "force_call_end"}) }

// Close tears the connection down and waits for the loop to exit. The
// channel is unusable afterwards.
func (c *Channel) Close() {
	c.once.Do(func() {
		close(c.closing)
		c.mu.Lock()
		conn := c.conn
		started := c.started
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		if !started {
			close(c.done)
		}
	})
	<-c.done
}
