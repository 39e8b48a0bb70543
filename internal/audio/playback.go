package audio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/ferhates/earshot/internal/g711"
	"github.com/ferhates/earshot/pkg/logger"
)

// jitterScheduler maintains the single "next scheduled play time"
// cursor, in absolute sample units since playback started.
type jitterScheduler struct {
	cursor int64
	delay  int64
}

// Schedule returns the start position for a chunk of n samples arriving
// when the render clock reads now. A cursor at or behind now means the
// player caught up (or this is the first chunk), so it resynchronizes
// to now + delay instead of scheduling in the past.
func (s *jitterScheduler) Schedule(now int64, n int) int64 {
	if s.cursor <= now {
		s.cursor = now + s.delay
	}
	start := s.cursor
	s.cursor += int64(n)
	return start
}

// Reset clears the cursor so the next chunk resynchronizes from scratch.
func (s *jitterScheduler) Reset() {
	s.cursor = 0
}

// PlayerConfig configures the playback engine.
type PlayerConfig struct {
	SampleRate    int
	JitterSamples int // scheduling delay, in samples (default 400 = 50ms at 8kHz)
}

// Player renders inbound PCM16 chunks as continuous audio. Chunks are
// decoded and placed on the jitter scheduler's timeline; the device
// callback drains the timeline at the audio clock's pace, so playback
// timing is independent of control-plane jitter.
type Player struct {
	cfg    PlayerConfig
	logger *logger.Logger

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	sched    jitterScheduler
	pending  []float32 // scheduled samples, silence padding included
	rendered int64     // samples handed to the device since Start
	gain     float32
	started  bool

	// diagnostics only
	chunks int64
	bytes  int64
}

// NewPlayer creates a playback engine. Start must be called before any
// audio is audible; Enqueue before Start still schedules.
func NewPlayer(cfg PlayerConfig, logger *logger.Logger) *Player {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.JitterSamples <= 0 {
		cfg.JitterSamples = 400
	}
	return &Player{
		cfg:    cfg,
		logger: logger.Named("playback"),
		sched:  jitterScheduler{delay: int64(cfg.JitterSamples)},
		gain:   1,
	}
}

// Start opens the output device.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = 1
	deviceConfig.SampleRate = uint32(p.cfg.SampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			p.render(out, int(frameCount))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to init playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	p.ctx = ctx
	p.device = device
	p.started = true

	p.logger.Info("Playback started",
		logger.Int("sample_rate", p.cfg.SampleRate),
		logger.Int("jitter_samples", p.cfg.JitterSamples))

	return nil
}

// EnqueuePCM16 decodes a little-endian PCM16 chunk and schedules it.
// Consecutive chunks are contiguous as long as arrivals keep pace; a
// late burst resynchronizes to now + jitter delay.
func (p *Player) EnqueuePCM16(data []byte) {
	samples := g711.DecodePCM16(data)
	if len(samples) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.rendered
	tail := p.rendered + int64(len(p.pending))
	start := p.sched.Schedule(now, len(samples))

	// Silence padding covers the gap between the scheduled timeline's
	// tail and the chunk's start.
	if pad := start - tail; pad > 0 {
		p.pending = append(p.pending, make([]float32, pad)...)
	}
	p.pending = append(p.pending, samples...)

	p.chunks++
	p.bytes += int64(len(data))
}

// render fills the device buffer from the scheduled timeline, padding
// with silence once it runs dry. Runs on the device's audio thread.
func (p *Player) render(out []byte, frames int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	gain := p.gain
	n := len(p.pending)
	if n > frames {
		n = frames
	}
	for i := 0; i < n; i++ {
		s := p.pending[i] * gain
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	p.pending = p.pending[n:]
	for i := n; i < frames; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], 0)
	}
	p.rendered += int64(frames)
}

// SetGain sets the shared output gain.
func (p *Player) SetGain(gain float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gain = gain
}

// SetMuted mutes by zeroing the gain; scheduling continues untouched so
// unmuting resumes in place.
func (p *Player) SetMuted(muted bool) {
	if muted {
		p.SetGain(0)
	} else {
		p.SetGain(1)
	}
}

// Stats returns diagnostic counters: chunks scheduled and raw bytes received.
func (p *Player) Stats() (chunks, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chunks, p.bytes
}

// Close stops scheduling, resets the jitter cursor and releases the
// output device, leaving the player ready for a clean restart.
func (p *Player) Close() {
	p.mu.Lock()
	device, ctx := p.device, p.ctx
	p.device = nil
	p.ctx = nil
	p.started = false
	p.pending = nil
	p.rendered = 0
	p.sched.Reset()
	p.mu.Unlock()

	// Device teardown outside the lock: the data callback takes it.
	if device != nil {
		device.Stop()
		device.Uninit()
	}
	if ctx != nil {
		ctx.Uninit()
		ctx.Free()
	}

	p.logger.Info("Playback closed")
}
