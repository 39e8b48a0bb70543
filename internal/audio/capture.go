package audio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/ferhates/earshot/internal/g711"
	"github.com/ferhates/earshot/pkg/logger"
)

// CaptureConfig configures the microphone pipeline.
type CaptureConfig struct {
	SampleRate    int
	PacketSamples int
	// LowLatency requests small device periods (half a packet) so a
	// packet completes across two callbacks instead of one. Without it
	// the device runs at its default period, roughly doubling latency.
	LowLatency bool
}

// Capture acquires the microphone at 8kHz mono, encodes samples to
// mu-law on the device's audio thread and emits fixed-size packets to
// the outbound sink. The sink owns each packet it receives.
type Capture struct {
	cfg    CaptureConfig
	sink   func([]byte)
	logger *logger.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	pkt    *Packetizer
	active bool
}

// NewCapture creates a microphone capture pipeline. Packets are emitted
// to sink from the audio thread; sink must not block.
func NewCapture(cfg CaptureConfig, sink func([]byte), logger *logger.Logger) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 8000
	}
	if cfg.PacketSamples <= 0 {
		cfg.PacketSamples = 256
	}
	return &Capture{
		cfg:    cfg,
		sink:   sink,
		logger: logger.Named("capture"),
	}
}

// Start acquires the device and begins emitting packets. Device and
// permission errors are returned immediately; there is no retry.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to init audio context: %w", err)
	}

	c.pkt = NewPacketizer(c.cfg.PacketSamples, c.sink)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.cfg.SampleRate)
	if c.cfg.LowLatency {
		deviceConfig.PeriodSizeInFrames = uint32(c.cfg.PacketSamples / 2)
		deviceConfig.PerformanceProfile = malgo.LowLatency
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, frameCount uint32) {
			c.pkt.Write(g711.DecodePCM16(data))
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("failed to start capture device: %w", err)
	}

	c.ctx = ctx
	c.device = device
	c.active = true

	c.logger.Info("Microphone capture started",
		logger.Int("sample_rate", c.cfg.SampleRate),
		logger.Int("packet_samples", c.cfg.PacketSamples),
		logger.Bool("low_latency", c.cfg.LowLatency))

	return nil
}

// Stop halts the hardware stream, releases the device and closes the
// audio context. All native resources are released before Stop returns,
// so start/stop cycles never leak.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}

	c.device.Stop()
	c.device.Uninit()
	c.ctx.Uninit()
	c.ctx.Free()

	c.device = nil
	c.ctx = nil
	c.pkt.Reset()
	c.active = false

	c.logger.Info("Microphone capture stopped")
}

// Active reports whether the microphone is currently held.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
