package audio

import (
	"github.com/ferhates/earshot/internal/g711"
)

// Packetizer accumulates microphone samples and emits fixed-size mu-law
// packets. Emitted slices are handed off whole; the packetizer never
// touches a packet again after emitting it.
type Packetizer struct {
	packetSamples int
	buf           []byte
	emit          func([]byte)
}

// NewPacketizer creates a packetizer emitting packets of packetSamples
// encoded bytes through emit.
func NewPacketizer(packetSamples int, emit func([]byte)) *Packetizer {
	return &Packetizer{
		packetSamples: packetSamples,
		buf:           make([]byte, 0, packetSamples),
		emit:          emit,
	}
}

// Write encodes the given samples and emits a packet each time the
// accumulation threshold is reached. Called from the capture device's
// audio thread.
func (p *Packetizer) Write(samples []float32) {
	for _, s := range samples {
		p.buf = append(p.buf, g711.EncodeSample(s))
		if len(p.buf) >= p.packetSamples {
			pkt := p.buf
			p.buf = make([]byte, 0, p.packetSamples)
			p.emit(pkt)
		}
	}
}

// Pending returns the number of encoded bytes waiting for the next packet.
func (p *Packetizer) Pending() int {
	return len(p.buf)
}

// Reset drops any partially accumulated packet.
func (p *Packetizer) Reset() {
	p.buf = p.buf[:0]
}
