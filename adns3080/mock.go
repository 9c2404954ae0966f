package adns3080

import (
	"math/rand"
	"sync"

	"periph.io/x/conn/v3/gpio"
)

// Simulator is an in-memory ADNS-3080.  It satisfies comm.Conn and ResetPin,
// so it can stand in for both the SPI link and the reset line.
//
// It mimics the behaviors the driver depends on:
//   - the first product ID read after a reset returns 0x00
//   - the resolution bit of the configuration register sticks
//   - after a frame capture is triggered, motion bursts read as zero until reset
//   - motion bursts come from a queue, or from a seeded random walk when the queue is empty
type Simulator struct {
	mu sync.Mutex

	config    byte
	stale     bool
	frameMode bool
	phase     int
	queue     [][MotionBurstLen]byte
	rng       *rand.Rand
	level     gpio.Level

	resets   int
	captures int
	bursts   int
}

// NewSimulator returns a simulator whose random walk is seeded with seed
func NewSimulator(seed int64) *Simulator {
	s := &Simulator{rng: rand.New(rand.NewSource(seed))}
	s.powerOn()
	return s
}

func (s *Simulator) powerOn() {
	s.config = 0x09
	s.stale = true
	s.frameMode = false
}

// Push queues raw motion bursts, returned in order before the random walk resumes
func (s *Simulator) Push(bursts ...[MotionBurstLen]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, bursts...)
}

// Resets is the number of completed reset pulses
func (s *Simulator) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Captures is the number of frame transfers served
func (s *Simulator) Captures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.captures
}

// Bursts is the number of motion bursts served
func (s *Simulator) Bursts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bursts
}

// Out drives the reset line; a falling edge resets the part
func (s *Simulator) Out(l gpio.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.level == gpio.High && l == gpio.Low {
		s.powerOn()
		s.resets++
	}
	s.level = l
	return nil
}

// Tx implements comm.Conn
func (s *Simulator) Tx(w, r []byte) error {
	if len(w) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	addr := w[0]
	if addr&0x80 != 0 {
		s.write(addr&^0x80, w[1:])
		return nil
	}
	if len(r) == 0 {
		return nil
	}
	r[0] = 0
	payload := r[1:]
	switch addr {
	case RegProductID:
		v := byte(ProductID)
		if s.stale {
			v = 0
			s.stale = false
		}
		fill(payload, v)
	case RegConfigurationBits:
		fill(payload, s.config)
	case RegMotionBurst:
		s.motion(payload)
	case RegFrameCapture:
		s.frame(r)
	default:
		fill(payload, 0)
	}
	return nil
}

func (s *Simulator) write(reg byte, payload []byte) {
	if len(payload) == 0 {
		return
	}
	switch reg {
	case RegConfigurationBits:
		s.config = payload[0]
	case RegFrameCapture:
		if payload[0] == FrameCaptureTrigger {
			s.frameMode = true
		}
	}
}

func (s *Simulator) motion(out []byte) {
	s.bursts++
	var b [MotionBurstLen]byte
	switch {
	case s.frameMode:
	case len(s.queue) > 0:
		b = s.queue[0]
		s.queue = s.queue[1:]
	default:
		dx, dy := s.rng.Intn(7)-3, s.rng.Intn(7)-3
		if dx != 0 || dy != 0 {
			b[0] = 0x80
		}
		b[1], b[2], b[3] = encodeDelta(dx), encodeDelta(dy), byte(64+s.rng.Intn(64))
	}
	copy(out, b[:])
}

// frame fills a full capture transfer, pixels at odd offsets.  The image is a
// diagonal gradient that drifts one step per capture.
func (s *Simulator) frame(r []byte) {
	if !s.frameMode {
		fill(r[1:], 0)
		return
	}
	s.captures++
	for i := 1; i < len(r); i += 2 {
		px := (i - 1) / 2
		x, y := px%PixelsX, px/PixelsX
		r[i] = byte((x + y + s.phase) % (PixelMask + 1))
	}
	s.phase++
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// encodeDelta is the inverse of DecodeDelta for |v| <= 127
func encodeDelta(v int) byte {
	if v >= 0 {
		return byte(v)
	}
	return byte(v + 0xff)
}
