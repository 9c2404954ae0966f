package adns3080

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/syringelab/flowtrack/comm"
)

func newTestSensor(t *testing.T) (*Sensor, *Simulator) {
	t.Helper()
	sim := NewSimulator(1)
	s, err := New(comm.NewRegisterBus(sim, nil), sim)
	if err != nil {
		t.Fatal(err)
	}
	s.sleep = func(time.Duration) {}
	return s, sim
}

func ready(t *testing.T, s *Sensor) {
	t.Helper()
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Identify(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Configure(); err != nil {
		t.Fatal(err)
	}
}

func ExampleDecodeDelta() {
	fmt.Println(DecodeDelta(0x05), DecodeDelta(0x7f), DecodeDelta(0x80), DecodeDelta(0xfe), DecodeDelta(0xff))
	// Output: 5 127 -127 -1 0
}

func TestDecodeDeltaAllBytes(t *testing.T) {
	for i := 0; i < 256; i++ {
		b := byte(i)
		expected := i
		if i >= 128 {
			expected = i - 255
		}
		if got := DecodeDelta(b); got != expected {
			t.Errorf("DecodeDelta(0x%02x) = %d, expected %d", b, got, expected)
		}
	}
}

func TestDecodeFrameMasksOddOffsets(t *testing.T) {
	for _, v := range []byte{0x00, 0x01, 0x3f, 0x40, 0x7f, 0xc5, 0xff} {
		raw := make([]byte, CaptureLen)
		for i := range raw {
			if i%2 == 1 {
				raw[i] = v
			} else {
				raw[i] = 0xaa // junk on the address clocks must be ignored
			}
		}
		f, err := DecodeFrame(raw)
		if err != nil {
			t.Fatal(err)
		}
		for y := 0; y < PixelsY; y++ {
			for x := 0; x < PixelsX; x++ {
				if f.At(x, y) != v&PixelMask {
					t.Fatalf("v=0x%02x: pixel (%d,%d) = 0x%02x, expected 0x%02x", v, x, y, f.At(x, y), v&PixelMask)
				}
			}
		}
	}
}

func TestDecodeFrameRowMajor(t *testing.T) {
	raw := make([]byte, CaptureLen)
	raw[2*31+1] = 9 // pixel 31 is row 1, column 1
	f, err := DecodeFrame(raw)
	if err != nil {
		t.Fatal(err)
	}
	if f.At(1, 1) != 9 {
		t.Errorf("expected pixel 31 at (1,1), got %d", f.At(1, 1))
	}
}

func TestDecodeFrameShort(t *testing.T) {
	if _, err := DecodeFrame(make([]byte, 10)); !errors.Is(err, ErrShortRead) {
		t.Errorf("expected ErrShortRead, got %v", err)
	}
}

func TestFrameImageScales(t *testing.T) {
	var f Frame
	f.Pix[2][3] = 63
	img := f.Image()
	if got := img.GrayAt(3, 2).Y; got != 252 {
		t.Errorf("expected 63*4=252, got %d", got)
	}
}

func TestFrameChecksumIgnoresTime(t *testing.T) {
	var a, b Frame
	a.Pix[0][0], b.Pix[0][0] = 5, 5
	b.Captured = time.Now()
	if a.Checksum() != b.Checksum() {
		t.Error("checksums of identical pixels differ")
	}
	b.Pix[0][1] = 1
	if a.Checksum() == b.Checksum() {
		t.Error("checksums of different pixels collide")
	}
}

func TestMotionFlags(t *testing.T) {
	m, err := DecodeMotion([]byte{0x90, 1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Overflow() || !m.Moved() {
		t.Errorf("expected both flags from 0x90, got overflow=%v moved=%v", m.Overflow(), m.Moved())
	}
}

func TestNewRequiresOpenBus(t *testing.T) {
	if _, err := New(nil, NewSimulator(0)); !errors.Is(err, ErrNoBus) {
		t.Errorf("expected ErrNoBus for nil bus, got %v", err)
	}
	bus := comm.NewRegisterBus(NewSimulator(0), nil)
	bus.Close()
	if _, err := New(bus, NewSimulator(0)); !errors.Is(err, ErrNoBus) {
		t.Errorf("expected ErrNoBus for closed bus, got %v", err)
	}
}

func TestResetPulse(t *testing.T) {
	s, sim := newTestSensor(t)
	var waits []time.Duration
	s.sleep = func(d time.Duration) { waits = append(waits, d) }
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if sim.Resets() != 1 {
		t.Errorf("expected one reset edge, got %d", sim.Resets())
	}
	if len(waits) != 2 || waits[0] < 10*time.Microsecond || waits[1] < 500*time.Microsecond {
		t.Errorf("reset timing wrong: %v", waits)
	}
}

func TestIdentifyDiscardsFirstRead(t *testing.T) {
	s, _ := newTestSensor(t)
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	id, err := s.Identify()
	if err != nil {
		t.Fatal(err)
	}
	if !id.Match || id.ProductID != ProductID {
		t.Errorf("expected match on second read, got %+v", id)
	}
}

func TestIdentifyMismatchIsNotAnError(t *testing.T) {
	bus := comm.NewRegisterBus(constConn(0x42), nil)
	s, err := New(bus, NewSimulator(0))
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Identify()
	if err != nil {
		t.Fatalf("mismatch must not be an error, got %v", err)
	}
	if id.Match {
		t.Error("0x42 reported as a match")
	}
}

func TestConfigureSetsResolution(t *testing.T) {
	s, _ := newTestSensor(t)
	res, err := s.Configure()
	if err != nil {
		t.Fatal(err)
	}
	if res != CPI1600 {
		t.Errorf("expected 1600 cpi, got %v", res)
	}
}

func TestConfigureReportsRejectedBit(t *testing.T) {
	s, err := New(comm.NewRegisterBus(constConn(0x00), nil), NewSimulator(0))
	if err != nil {
		t.Fatal(err)
	}
	res, err := s.Configure()
	if err != nil {
		t.Fatal(err)
	}
	if res != CPI400 {
		t.Errorf("expected 400 cpi when the bit does not stick, got %v", res)
	}
}

func TestReadsRequireConfigure(t *testing.T) {
	s, _ := newTestSensor(t)
	if _, err := s.ReadMotion(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	ready(t, s)
	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CaptureFrame(); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady after reset, got %v", err)
	}
}

func TestCaptureFrameFromSimulator(t *testing.T) {
	s, sim := newTestSensor(t)
	ready(t, s)
	f, err := s.CaptureFrame()
	if err != nil {
		t.Fatal(err)
	}
	if sim.Captures() != 1 {
		t.Errorf("expected one capture, got %d", sim.Captures())
	}
	if f.At(0, 0) != 0 || f.At(5, 2) != 7 {
		t.Errorf("unexpected gradient: (0,0)=%d (5,2)=%d", f.At(0, 0), f.At(5, 2))
	}
	if f.Captured.IsZero() {
		t.Error("capture time not set")
	}
}

func TestReadMotionOverflow(t *testing.T) {
	s, sim := newTestSensor(t)
	ready(t, s)
	sim.Push([MotionBurstLen]byte{0x90, 0x05, 0x05, 0x20})
	m, err := s.ReadMotion()
	if !errors.Is(err, ErrMotionOverflow) {
		t.Fatalf("expected ErrMotionOverflow, got %v", err)
	}
	if m.DX != 5 {
		t.Errorf("the discarded sample should still be decoded, got %+v", m)
	}
}

func TestReadMotion(t *testing.T) {
	s, sim := newTestSensor(t)
	ready(t, s)
	sim.Push([MotionBurstLen]byte{0x80, 0x03, 0xfd, 0x40})
	m, err := s.ReadMotion()
	if err != nil {
		t.Fatal(err)
	}
	if !m.Moved() || m.DX != 3 || m.DY != -2 || m.SurfaceQuality != 0x40 {
		t.Errorf("unexpected sample %+v", m)
	}
}

// constConn answers every read with the same byte and ignores writes
type constConn byte

func (c constConn) Tx(w, r []byte) error {
	for i := range r {
		r[i] = byte(c)
	}
	return nil
}
