/*Package adns3080 provides a driver for the Avago ADNS-3080 optical flow sensor on an SPI bus.

The sensor runs in one of two acquisition modes.  After a frame capture it
stays in frame mode until it is reset, so a caller alternating between frames
and motion must Reset, Identify and Configure in between.
*/
package adns3080

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/syringelab/flowtrack/util"
	"periph.io/x/conn/v3/gpio"
)

// register map
const (
	RegProductID         = 0x00
	RegConfigurationBits = 0x0a
	RegFrameCapture      = 0x13
	RegMotionBurst       = 0x50
)

const (
	// ProductID is the expected content of RegProductID
	ProductID = 0x17

	// FrameCaptureTrigger is written to RegFrameCapture to start a capture
	FrameCaptureTrigger = 0x83

	// PixelsX is the frame width
	PixelsX = 30

	// PixelsY is the frame height
	PixelsY = 30

	// PixelMask selects the valid bits of a pixel
	PixelMask = 0x3f

	// DisplayScale maps 6 bit samples onto the 8 bit range
	DisplayScale = 4

	resolutionBit     = 4 // 0x10 in RegConfigurationBits
	motionOverflowBit = 4
	motionDetectedBit = 7
)

// datasheet timing
const (
	ResetPulse    = 10 * time.Microsecond
	ResetSettle   = 500 * time.Microsecond
	FrameExposure = 1510 * time.Microsecond
)

var (
	// ErrNoBus is generated when a sensor is created without an open bus
	ErrNoBus = errors.New("adns3080: bus is not open, sensor not initialized")

	// ErrNoResetPin is generated when a sensor is created without a reset line
	ErrNoResetPin = errors.New("adns3080: no reset pin")

	// ErrNotReady is generated when a capture or motion read is attempted before Configure
	ErrNotReady = errors.New("adns3080: sensor not configured since last reset")

	// ErrMotionOverflow is generated when the motion counters overflowed.  The sample should be discarded.
	ErrMotionOverflow = errors.New("adns3080: motion overflow")

	// ErrShortRead is generated when a transfer returns fewer bytes than expected
	ErrShortRead = errors.New("adns3080: short read")
)

// Resolution is the sensor resolution in counts per inch
type Resolution int

const (
	// CPI400 is the power-on resolution
	CPI400 Resolution = 400

	// CPI1600 is selected by the resolution bit
	CPI1600 Resolution = 1600
)

func (r Resolution) String() string {
	return fmt.Sprintf("%d cpi", int(r))
}

// Identity is the result of a product ID check
type Identity struct {
	ProductID byte `json:"productId"`
	Match     bool `json:"match"`
}

// Bus is the register transport the sensor talks over.  *comm.RegisterBus satisfies it.
type Bus interface {
	Read(reg byte, n int) ([]byte, error)
	Write(reg byte, payload ...byte) error
	Transfer(w []byte) ([]byte, error)
	IsOpen() bool
}

// ResetPin drives the sensor's active-high reset line
type ResetPin interface {
	Out(l gpio.Level) error
}

// Sensor is an ADNS-3080.  Methods are serialized; two operations never overlap on the bus.
type Sensor struct {
	bus   Bus
	reset ResetPin

	mu    sync.Mutex
	ready bool

	// sleep is swapped in tests
	sleep func(time.Duration)
}

// New returns a sensor on an open bus.  Reset, Identify and Configure must be called before reading.
func New(bus Bus, reset ResetPin) (*Sensor, error) {
	if bus == nil || !bus.IsOpen() {
		return nil, ErrNoBus
	}
	if reset == nil {
		return nil, ErrNoResetPin
	}
	return &Sensor{bus: bus, reset: reset, sleep: time.Sleep}, nil
}

// Reset pulses the reset line and waits for the sensor to come back
func (s *Sensor) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	if err := s.reset.Out(gpio.High); err != nil {
		return pkgerrors.Wrap(err, "adns3080: raising reset")
	}
	s.sleep(ResetPulse)
	if err := s.reset.Out(gpio.Low); err != nil {
		return pkgerrors.Wrap(err, "adns3080: lowering reset")
	}
	s.sleep(ResetSettle)
	return nil
}

// Identify reads the product ID.  A mismatch is logged and reported, not returned as an error.
func (s *Sensor) Identify() (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bus.IsOpen() {
		return Identity{}, ErrNoBus
	}
	// the first read after a reset returns junk on some parts; discard it
	if _, err := s.bus.Read(RegProductID, 1); err != nil {
		return Identity{}, err
	}
	resp, err := s.bus.Read(RegProductID, 1)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{ProductID: resp[0], Match: resp[0] == ProductID}
	if id.Match {
		log.Printf("adns3080: found, product id 0x%02x", id.ProductID)
	} else {
		log.Printf("adns3080: product id 0x%02x does not match 0x%02x", id.ProductID, ProductID)
	}
	return id, nil
}

// Configure sets the 1600 cpi resolution bit and reports what the sensor accepted
func (s *Sensor) Configure() (Resolution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.bus.IsOpen() {
		return 0, ErrNoBus
	}
	cfg, err := s.bus.Read(RegConfigurationBits, 1)
	if err != nil {
		return 0, err
	}
	if err = s.bus.Write(RegConfigurationBits, util.SetBit(cfg[0], resolutionBit, true)); err != nil {
		return 0, err
	}
	cfg, err = s.bus.Read(RegConfigurationBits, 1)
	if err != nil {
		return 0, err
	}
	res := CPI400
	if util.GetBit(cfg[0], resolutionBit) {
		res = CPI1600
	}
	log.Println("adns3080: resolution", res)
	s.ready = true
	return res, nil
}

// Ready is true between a successful Configure and the next Reset
func (s *Sensor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// CaptureFrame triggers a frame capture and reads the 30x30 image
func (s *Sensor) CaptureFrame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return Frame{}, err
	}
	if err := s.bus.Write(RegFrameCapture, FrameCaptureTrigger); err != nil {
		return Frame{}, err
	}
	s.sleep(FrameExposure)
	raw, err := s.bus.Transfer(captureRequest())
	if err != nil {
		return Frame{}, pkgerrors.Wrap(err, "adns3080: frame capture")
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		return f, err
	}
	f.Captured = time.Now()
	return f, nil
}

// ReadMotion performs a motion burst read.  If the overflow bit is set the
// sample is returned along with ErrMotionOverflow and should be discarded.
func (s *Sensor) ReadMotion() (MotionSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return MotionSample{}, err
	}
	burst, err := s.bus.Read(RegMotionBurst, MotionBurstLen)
	if err != nil {
		return MotionSample{}, err
	}
	m, err := DecodeMotion(burst)
	if err != nil {
		return m, err
	}
	if m.Overflow() {
		return m, ErrMotionOverflow
	}
	return m, nil
}

func (s *Sensor) check() error {
	if !s.bus.IsOpen() {
		return ErrNoBus
	}
	if !s.ready {
		return ErrNotReady
	}
	return nil
}
