/*Package stepper drives a DRV8834 stepper driver from GPIO and PWM pins.

Step pulses come from a hardware PWM at 50% duty, so the motor turns at
(step angle / resolution * frequency) degrees per second for as long as the
PWM is enabled.  A pulse is blocking and cannot be interrupted.
*/
package stepper

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// WakeTime is how long the driver needs after SLEEP goes high
const WakeTime = time.Millisecond

var (
	// ErrBusy is generated when a pulse or reconfiguration is requested while a pulse is in progress
	ErrBusy = errors.New("stepper: a pulse is already in progress")

	// ErrAsleep is generated when a pulse is requested before ConfigurePins or after Disable
	ErrAsleep = errors.New("stepper: driver is asleep")

	// ErrInvalidResolution is generated for step resolutions not in {1,2,4,8,16,32}
	ErrInvalidResolution = errors.New("stepper: invalid step resolution, using full-step")

	// ErrUnavailableFrequency is generated for frequencies the PWM cannot produce at the sample rate
	ErrUnavailableFrequency = errors.New("stepper: frequency not available at this sample rate")

	// ErrUnknownSampleRate is generated for sample rates missing from FrequencyTable
	ErrUnknownSampleRate = errors.New("stepper: unknown PWM sample rate")

	// ErrBadDuration is generated for pulses of zero or negative length
	ErrBadDuration = errors.New("stepper: pulse duration must be positive")

	// ErrBadDirection is generated when a direction string cannot be parsed
	ErrBadDirection = errors.New("stepper: direction must be cw or ccw")
)

// Direction is the rotation sense
type Direction int

const (
	// CW drives DIR high
	CW Direction = iota

	// CCW drives DIR low
	CCW
)

// Level is the DIR pin level for the direction
func (d Direction) Level() gpio.Level {
	return d == CW
}

func (d Direction) String() string {
	if d == CCW {
		return "ccw"
	}
	return "cw"
}

// ParseDirection parses "cw" or "ccw", case insensitive
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cw", "":
		return CW, nil
	case "ccw":
		return CCW, nil
	}
	return CW, fmt.Errorf("%w: %q", ErrBadDirection, s)
}

// Command is a single actuation request
type Command struct {
	Direction Direction
	Duration  time.Duration
}

// Resolution is a microstep setting and the mode pin levels that select it
type Resolution struct {
	// Denominator is the fraction of a full step, 1 for full-step
	Denominator int

	M0, M1 gpio.Level

	// Floating is true when M0 must be left disconnected; software can only drive it low
	Floating bool
}

var resolutions = map[int]Resolution{
	1:  {Denominator: 1, M0: gpio.Low, M1: gpio.Low},
	2:  {Denominator: 2, M0: gpio.High, M1: gpio.Low},
	4:  {Denominator: 4, M0: gpio.Low, M1: gpio.Low, Floating: true},
	8:  {Denominator: 8, M0: gpio.Low, M1: gpio.High},
	16: {Denominator: 16, M0: gpio.High, M1: gpio.High},
	32: {Denominator: 32, M0: gpio.Low, M1: gpio.High, Floating: true},
}

// LookupResolution returns the pin table entry for a denominator
func LookupResolution(n int) (Resolution, bool) {
	r, ok := resolutions[n]
	return r, ok
}

// OutputPin is a digital output.  periph's gpio.PinOut satisfies it.
type OutputPin interface {
	Out(l gpio.Level) error
}

// PWMPin is a digital output that can also generate PWM
type PWMPin interface {
	OutputPin
	PWM(duty gpio.Duty, f physic.Frequency) error
}

// Pins are the connections to the driver board
type Pins struct {
	Dir   OutputPin
	Step  PWMPin
	Sleep OutputPin
	M0    OutputPin
	M1    OutputPin
}

// Config holds the power-on settings
type Config struct {
	// Resolution is the microstep denominator
	Resolution int `yaml:"resolution" koanf:"resolution"`

	// SampleRateUS is the PWM daemon's sample rate in microseconds
	SampleRateUS int `yaml:"sample_rate_us" koanf:"sample_rate_us"`

	// FrequencyHz is the step frequency.  0 selects the default for the sample rate.
	FrequencyHz int `yaml:"frequency_hz" koanf:"frequency_hz"`
}

// DefaultConfig is full-step at the default frequency
func DefaultConfig() Config {
	return Config{Resolution: 1, SampleRateUS: DefaultSampleRate}
}

// Driver controls one motor.  All methods are safe for concurrent use.
type Driver struct {
	pins Pins

	mu         sync.Mutex
	sampleRate int
	freq       int
	res        Resolution
	requested  int
	awake      bool

	// busy is held for the whole of a pulse
	busy    sync.Mutex
	pulsing atomic.Bool

	sleep func(time.Duration)
}

// New returns a driver.  Nothing is written to the pins until ConfigurePins.
// An unknown sample rate or unavailable frequency in cfg falls back to the defaults, with a log message.
func New(pins Pins, cfg Config) *Driver {
	d := &Driver{
		pins:       pins,
		sampleRate: cfg.SampleRateUS,
		requested:  cfg.Resolution,
		res:        resolutions[1],
		sleep:      time.Sleep,
	}
	if _, ok := FrequencyTable[d.sampleRate]; !ok {
		log.Printf("stepper: sample rate %d us unknown, using %d us", cfg.SampleRateUS, DefaultSampleRate)
		d.sampleRate = DefaultSampleRate
	}
	d.freq = FrequencyTable[d.sampleRate][DefaultFrequencyIndex]
	if cfg.FrequencyHz != 0 {
		if FrequencyAllowed(d.sampleRate, cfg.FrequencyHz) {
			d.freq = cfg.FrequencyHz
		} else {
			log.Printf("stepper: %d Hz unavailable at %d us, using %d Hz", cfg.FrequencyHz, d.sampleRate, d.freq)
		}
	}
	if d.requested == 0 {
		d.requested = 1
	}
	return d
}

// ConfigurePins wakes the driver, waits out the wake time, selects the
// configured resolution and makes sure the step output is off.
// An invalid configured resolution leaves the driver in full-step and is returned.
func (d *Driver) ConfigurePins() error {
	if !d.busy.TryLock() {
		return ErrBusy
	}
	defer d.busy.Unlock()
	if err := d.pins.Step.PWM(0, d.Frequency()); err != nil {
		return fmt.Errorf("stepper: step off: %w", err)
	}
	if err := d.pins.Sleep.Out(gpio.High); err != nil {
		return fmt.Errorf("stepper: wake: %w", err)
	}
	d.sleep(WakeTime)
	d.mu.Lock()
	d.awake = true
	n := d.requested
	d.mu.Unlock()
	_, err := d.setResolution(n)
	return err
}

// SetStepResolution selects a microstep resolution and returns the one in effect.
// Values outside {1,2,4,8,16,32} select full-step and return ErrInvalidResolution.
func (d *Driver) SetStepResolution(n int) (int, error) {
	if !d.busy.TryLock() {
		return d.StepResolution(), ErrBusy
	}
	defer d.busy.Unlock()
	return d.setResolution(n)
}

func (d *Driver) setResolution(n int) (int, error) {
	res, ok := resolutions[n]
	var invalid error
	if !ok {
		invalid = fmt.Errorf("%w: got %d, must be one of 1, 2, 4, 8, 16, 32", ErrInvalidResolution, n)
		log.Println(invalid)
		res = resolutions[1]
	}
	if err := d.pins.M0.Out(res.M0); err != nil {
		return d.StepResolution(), fmt.Errorf("stepper: M0: %w", err)
	}
	if err := d.pins.M1.Out(res.M1); err != nil {
		return d.StepResolution(), fmt.Errorf("stepper: M1: %w", err)
	}
	if res.Floating {
		log.Printf("stepper: 1/%d step needs M0 disconnected (floating)", res.Denominator)
	}
	d.mu.Lock()
	d.res = res
	d.requested = res.Denominator
	d.mu.Unlock()
	return res.Denominator, invalid
}

// StepResolution returns the microstep denominator in effect
func (d *Driver) StepResolution() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.res.Denominator
}

// Resolution returns the full table entry in effect
func (d *Driver) Resolution() Resolution {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.res
}

// SetPulseFrequency sets the step frequency used by the next pulse.
// Frequencies missing from the sample rate's row of FrequencyTable are
// rejected and the previous frequency is kept.
func (d *Driver) SetPulseFrequency(hz int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !FrequencyAllowed(d.sampleRate, hz) {
		return fmt.Errorf("%w: %d Hz at %d us, available: %v", ErrUnavailableFrequency, hz, d.sampleRate, FrequencyTable[d.sampleRate])
	}
	d.freq = hz
	return nil
}

// PulseFrequency returns the step frequency in Hz
func (d *Driver) PulseFrequency() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.freq
}

// Frequency is PulseFrequency as a physic.Frequency
func (d *Driver) Frequency() physic.Frequency {
	return physic.Frequency(d.PulseFrequency()) * physic.Hertz
}

// SampleRate returns the PWM sample rate in microseconds
func (d *Driver) SampleRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sampleRate
}

// Awake is true between ConfigurePins and Disable
func (d *Driver) Awake() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.awake
}

// Busy is true while a pulse is in progress
func (d *Driver) Busy() bool {
	return d.pulsing.Load()
}

// Actuate sets the direction and runs the step output at 50% duty for dur.
// It blocks for dur and cannot be interrupted.  A call made while another is
// in progress returns ErrBusy without touching the pins.
func (d *Driver) Actuate(dir Direction, dur time.Duration) error {
	return d.ActuateChecked(dir, dur, nil)
}

// ActuateChecked is Actuate with a veto.  check is called with the resolution
// and frequency the pulse would run at, after the pulse lock is taken and
// before any pin is written; a non-nil error from it is returned and nothing moves.
func (d *Driver) ActuateChecked(dir Direction, dur time.Duration, check func(resolution, hz int) error) (err error) {
	if dur <= 0 {
		return ErrBadDuration
	}
	if !d.busy.TryLock() {
		return ErrBusy
	}
	defer d.busy.Unlock()
	d.pulsing.Store(true)
	defer d.pulsing.Store(false)
	if !d.Awake() {
		return ErrAsleep
	}
	d.mu.Lock()
	res, hz := d.res.Denominator, d.freq
	d.mu.Unlock()
	if check != nil {
		if err = check(res, hz); err != nil {
			return err
		}
	}
	if err = d.pins.Dir.Out(dir.Level()); err != nil {
		return fmt.Errorf("stepper: direction: %w", err)
	}
	f := physic.Frequency(hz) * physic.Hertz
	defer func() {
		// always try to stop stepping, even if starting failed
		if offErr := d.pins.Step.PWM(0, f); offErr != nil && err == nil {
			err = fmt.Errorf("stepper: step off: %w", offErr)
		}
	}()
	if err = d.pins.Step.PWM(gpio.DutyHalf, f); err != nil {
		return fmt.Errorf("stepper: step on: %w", err)
	}
	d.sleep(dur)
	return nil
}

// Run executes a Command
func (d *Driver) Run(c Command) error {
	return d.Actuate(c.Direction, c.Duration)
}

// Disable stops the step output and puts the driver to sleep.  If a pulse is
// in progress, Disable waits for it to finish.  Both writes are always attempted.
func (d *Driver) Disable() error {
	d.busy.Lock()
	defer d.busy.Unlock()
	errStep := d.pins.Step.PWM(0, d.Frequency())
	errSleep := d.pins.Sleep.Out(gpio.Low)
	d.mu.Lock()
	d.awake = false
	d.mu.Unlock()
	if errStep != nil {
		return fmt.Errorf("stepper: step off: %w", errStep)
	}
	if errSleep != nil {
		return fmt.Errorf("stepper: sleep: %w", errSleep)
	}
	return nil
}
