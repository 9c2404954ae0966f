/*Package tracker polls an optical flow sensor and accumulates its motion into a position.

A Poller runs one cycle at a time.  Each cycle first applies any pending mode
change (which reinitializes the sensor), then performs exactly one read: a frame
in ModeImageCapture, a motion burst in ModeMotionTracking.  The next cycle is
not started until the previous one has returned.
*/
package tracker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/google/uuid"
	"github.com/syringelab/flowtrack/adns3080"
	"golang.org/x/time/rate"
)

var (
	// ErrCycleInFlight is generated when Poll is called while another cycle is running
	ErrCycleInFlight = errors.New("tracker: a poll cycle is already in flight")

	// ErrTooManyFailures is generated when Run gives up after consecutive failed cycles
	ErrTooManyFailures = errors.New("tracker: too many consecutive failures")

	// ErrNoFrame is generated when a frame is requested before one was captured
	ErrNoFrame = errors.New("tracker: no frame captured yet")

	// ErrBadMode is generated when a mode string cannot be parsed
	ErrBadMode = errors.New("tracker: mode must be image or motion")

	errPanic = errors.New("tracker: poll cycle panicked")
)

// Sensor is the part of the sensor driver the poller uses.  *adns3080.Sensor satisfies it.
type Sensor interface {
	Reset() error
	Identify() (adns3080.Identity, error)
	Configure() (adns3080.Resolution, error)
	CaptureFrame() (adns3080.Frame, error)
	ReadMotion() (adns3080.MotionSample, error)
}

// Config tunes the poller
type Config struct {
	// Interval is the minimum time between the start of two cycles
	Interval time.Duration `yaml:"interval" koanf:"interval"`

	// MaxErrors is the number of consecutive failed cycles after which Run
	// stops.  0 never stops.
	MaxErrors int `yaml:"max_errors" koanf:"max_errors"`

	// TrailLength is the number of recent positions kept
	TrailLength int `yaml:"trail" koanf:"trail"`

	// Mode is the mode to start in
	Mode Mode `yaml:"mode" koanf:"-"`
}

// DefaultConfig polls every 10ms, starts in image capture, and never gives up
func DefaultConfig() Config {
	return Config{Interval: 10 * time.Millisecond, TrailLength: 1024}
}

// Stats are running counters
type Stats struct {
	Cycles      uint64 `json:"cycles"`
	Frames      uint64 `json:"frames"`
	Samples     uint64 `json:"samples"`
	Overflows   uint64 `json:"overflows"`
	Failures    uint64 `json:"failures"`
	Consecutive int    `json:"consecutive"`
}

// Poller owns the sensor for the life of a tracking session
type Poller struct {
	sensor  Sensor
	display Displays
	cfg     Config
	limiter *rate.Limiter
	session uuid.UUID

	// cycle is held for the duration of a Poll
	cycle sync.Mutex

	mu        sync.Mutex
	mode      Mode
	requested Mode
	needInit  bool
	state     State
	pos       Position
	trail     *trail
	last      adns3080.Frame
	haveFrame bool
	res       adns3080.Resolution
	id        adns3080.Identity
	stats     Stats
}

// NewPoller returns a poller in StateIdle.  The sensor is initialized on the first cycle.
func NewPoller(s Sensor, cfg Config, displays ...Display) *Poller {
	lim := rate.Inf
	if cfg.Interval > 0 {
		lim = rate.Every(cfg.Interval)
	}
	return &Poller{
		sensor:    s,
		display:   Displays(displays),
		cfg:       cfg,
		limiter:   rate.NewLimiter(lim, 1),
		session:   uuid.New(),
		mode:      cfg.Mode,
		requested: cfg.Mode,
		needInit:  true,
		state:     StateIdle,
		trail:     newTrail(cfg.TrailLength),
	}
}

// AddDisplay attaches another display.  It must be called before Run.
func (p *Poller) AddDisplay(d Display) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.display = append(p.display, d)
}

// Session is the id of this tracking session
func (p *Poller) Session() uuid.UUID {
	return p.session
}

// SetMode requests a mode.  The change is applied at the start of the next cycle.
func (p *Poller) SetMode(m Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requested = m
}

// ToggleMode requests the other mode and returns it
func (p *Poller) ToggleMode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requested = p.requested.Toggle()
	return p.requested
}

// Mode returns the mode the sensor is in
func (p *Poller) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// RequestedMode returns the most recently requested mode
func (p *Poller) RequestedMode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requested
}

// State returns where the poller is in its lifecycle
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Position returns the accumulated position
func (p *Poller) Position() Position {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

// Trail returns up to n of the most recent positions, oldest first.  n <= 0 returns all.
func (p *Poller) Trail(n int) []TrailPoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trail.last(n)
}

// Identity returns the result of the last product ID check
func (p *Poller) Identity() adns3080.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Resolution returns the sensor resolution reported by the last Configure
func (p *Poller) Resolution() adns3080.Resolution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.res
}

// Stats returns a copy of the counters
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// LastFrame returns the most recent frame
func (p *Poller) LastFrame() (adns3080.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.haveFrame {
		return adns3080.Frame{}, ErrNoFrame
	}
	return p.last, nil
}

// Snapshot returns the most recent frame as an image, scaled for display
func (p *Poller) Snapshot() (*image.Gray, error) {
	f, err := p.LastFrame()
	if err != nil {
		return nil, err
	}
	return f.Image(), nil
}

// SnapshotWithMetadata returns the most recent frame as an image together
// with the FITS cards describing that same frame
func (p *Poller) SnapshotWithMetadata() (*image.Gray, []fitsio.Card, error) {
	p.mu.Lock()
	f, have, res := p.last, p.haveFrame, p.res
	p.mu.Unlock()
	if !have {
		return nil, nil, ErrNoFrame
	}
	return f.Image(), p.frameCards(f, res), nil
}

// CollectHeaderMetadata describes the last frame for FITS headers
func (p *Poller) CollectHeaderMetadata() []fitsio.Card {
	p.mu.Lock()
	f, res := p.last, p.res
	p.mu.Unlock()
	return p.frameCards(f, res)
}

func (p *Poller) frameCards(f adns3080.Frame, res adns3080.Resolution) []fitsio.Card {
	return []fitsio.Card{
		{Name: "INSTRUME", Value: "ADNS-3080", Comment: "optical flow sensor"},
		{Name: "SESSION", Value: p.session.String(), Comment: "tracking session"},
		{Name: "DATE-OBS", Value: f.Captured.UTC().Format(time.RFC3339Nano)},
		{Name: "CPI", Value: int(res), Comment: "counts per inch"},
		{Name: "PIXSCALE", Value: adns3080.DisplayScale, Comment: "samples multiplied by"},
		{Name: "PIXCRC", Value: int(f.Checksum()), Comment: "CRC-16/XMODEM of samples"},
	}
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Poll runs one cycle.  It is safe to call from an external scheduler; a
// call that overlaps a running cycle returns ErrCycleInFlight without
// touching the sensor.  A panic inside the cycle is recovered and returned as an error.
func (p *Poller) Poll() (err error) {
	if !p.cycle.TryLock() {
		return ErrCycleInFlight
	}
	defer p.cycle.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
		p.account(err)
	}()
	if err = p.applyMode(); err != nil {
		return err
	}
	if p.Mode() == ModeImageCapture {
		return p.readFrame()
	}
	return p.readMotion()
}

func (p *Poller) account(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Cycles++
	if err != nil {
		p.stats.Failures++
		p.stats.Consecutive++
		return
	}
	p.stats.Consecutive = 0
}

// applyMode brings the sensor into the requested mode if needed
func (p *Poller) applyMode() error {
	p.mu.Lock()
	from, to, init := p.mode, p.requested, p.needInit
	p.mu.Unlock()
	steps := Transition(from, to)
	if steps == nil && !init {
		return nil
	}
	if steps == nil {
		steps = Startup()
	}
	// until the sequence completes the sensor is in no usable mode
	p.mu.Lock()
	p.needInit = true
	p.mu.Unlock()
	for _, s := range steps {
		if err := p.run(s); err != nil {
			return fmt.Errorf("tracker: %s: %w", s, err)
		}
	}
	p.mu.Lock()
	p.mode = to
	p.needInit = false
	p.state = StatePolling
	p.mu.Unlock()
	log.Printf("tracker: sensor in %s mode", to)
	p.display.ShowMode(to)
	return nil
}

func (p *Poller) run(s Step) error {
	switch s {
	case StepReset:
		p.setState(StateReset)
		return p.sensor.Reset()
	case StepIdentify:
		id, err := p.sensor.Identify()
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.id = id
		p.mu.Unlock()
		return nil
	case StepConfigure:
		p.setState(StateConfigure)
		res, err := p.sensor.Configure()
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.res = res
		p.mu.Unlock()
		return nil
	}
	return fmt.Errorf("tracker: unknown step %d", s)
}

func (p *Poller) readFrame() error {
	f, err := p.sensor.CaptureFrame()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.last = f
	p.haveFrame = true
	p.stats.Frames++
	p.mu.Unlock()
	p.display.ShowFrame(f)
	return nil
}

func (p *Poller) readMotion() error {
	s, err := p.sensor.ReadMotion()
	if errors.Is(err, adns3080.ErrMotionOverflow) {
		log.Println("tracker: adns3080 overflow, sample discarded")
		p.mu.Lock()
		p.stats.Overflows++
		p.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	if !s.Moved() {
		return nil
	}
	p.mu.Lock()
	p.pos = p.pos.Add(s.DX, s.DY)
	pos := p.pos
	p.trail.append(TrailPoint{Position: pos, Time: time.Now()})
	p.stats.Samples++
	p.mu.Unlock()
	p.display.ShowPosition(pos, s)
	return nil
}

// Run polls until ctx is done or too many consecutive cycles fail.
// Failed cycles are logged and retried on the next tick.
// It returns nil when ctx is canceled.
func (p *Poller) Run(ctx context.Context) error {
	defer p.setState(StateStopped)
	for {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		err := p.Poll()
		if err == nil {
			continue
		}
		log.Println(err)
		if p.cfg.MaxErrors > 0 && p.Stats().Consecutive >= p.cfg.MaxErrors {
			return fmt.Errorf("%w (%d): %v", ErrTooManyFailures, p.cfg.MaxErrors, err)
		}
	}
}
