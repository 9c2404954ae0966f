/*Package pump turns a stepper driven lead screw into a syringe pump.

The flow rates on offer are derived from the step frequencies the PWM can
produce.  Any frequency that would spin the motor faster than its rated speed
is left out of the offer; it is never clamped to the limit.
*/
package pump

import (
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/syringelab/flowtrack/mathx"
	"github.com/syringelab/flowtrack/stepper"
)

// RateUnit is the precision flow rates are offered at, ml/s
const RateUnit = 1e-5

var (
	// ErrUnavailableFlowRate is generated when a requested flow rate is not on offer
	ErrUnavailableFlowRate = errors.New("pump: flow rate not available")
)

// Geometry describes the motor, lead screw and syringe
type Geometry struct {
	// StepAngle is the full step angle of the motor in degrees
	StepAngle float64 `yaml:"step_angle" koanf:"step_angle"`

	// SpeedLimit is the rated maximum speed of the motor in revolutions per second
	SpeedLimit float64 `yaml:"speed_limit" koanf:"speed_limit"`

	// ScrewLead is the linear travel per revolution in mm
	ScrewLead float64 `yaml:"screw_lead" koanf:"screw_lead"`

	// SyringeArea is the plunger cross section in mm^2
	SyringeArea float64 `yaml:"syringe_area" koanf:"syringe_area"`
}

// DefaultGeometry is a 1.8 degree motor on an M5 screw pushing a 14.5 mm bore syringe
func DefaultGeometry() Geometry {
	return Geometry{StepAngle: 1.8, SpeedLimit: 5, ScrewLead: 0.8, SyringeArea: 165.13}
}

// RPS is the motor speed in revolutions per second at a step frequency and resolution
func (g Geometry) RPS(resolution, hz int) float64 {
	return g.StepAngle / float64(resolution) * float64(hz) / 360
}

// FlowRate converts revolutions per second to ml/s
func (g Geometry) FlowRate(rps float64) float64 {
	return rps * g.ScrewLead * g.SyringeArea * 1e-3 // mm^3 => ml
}

// FlowRate is one offered setting
type FlowRate struct {
	FrequencyHz int     `json:"frequencyHz"`
	RPS         float64 `json:"rps"`
	MLPerSecond float64 `json:"mlPerSecond"`
}

// FlowRates builds the offer for a resolution from a list of step frequencies.
// Frequencies that exceed the speed limit are excluded.  The result is sorted by frequency.
func FlowRates(g Geometry, resolution int, freqs []int) []FlowRate {
	out := make([]FlowRate, 0, len(freqs))
	for _, hz := range freqs {
		rps := g.RPS(resolution, hz)
		if rps > g.SpeedLimit {
			continue
		}
		out = append(out, FlowRate{
			FrequencyHz: hz,
			RPS:         rps,
			MLPerSecond: mathx.Round(g.FlowRate(rps), RateUnit),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FrequencyHz < out[j].FrequencyHz })
	return out
}

// Pump is a syringe pump on a stepper driver
type Pump struct {
	drv  *stepper.Driver
	geom Geometry

	mu    sync.Mutex
	rates []FlowRate
}

// New returns a pump.  The driver should already have had ConfigurePins called.
// A driver frequency over the speed limit is replaced with the slowest one on offer.
func New(drv *stepper.Driver, g Geometry) *Pump {
	p := &Pump{drv: drv, geom: g}
	p.refresh()
	res, hz := drv.StepResolution(), drv.PulseFrequency()
	if rps := g.RPS(res, hz); rps > g.SpeedLimit {
		rates := p.Rates()
		if len(rates) == 0 {
			log.Printf("pump: %d Hz at 1/%d step is %.2f rps, over the %g rps limit, and nothing slower is on offer", hz, res, rps, g.SpeedLimit)
			return p
		}
		log.Printf("pump: %d Hz at 1/%d step is %.2f rps, over the %g rps limit, using %d Hz", hz, res, rps, g.SpeedLimit, rates[0].FrequencyHz)
		if err := drv.SetPulseFrequency(rates[0].FrequencyHz); err != nil {
			log.Printf("pump: %v", err)
		}
	}
	return p
}

func (p *Pump) refresh() {
	freqs, err := stepper.Frequencies(p.drv.SampleRate())
	if err != nil {
		freqs = nil
	}
	rates := FlowRates(p.geom, p.drv.StepResolution(), freqs)
	p.mu.Lock()
	p.rates = rates
	p.mu.Unlock()
}

// Geometry returns the pump geometry
func (p *Pump) Geometry() Geometry {
	return p.geom
}

// Driver returns the underlying motor driver
func (p *Pump) Driver() *stepper.Driver {
	return p.drv
}

// Rates returns the flow rates on offer at the current resolution
func (p *Pump) Rates() []FlowRate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]FlowRate(nil), p.rates...)
}

// Frequencies returns the step frequencies on offer, ascending
func (p *Pump) Frequencies() []int {
	rates := p.Rates()
	out := make([]int, len(rates))
	for i, r := range rates {
		out[i] = r.FrequencyHz
	}
	return out
}

// FlowRate returns the flow rate at the current frequency and resolution in ml/s
func (p *Pump) FlowRate() float64 {
	rps := p.geom.RPS(p.drv.StepResolution(), p.drv.PulseFrequency())
	return mathx.Round(p.geom.FlowRate(rps), RateUnit)
}

// SetFlowRate selects the offered entry matching mlps and programs its frequency
func (p *Pump) SetFlowRate(mlps float64) error {
	want := mathx.Round(mlps, RateUnit)
	for _, r := range p.Rates() {
		if math.Abs(r.MLPerSecond-want) < RateUnit/2 {
			return p.SetFrequency(r.FrequencyHz)
		}
	}
	return fmt.Errorf("%w: %g ml/s", ErrUnavailableFlowRate, mlps)
}

// SetFrequency programs a step frequency, refusing anything over the speed limit
func (p *Pump) SetFrequency(hz int) error {
	if rps := p.geom.RPS(p.drv.StepResolution(), hz); rps > p.geom.SpeedLimit {
		return fmt.Errorf("%w: %d Hz is %.2f rps, limit is %g", ErrUnavailableFlowRate, hz, rps, p.geom.SpeedLimit)
	}
	return p.drv.SetPulseFrequency(hz)
}

// SetResolution changes the microstep resolution and recomputes the offer.
// If the current frequency is no longer on offer the slowest one is selected.
func (p *Pump) SetResolution(n int) (int, error) {
	got, err := p.drv.SetStepResolution(n)
	if errors.Is(err, stepper.ErrBusy) {
		return got, err
	}
	p.refresh()
	rates := p.Rates()
	if len(rates) > 0 && p.geom.RPS(got, p.drv.PulseFrequency()) > p.geom.SpeedLimit {
		if ferr := p.drv.SetPulseFrequency(rates[0].FrequencyHz); ferr != nil && err == nil {
			err = ferr
		}
	}
	return got, err
}

// Dispense runs the pump and returns the nominal volume moved in ml.
// A pulse that would exceed the speed limit is refused with ErrUnavailableFlowRate.
func (p *Pump) Dispense(dir stepper.Direction, d time.Duration) (float64, error) {
	var rate float64
	err := p.drv.ActuateChecked(dir, d, func(res, hz int) error {
		rps := p.geom.RPS(res, hz)
		if rps > p.geom.SpeedLimit {
			return fmt.Errorf("%w: %d Hz at 1/%d step is %.2f rps, limit is %g", ErrUnavailableFlowRate, hz, res, rps, p.geom.SpeedLimit)
		}
		rate = mathx.Round(p.geom.FlowRate(rps), RateUnit)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rate * d.Seconds(), nil
}

// Resolution returns the microstep denominator
func (p *Pump) Resolution() int {
	return p.drv.StepResolution()
}

// Frequency returns the step frequency in Hz
func (p *Pump) Frequency() int {
	return p.drv.PulseFrequency()
}

// Enable wakes the motor driver
func (p *Pump) Enable() error {
	return p.drv.ConfigurePins()
}

// Disable stops and sleeps the motor driver
func (p *Pump) Disable() error {
	return p.drv.Disable()
}

// Enabled is true if the driver is awake
func (p *Pump) Enabled() bool {
	return p.drv.Awake()
}
