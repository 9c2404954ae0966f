package motion

import (
	"errors"
	"net/http"

	"github.com/syringelab/flowtrack/generichttp"
	"github.com/syringelab/flowtrack/pump"
	"github.com/syringelab/flowtrack/stepper"
)

// Microstepper describes an interface to the step resolution and frequency of a motor
type Microstepper interface {
	// Resolution gets the microstep denominator
	Resolution() int

	// SetResolution sets the microstep denominator and returns the one applied
	SetResolution(int) (int, error)

	// Frequency gets the step frequency in Hz
	Frequency() int

	// SetFrequency sets the step frequency in Hz
	SetFrequency(int) error

	// Frequencies lists the step frequencies on offer
	Frequencies() []int
}

// HTTPMicrostep adds routes for the microstepper to the route table
func HTTPMicrostep(iface Microstepper, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/resolution"}] = generichttp.GetInt(func() (int, error) {
		return iface.Resolution(), nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/resolution"}] = SetResolution(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/frequency"}] = generichttp.GetInt(func() (int, error) {
		return iface.Frequency(), nil
	})
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/frequency"}] = SetFrequency(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/frequencies"}] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, iface.Frequencies())
	}
}

// motorStatus maps motor errors to HTTP statuses
func motorStatus(err error) error {
	switch {
	case errors.Is(err, stepper.ErrBusy), errors.Is(err, stepper.ErrAsleep):
		return generichttp.WithStatus(err, http.StatusConflict)
	case errors.Is(err, stepper.ErrInvalidResolution),
		errors.Is(err, stepper.ErrUnavailableFrequency),
		errors.Is(err, stepper.ErrBadDirection),
		errors.Is(err, stepper.ErrBadDuration),
		errors.Is(err, pump.ErrUnavailableFlowRate):
		return generichttp.WithStatus(err, http.StatusBadRequest)
	}
	return err
}

// SetResolution returns an HTTP handler func which sets the microstep
// resolution.  An invalid one is rejected with 400 after the driver has
// fallen back to full-step.
func SetResolution(m Microstepper) http.HandlerFunc {
	return generichttp.SetInt(func(n int) error {
		_, err := m.SetResolution(n)
		return motorStatus(err)
	})
}

// SetFrequency returns an HTTP handler func which sets the step frequency
func SetFrequency(m Microstepper) http.HandlerFunc {
	return generichttp.SetInt(func(hz int) error {
		return motorStatus(m.SetFrequency(hz))
	})
}
