package motion

import (
	"errors"
	"net/http"

	"github.com/syringelab/flowtrack/generichttp"
	"github.com/syringelab/flowtrack/pump"
)

// FlowRater describes an interface with flow-rate methods for a pump
type FlowRater interface {
	// FlowRate gets the current flow rate in ml/s
	FlowRate() float64

	// SetFlowRate selects one of the offered flow rates
	SetFlowRate(float64) error

	// Rates lists the offered flow rates
	Rates() []pump.FlowRate
}

// HTTPFlowRate adds routes for the flow rater to the route table
func HTTPFlowRate(iface FlowRater, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/flow-rate"}] = GetFlowRate(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/flow-rate"}] = SetFlowRate(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/flow-rates"}] = GetFlowRates(iface)
}

// SetFlowRate returns an HTTP handler func which selects a flow rate.  A rate
// that is not on offer is a bad request.
func SetFlowRate(f FlowRater) http.HandlerFunc {
	return generichttp.SetFloat(func(v float64) error {
		err := f.SetFlowRate(v)
		if errors.Is(err, pump.ErrUnavailableFlowRate) {
			return generichttp.WithStatus(err, http.StatusBadRequest)
		}
		return err
	})
}

// GetFlowRate returns an HTTP handler func which gets the flow rate
func GetFlowRate(f FlowRater) http.HandlerFunc {
	return generichttp.GetFloat(func() (float64, error) {
		return f.FlowRate(), nil
	})
}

// GetFlowRates returns an HTTP handler func which lists the offered flow rates
func GetFlowRates(f FlowRater) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, f.Rates())
	}
}
