// Package motion provides an HTTP interface to pump motion controllers
package motion

/*
The optional interfaces in this package are each bound by their own HTTPxxx
function.  NewHTTPPump checks which ones a controller implements and builds
the route table from them.
*/
import (
	"github.com/syringelab/flowtrack/generichttp"
)

// Controller is used for the HTTP interface, which will check if the concrete
// type satisfies the other interfaces in this package and inject their routes
// automatically
type Controller interface {
	// Pulser - all Controllers must be Pulsers
	Pulser
}

// HTTPPump wraps a pump with HTTP
type HTTPPump struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPPump returns a new HTTP wrapper with the route table pre-configured
func NewHTTPPump(c Controller) HTTPPump {
	w := HTTPPump{Controller: c}
	rt := generichttp.RouteTable{}
	HTTPPulse(c, rt)
	if enabler, ok := c.(Enabler); ok {
		HTTPEnable(enabler, rt)
	}
	if fr, ok := c.(FlowRater); ok {
		HTTPFlowRate(fr, rt)
	}
	if ms, ok := c.(Microstepper); ok {
		HTTPMicrostep(ms, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPPump) RT() generichttp.RouteTable {
	return h.RouteTable
}
