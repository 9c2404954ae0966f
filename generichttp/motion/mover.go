package motion

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/syringelab/flowtrack/generichttp"
	"github.com/syringelab/flowtrack/stepper"
	"github.com/syringelab/flowtrack/util"
)

// Pulser describes a pump that can run for a fixed time
type Pulser interface {
	// Dispense runs the motor and returns the nominal volume moved in ml
	Dispense(stepper.Direction, time.Duration) (float64, error)
}

// PulseRequest is the body of a pulse request
type PulseRequest struct {
	Direction string  `json:"direction"`
	Seconds   float64 `json:"seconds"`
}

// PulseReply is the response to a pulse
type PulseReply struct {
	Direction string  `json:"direction"`
	Seconds   float64 `json:"seconds"`
	ML        float64 `json:"ml"`
}

// HTTPPulse adds routes for the pulser to the route table
func HTTPPulse(iface Pulser, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/pulse"}] = Pulse(iface)
}

// Pulse returns an HTTP handler func which runs one pulse and replies when it
// is done.  An empty direction is cw and zero seconds is one second.  A pulse
// requested while another runs gets 409.
func Pulse(p Pulser) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := PulseRequest{}
		err := json.NewDecoder(r.Body).Decode(&req)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Direction == "" {
			req.Direction = stepper.CW.String()
		}
		if req.Seconds == 0 {
			req.Seconds = 1
		}
		dir, err := stepper.ParseDirection(req.Direction)
		if err != nil {
			generichttp.Fail(w, motorStatus(err))
			return
		}
		vol, err := p.Dispense(dir, util.SecsToDuration(req.Seconds))
		if err != nil {
			generichttp.Fail(w, motorStatus(err))
			return
		}
		log.Printf("motion: pulsed %s for %gs, %g ml", dir, req.Seconds, vol)
		generichttp.RespondJSON(w, PulseReply{Direction: dir.String(), Seconds: req.Seconds, ML: vol})
	}
}
