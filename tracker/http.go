package tracker

import (
	"net/http"
	"strconv"

	"github.com/syringelab/flowtrack/generichttp"
	"github.com/syringelab/flowtrack/generichttp/camera"
	"github.com/syringelab/flowtrack/imgrec"
)

// HTTPWrapper exposes a Poller over HTTP
type HTTPWrapper struct {
	*Poller
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper builds the route table for p.  stream and rec may be nil,
// which leaves out the live stream and the autosave routes.
func NewHTTPWrapper(p *Poller, stream http.Handler, rec *imgrec.Recorder) HTTPWrapper {
	w := HTTPWrapper{Poller: p, RouteTable: generichttp.RouteTable{}}
	rt := w.RouteTable
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/mode"}] = generichttp.GetString(func() (string, error) {
		return p.Mode().String(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/mode"}] = generichttp.SetString(func(s string) error {
		m, err := ParseMode(s)
		if err != nil {
			return generichttp.WithStatus(err, http.StatusBadRequest)
		}
		p.SetMode(m)
		return nil
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/position"}] = w.getPosition
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/trail"}] = w.getTrail
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stats"}] = w.getStats
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/session"}] = generichttp.GetString(func() (string, error) {
		return p.Session().String(), nil
	})
	camera.HTTPSnapshot(p, rt, rec)
	if stream != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/stream"}] = stream.ServeHTTP
	}
	if rec != nil {
		imgrec.NewHTTPWrapper(rec).Inject(w)
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

type positionReply struct {
	Position
	Mode     Mode   `json:"mode"`
	State    State  `json:"state"`
	Session  string `json:"session"`
	CPI      int    `json:"cpi"`
	Identity bool   `json:"identity_ok"`
}

func (h HTTPWrapper) getPosition(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, positionReply{
		Position: h.Position(),
		Mode:     h.Mode(),
		State:    h.State(),
		Session:  h.Session().String(),
		CPI:      int(h.Resolution()),
		Identity: h.Identity().Match,
	})
}

// getTrail returns the last n positions; n defaults to all of them
func (h HTTPWrapper) getTrail(w http.ResponseWriter, r *http.Request) {
	n := 0
	if str := r.URL.Query().Get("n"); str != "" {
		var err error
		n, err = strconv.Atoi(str)
		if err != nil || n < 0 {
			http.Error(w, "n must be a non-negative integer", http.StatusBadRequest)
			return
		}
	}
	generichttp.RespondJSON(w, h.Trail(n))
}

func (h HTTPWrapper) getStats(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, h.Stats())
}
