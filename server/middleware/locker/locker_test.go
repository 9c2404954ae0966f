package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
	"github.com/syringelab/flowtrack/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func pumpRouter(l *Locker) http.Handler {
	tbl := table{
		{Method: http.MethodPost, Path: "/pump/pulse"}: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	}
	Inject(tbl, l)
	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(l.Check)
		generichttp.RouteTable(tbl).Bind(r)
	})
	return r
}

func do(h http.Handler, method, path, body string) int {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader(body)))
	return w.Code
}

func TestLockedRoutesBounce(t *testing.T) {
	l := New()
	h := pumpRouter(l)
	if code := do(h, http.MethodPost, "/pump/pulse", ""); code != http.StatusOK {
		t.Fatalf("unlocked pulse returned %d", code)
	}
	if code := do(h, http.MethodPost, "/lock", `{"bool":true}`); code != http.StatusOK {
		t.Fatalf("lock returned %d", code)
	}
	if !l.Locked() {
		t.Fatal("locker not locked")
	}
	if code := do(h, http.MethodPost, "/pump/pulse", ""); code != http.StatusLocked {
		t.Errorf("locked pulse returned %d", code)
	}
	if code := do(h, http.MethodGet, "/lock", ""); code != http.StatusOK {
		t.Errorf("the lock route itself must stay reachable, got %d", code)
	}
	if code := do(h, http.MethodPost, "/lock", `{"bool":false}`); code != http.StatusOK {
		t.Fatalf("unlock returned %d", code)
	}
	if code := do(h, http.MethodPost, "/pump/pulse", ""); code != http.StatusOK {
		t.Errorf("pulse after unlock returned %d", code)
	}
}

func TestProtectedMatchesSuffixOnly(t *testing.T) {
	l := New()
	if l.protected("/pump/lock") {
		t.Error("/pump/lock should be exempt")
	}
	if !l.protected("/pump/lockout-pulse") {
		t.Error("a path merely containing lock should stay protected")
	}
}
