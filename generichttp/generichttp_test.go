package generichttp

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"
)

func ExampleSubMuxSanitize() {
	fmt.Println(SubMuxSanitize("sensor/"), SubMuxSanitize("/pump"), SubMuxSanitize(""))
	// Output: /sensor /pump /
}

func TestSetFloatRoundTrip(t *testing.T) {
	var v float64
	set := SetFloat(func(f float64) error { v = f; return nil })
	get := GetFloat(func() (float64, error) { return v, nil })

	w := httptest.NewRecorder()
	set(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"f64": 2.5}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("set returned %d", w.Code)
	}
	w = httptest.NewRecorder()
	get(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"f64":2.5}` {
		t.Errorf("got %s", body)
	}
}

func TestBadBodyIsBadRequest(t *testing.T) {
	called := false
	h := SetBool(func(bool) error { called = true; return nil })
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"bool":`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
	if called {
		t.Error("setter called with a malformed body")
	}
}

func TestFailUsesStatus(t *testing.T) {
	busy := errors.New("busy")
	w := httptest.NewRecorder()
	Fail(w, fmt.Errorf("pulse: %w", WithStatus(busy, http.StatusConflict)))
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
	w = httptest.NewRecorder()
	Fail(w, busy)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if WithStatus(nil, http.StatusTeapot) != nil {
		t.Error("WithStatus(nil) should be nil")
	}
}

func TestRouteTableBind(t *testing.T) {
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/b"}:  GetInt(func() (int, error) { return 7, nil }),
		{Method: http.MethodPost, Path: "/a"}: SetInt(func(int) error { return nil }),
		{Method: http.MethodGet, Path: "/a"}:  GetString(func() (string, error) { return "x", nil }),
	}
	want := []string{"GET /a", "POST /a", "GET /b"}
	got := rt.Endpoints()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("endpoints %v, want %v", got, want)
		}
	}

	r := chi.NewRouter()
	rt.Bind(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/b", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"int":7}` {
		t.Errorf("got %s", body)
	}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/b", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for an unbound method, got %d", w.Code)
	}
}
