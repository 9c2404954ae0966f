package imgrec

import (
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/syringelab/flowtrack/generichttp"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func fixedRecorder(t *testing.T) (*Recorder, string) {
	t.Helper()
	root := t.TempDir()
	r := New(Config{Root: root, Prefix: "adns"})
	r.now = func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) }
	return r, filepath.Join(root, "2026-03-04")
}

func TestRecordNumbersFiles(t *testing.T) {
	r, dir := fixedRecorder(t)
	img := image.NewGray(image.Rect(0, 0, 30, 30))
	for i := 0; i < 3; i++ {
		if err := r.Record(img, nil); err != nil {
			t.Fatal(err)
		}
	}
	for _, fn := range []string{"adns000000.fits", "adns000001.fits", "adns000002.fits"} {
		if _, err := os.Stat(filepath.Join(dir, fn)); err != nil {
			t.Errorf("missing %s: %v", fn, err)
		}
	}
}

func TestRecordContinuesExistingSequence(t *testing.T) {
	r, dir := fixedRecorder(t)
	if err := os.MkdirAll(dir, 0777); err != nil {
		t.Fatal(err)
	}
	for _, fn := range []string{"adns000007.fits", "other000020.fits", "adnsjunk.fits"} {
		if err := os.WriteFile(filepath.Join(dir, fn), nil, 0666); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := r.Write([]byte("SIMPLE")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "adns000008.fits")); err != nil {
		t.Errorf("expected the next file after 7: %v", err)
	}
}

func TestSetPrefixRejectsPaths(t *testing.T) {
	r, _ := fixedRecorder(t)
	if err := r.SetPrefix("../evil"); err == nil {
		t.Error("expected an error for a prefix with a separator")
	}
	if err := r.SetPrefix("run1_"); err != nil || r.Prefix() != "run1_" {
		t.Errorf("prefix not set: %v", err)
	}
}

func TestInjectRoutes(t *testing.T) {
	rec, _ := fixedRecorder(t)
	tbl := table{}
	NewHTTPWrapper(rec).Inject(tbl)
	mux := chi.NewRouter()
	generichttp.RouteTable(tbl).Bind(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/autosave/enabled", strings.NewReader(`{"bool":true}`)))
	if w.Code != http.StatusOK || !rec.Enabled() {
		t.Fatalf("enable failed: %d", w.Code)
	}
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/autosave/prefix", nil))
	if body := strings.TrimSpace(w.Body.String()); body != `{"str":"adns"}` {
		t.Errorf("got %s", body)
	}
}
