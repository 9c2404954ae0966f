package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/syringelab/flowtrack/imgrec"
)

type still struct {
	img *image.Gray
	err error
}

func (s still) Snapshot() (*image.Gray, error) { return s.img, s.err }

func (s still) CollectHeaderMetadata() []fitsio.Card {
	return []fitsio.Card{{Name: "INSTRUME", Value: "test"}}
}

func get(h http.HandlerFunc, query string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/frame"+query, nil))
	return w
}

func TestGetFramePNGScaled(t *testing.T) {
	s := still{img: image.NewGray(image.Rect(0, 0, 30, 30))}
	w := get(GetFrame(s, nil), "?scale=10")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 300 {
		t.Errorf("width %d, want 300", img.Bounds().Dx())
	}
}

func TestGetFrameErrors(t *testing.T) {
	s := still{img: image.NewGray(image.Rect(0, 0, 2, 2))}
	cases := map[string]int{
		"?fmt=bmp":  http.StatusBadRequest,
		"?scale=x":  http.StatusBadRequest,
		"?scale=0":  http.StatusBadRequest,
		"?fmt=jpg":  http.StatusOK,
		"?fmt=fits": http.StatusOK,
	}
	for q, code := range cases {
		if got := get(GetFrame(s, nil), q).Code; got != code {
			t.Errorf("%s: got %d, want %d", q, got, code)
		}
	}
	none := still{err: errors.New("no frame yet")}
	if got := get(GetFrame(none, nil), "").Code; got != http.StatusServiceUnavailable {
		t.Errorf("missing frame gave %d", got)
	}
}

func TestGetFrameFitsAutosave(t *testing.T) {
	root := t.TempDir()
	rec := imgrec.New(imgrec.Config{Root: root, Prefix: "f", Enabled: true})
	s := still{img: image.NewGray(image.Rect(0, 0, 30, 30))}
	w := get(GetFrame(s, rec), "?fmt=fits")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.HasPrefix(w.Body.String(), "SIMPLE") {
		t.Error("response is not a FITS file")
	}
	matches, _ := filepath.Glob(filepath.Join(root, "*", "f*.fits"))
	if len(matches) != 1 {
		t.Fatalf("expected one autosaved file, found %v", matches)
	}
	fi, err := os.Stat(matches[0])
	if err != nil || fi.Size() != int64(w.Body.Len()) {
		t.Errorf("saved file differs from the response")
	}
}

// moving captures a new frame on every read, like a poller running
// alongside the HTTP server.  Frame n has every pixel set to n.
type moving struct {
	mu sync.Mutex
	n  int
}

func (m *moving) next() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.n++
	return m.n
}

func frameOf(n int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(n)
	}
	return img
}

func (m *moving) Snapshot() (*image.Gray, error) { return frameOf(m.next()), nil }

func (m *moving) CollectHeaderMetadata() []fitsio.Card {
	return []fitsio.Card{{Name: "FRAME", Value: fmt.Sprint(m.next())}}
}

func (m *moving) SnapshotWithMetadata() (*image.Gray, []fitsio.Card, error) {
	n := m.next()
	return frameOf(n), []fitsio.Card{{Name: "FRAME", Value: fmt.Sprint(n)}}, nil
}

func TestGetFrameFitsHeaderMatchesPixels(t *testing.T) {
	w := get(GetFrame(&moving{}, nil), "?fmt=fits")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	f, err := fitsio.Open(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img := f.HDU(0).(fitsio.Image)
	data := make([]int16, 16)
	if err := img.Read(&data); err != nil {
		t.Fatal(err)
	}
	c := img.Header().Get("FRAME")
	if c == nil {
		t.Fatal("FRAME card missing")
	}
	if c.Value != fmt.Sprint(data[0]) {
		t.Errorf("header describes frame %v, pixels are from frame %d", c.Value, data[0])
	}
}
