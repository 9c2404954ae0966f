// Package imgrec saves sensor frames to disk as numbered FITS files in
// yyyy-mm-dd subfolders.
package imgrec

import (
	"bytes"
	"fmt"
	"go/types"
	"image"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/syringelab/flowtrack/camera"
	"github.com/syringelab/flowtrack/generichttp"
)

// Config is the startup state of a Recorder
type Config struct {
	Root    string `yaml:"root" koanf:"root"`
	Prefix  string `yaml:"prefix" koanf:"prefix"`
	Enabled bool   `yaml:"enabled" koanf:"enabled"`
}

// DefaultConfig records nothing until enabled, into ./frames
func DefaultConfig() Config {
	return Config{Root: "frames", Prefix: "adns"}
}

// Recorder records frames with incrementing filenames.  It is safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	counter int
	root    string
	prefix  string
	enabled bool

	// now is swapped in tests
	now func() time.Time
}

// New returns a recorder from a config
func New(cfg Config) *Recorder {
	return &Recorder{root: cfg.Root, prefix: cfg.Prefix, enabled: cfg.Enabled, now: time.Now}
}

// Root returns the root folder
func (r *Recorder) Root() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.root
}

// SetRoot changes the root folder and creates today's folder under it
func (r *Recorder) SetRoot(root string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.root = root
	r.counter = 0
	_, err := r.mkDir()
	return err
}

// Prefix returns the filename prefix
func (r *Recorder) Prefix() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prefix
}

// SetPrefix changes the filename prefix and restarts numbering
func (r *Recorder) SetPrefix(p string) error {
	if strings.ContainsAny(p, `/\`) {
		return fmt.Errorf("imgrec: prefix %q contains a path separator", p)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefix = p
	r.counter = 0
	return nil
}

// Enabled reports if consumers should record
func (r *Recorder) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// SetEnabled turns recording on or off
func (r *Recorder) SetEnabled(b bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = b
	return nil
}

func (r *Recorder) folder() string {
	return filepath.Join(r.root, r.now().Format("2006-01-02"))
}

// mkDir makes today's folder and returns it
func (r *Recorder) mkDir() (string, error) {
	fldr := r.folder()
	return fldr, os.MkdirAll(fldr, 0777)
}

// next scans the folder for the highest number in use with the current prefix
func (r *Recorder) next(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return r.counter
	}
	count := 0
	for _, e := range entries {
		fn := e.Name()
		if e.IsDir() || !strings.HasSuffix(fn, ".fits") || !strings.HasPrefix(fn, r.prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(fn, r.prefix), ".fits"))
		if err != nil {
			continue
		}
		if n >= count {
			count = n + 1
		}
	}
	if count > r.counter {
		return count
	}
	return r.counter
}

// Write implements io.Writer.  Each call writes p to a new numbered file.
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dir, err := r.mkDir()
	if err != nil {
		return 0, err
	}
	r.counter = r.next(dir)
	fn := filepath.Join(dir, fmt.Sprintf("%s%06d.fits", r.prefix, r.counter))
	r.counter++
	if err := os.WriteFile(fn, p, 0666); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Record writes img with its header cards as one FITS file
func (r *Recorder) Record(img *image.Gray, cards []fitsio.Card) error {
	buf := &bytes.Buffer{}
	if err := camera.WriteFits(buf, cards, []*image.Gray{img}); err != nil {
		return err
	}
	_, err := r.Write(buf.Bytes())
	return err
}

// HTTPWrapper is an HTTP wrapper around an image recorder that allows the folder and prefix to be changed on the fly
//
// it does not implement generichttp.HTTPer, offering an Inject method allowing it to be injected
// into another HTTPer
type HTTPWrapper struct {
	*Recorder
}

// NewHTTPWrapper returns an HTTP wrapper around a recorder
func NewHTTPWrapper(r *Recorder) HTTPWrapper {
	return HTTPWrapper{r}
}

func (h HTTPWrapper) str(f func() string) func() (string, error) {
	return func() (string, error) { return f(), nil }
}

// Inject adds GET and POST routes for /autosave/{root,prefix,enabled} to the HTTPer
func (h HTTPWrapper) Inject(other generichttp.HTTPer) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autosave/root"}] = generichttp.SetString(h.SetRoot)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autosave/root"}] = generichttp.GetString(h.str(h.Root))
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autosave/prefix"}] = generichttp.SetString(h.SetPrefix)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autosave/prefix"}] = generichttp.GetString(h.str(h.Prefix))
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/autosave/enabled"}] = generichttp.SetBool(func(b bool) error {
		log.Printf("imgrec: autosave enabled=%v", b)
		return h.SetEnabled(b)
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/autosave/enabled"}] = func(w http.ResponseWriter, r *http.Request) {
		hp := generichttp.HumanPayload{T: types.Bool, Bool: h.Enabled()}
		hp.EncodeAndRespond(w, r)
	}
}
