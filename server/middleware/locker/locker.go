// Package locker provides an HTTP middleware which allows a group of routes to be locked, returning 423 (locked)
package locker

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/syringelab/flowtrack/generichttp"
)

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = generichttp.GetBool(func() (bool, error) {
		return l.Locked(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = generichttp.SetBool(func(b bool) error {
		l.Set(b)
		return nil
	})
}

// Locker is a flag which behaves like a sync.Mutex without the blocking.
// While it is set, Check bounces every request whose path does not end
// in one of the DoNotProtect suffixes.
type Locker struct {
	mu       sync.Mutex
	isLocked bool

	// DoNotProtect is a list of path suffixes not to apply the lock to
	DoNotProtect []string
}

// New returns a new Locker with DoNotProtect prepopulated with "/lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"/lock"}}
}

// Set locks (true) or unlocks (false) the locker
func (l *Locker) Set(locked bool) {
	l.mu.Lock()
	changed := l.isLocked != locked
	l.isLocked = locked
	l.mu.Unlock()
	if changed {
		log.Printf("locker: locked=%v", locked)
	}
}

// Lock the locker
func (l *Locker) Lock() { l.Set(true) }

// Unlock the locker
func (l *Locker) Unlock() { l.Set(false) }

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLocked
}

func (l *Locker) protected(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, s := range l.DoNotProtect {
		if strings.HasSuffix(path, s) {
			return false
		}
	}
	return true
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() && l.protected(r.URL.Path) {
			http.Error(w, "locked", http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}
