/*Package comm provides a register-oriented transport for SPI peripherals.

Most usages of this package will boil down to:
	1.  open a RegisterBus, either with OpenSPI on real hardware or
		NewRegisterBus around any Conn (for example a simulator)
	2.  hand the bus to a device driver, which uses Read and Write to
		talk to its registers
	3.  Close the bus on the way out

A register write is the address byte with the write bit (0x80) set, followed by
the payload.  A register read is a full-duplex exchange of the address byte and
n placeholder bytes; the first byte clocked back is an echo and is dropped.

	bus, err := comm.OpenSPI(comm.DefaultSPIConfig())
	if err != nil {
		return err
	}
	defer bus.Close()
	id, err := bus.Read(0x00, 1)
*/
package comm

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
)

const (
	// WriteBit is OR'd into the register address of every write
	WriteBit = 0x80

	// Placeholder is clocked out on MOSI while reading
	Placeholder = 0xff
)

var (
	// ErrNotOpen is generated when the bus has been closed or was never opened
	ErrNotOpen = errors.New("bus is not open")

	// ErrEmptyTransfer is generated when a zero length exchange is requested
	ErrEmptyTransfer = errors.New("transfer has no bytes")
)

// Conn is a full-duplex byte exchanger.  periph's spi.Conn satisfies it.
//
// r may be nil for write-only transfers, otherwise len(r) == len(w).
type Conn interface {
	Tx(w, r []byte) error
}

// RegisterBus owns a Conn and its open/closed state.
// It is safe for concurrent use; every exchange holds the bus exclusively.
type RegisterBus struct {
	mu     sync.Mutex
	conn   Conn
	closer io.Closer
	open   bool
}

// NewRegisterBus wraps an already-connected Conn.  closer may be nil.
func NewRegisterBus(conn Conn, closer io.Closer) *RegisterBus {
	return &RegisterBus{conn: conn, closer: closer, open: conn != nil}
}

// IsOpen returns true if the bus can be used
func (b *RegisterBus) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Close releases the underlying handle.  Closing a closed bus is a no-op.
func (b *RegisterBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	b.open = false
	b.conn = nil
	if b.closer == nil {
		return nil
	}
	err := b.closer.Close()
	b.closer = nil
	return errors.Wrap(err, "closing bus")
}

// Write sends the register address with the write bit set, followed by payload
func (b *RegisterBus) Write(reg byte, payload ...byte) error {
	w := make([]byte, 0, len(payload)+1)
	w = append(w, reg|WriteBit)
	w = append(w, payload...)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return ErrNotOpen
	}
	return errors.Wrapf(b.conn.Tx(w, nil), "writing register 0x%02x", reg)
}

// Read reads n bytes from a register, clocking out Placeholder bytes
func (b *RegisterBus) Read(reg byte, n int) ([]byte, error) {
	fill := make([]byte, n)
	for i := range fill {
		fill[i] = Placeholder
	}
	return b.ReadFill(reg, fill)
}

// ReadFill is Read with a caller supplied pattern clocked out after the address.
// The returned slice has len(fill) bytes.
func (b *RegisterBus) ReadFill(reg byte, fill []byte) ([]byte, error) {
	if len(fill) == 0 {
		return nil, ErrEmptyTransfer
	}
	w := make([]byte, 0, len(fill)+1)
	w = append(w, reg)
	w = append(w, fill...)
	r, err := b.Transfer(w)
	if err != nil {
		return nil, errors.Wrapf(err, "reading register 0x%02x", reg)
	}
	return r[1:], nil
}

// Transfer performs one raw full-duplex exchange and returns every byte received,
// including the echo of the first
func (b *RegisterBus) Transfer(w []byte) ([]byte, error) {
	if len(w) == 0 {
		return nil, ErrEmptyTransfer
	}
	r := make([]byte, len(w))
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil, ErrNotOpen
	}
	if err := b.conn.Tx(w, r); err != nil {
		return nil, err
	}
	return r, nil
}

// retry runs op under the same exponential policy the instrument drivers
// use for their links.  Permission errors are not retried.
func retry(op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && strings.Contains(strings.ToLower(err.Error()), "permission") {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
}
