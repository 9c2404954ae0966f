package comm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/syringelab/flowtrack/comm"
)

// echoConn records every transmit and answers each byte with its index
type echoConn struct {
	sent [][]byte
	fail error
}

func (e *echoConn) Tx(w, r []byte) error {
	if e.fail != nil {
		return e.fail
	}
	cp := append([]byte(nil), w...)
	e.sent = append(e.sent, cp)
	for i := range r {
		r[i] = byte(i)
	}
	return nil
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error {
	c.n++
	return nil
}

func TestWriteSetsWriteBit(t *testing.T) {
	conn := &echoConn{}
	bus := comm.NewRegisterBus(conn, nil)
	if err := bus.Write(0x0a, 0x10); err != nil {
		t.Fatal(err)
	}
	expected := []byte{0x8a, 0x10}
	if !bytes.Equal(conn.sent[0], expected) {
		t.Errorf("expected % x got % x", expected, conn.sent[0])
	}
}

func TestReadDropsEcho(t *testing.T) {
	conn := &echoConn{}
	bus := comm.NewRegisterBus(conn, nil)
	got, err := bus.Read(0x50, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(conn.sent[0], []byte{0x50, 0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("unexpected transmit % x", conn.sent[0])
	}
	if !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Errorf("expected echo byte to be dropped, got % x", got)
	}
}

func TestReadFillUsesPattern(t *testing.T) {
	conn := &echoConn{}
	bus := comm.NewRegisterBus(conn, nil)
	got, err := bus.ReadFill(0x13, []byte{0xff, 0x13, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(conn.sent[0], []byte{0x13, 0xff, 0x13, 0xff}) {
		t.Errorf("unexpected transmit % x", conn.sent[0])
	}
	if len(got) != 3 {
		t.Errorf("expected 3 bytes, got %d", len(got))
	}
}

func TestClosedBusRefuses(t *testing.T) {
	cc := &closeCounter{}
	bus := comm.NewRegisterBus(&echoConn{}, cc)
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if cc.n != 1 {
		t.Errorf("expected the handle to be released once, got %d", cc.n)
	}
	if bus.IsOpen() {
		t.Error("bus reports open after Close")
	}
	if _, err := bus.Read(0, 1); !errors.Is(err, comm.ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
	if err := bus.Write(0, 1); !errors.Is(err, comm.ErrNotOpen) {
		t.Errorf("expected ErrNotOpen, got %v", err)
	}
}

func TestNilConnIsClosed(t *testing.T) {
	bus := comm.NewRegisterBus(nil, nil)
	if bus.IsOpen() {
		t.Error("a bus without a conn must not report open")
	}
}

func TestTransferErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	bus := comm.NewRegisterBus(&echoConn{fail: boom}, nil)
	if _, err := bus.Read(0, 1); !errors.Is(err, boom) {
		t.Errorf("expected wrapped transport error, got %v", err)
	}
}

func TestEmptyTransfer(t *testing.T) {
	bus := comm.NewRegisterBus(&echoConn{}, nil)
	if _, err := bus.Transfer(nil); !errors.Is(err, comm.ErrEmptyTransfer) {
		t.Errorf("expected ErrEmptyTransfer, got %v", err)
	}
}
