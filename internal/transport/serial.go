// Package transport implements the serial transport contract the
// controller FSM consumes: open/close a named port at a baud rate with a
// read timeout, write bytes, and read bytes until a delimiter or timeout.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// Port is the minimal surface a serial connection must offer. Implemented
// by *serial.Port in production and by a fake in tests.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// ErrTransportClosed reports an operation attempted on a transport that has
// no open port.
var ErrTransportClosed = errors.New("transport: not open")

// ErrAlreadyOpen reports a second Open call on a transport that already has
// a port open; only one port may be open per Transport instance.
var ErrAlreadyOpen = errors.New("transport: already open")

// TransportError wraps a lower-level I/O failure with the operation that
// triggered it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// compactThreshold mirrors the teacher's CompactBuffer heuristic: once the
// accumulation buffer exceeds this many bytes we consider reclaiming its
// backing array if most of it has already been consumed.
const compactThreshold = 1024

// Transport manages a single open serial port and the byte accumulator used
// to satisfy ReadUntil. It is not safe for concurrent use by more than one
// goroutine — the FSM is its only caller, and it calls sequentially.
type Transport struct {
	port Port
	acc  bytes.Buffer
	open func(name string, baud int, readTimeout time.Duration) (Port, error)
}

// New constructs an unopened Transport.
func New() *Transport {
	return &Transport{open: defaultOpen}
}

// WithOpenFunc overrides how Open obtains a Port. Exposed for tests that
// substitute a fake port instead of a real tty.
func (t *Transport) WithOpenFunc(fn func(name string, baud int, readTimeout time.Duration) (Port, error)) *Transport {
	t.open = fn
	return t
}

func defaultOpen(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{Name: name, Baud: baud, ReadTimeout: readTimeout}
	return serial.OpenPort(cfg)
}

// Open opens the named port at the given baud rate; reads block for at
// most readTimeout before returning a timeout. Only one port may be open
// per Transport.
func (t *Transport) Open(name string, baud int, readTimeout time.Duration) error {
	if t.port != nil {
		return ErrAlreadyOpen
	}
	p, err := t.open(name, baud, readTimeout)
	if err != nil {
		return &TransportError{Op: "open " + name, Err: err}
	}
	t.port = p
	t.acc.Reset()
	return nil
}

// Close closes the underlying port. The FSM must not close a transport it
// did not open (spec §5) — callers are expected to honor that at the
// wiring layer; Close itself is idempotent against a nil port.
func (t *Transport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	t.acc.Reset()
	if err != nil {
		return &TransportError{Op: "close", Err: err}
	}
	return nil
}

// Write sends bytes to the open port.
func (t *Transport) Write(p []byte) error {
	if t.port == nil {
		return ErrTransportClosed
	}
	if _, err := t.port.Write(p); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

// ReadUntil reads from the port until delimiter is found in the
// accumulated stream or the port's configured read timeout elapses with no
// further bytes arriving. It returns (frame, true, nil) on a complete
// delimiter-terminated read, (nil, false, nil) on timeout, and a non-nil
// error only for an unrecoverable I/O failure. Bytes read past the
// delimiter are retained in the accumulator for the next call.
func (t *Transport) ReadUntil(delimiter []byte) ([]byte, bool, error) {
	if t.port == nil {
		return nil, false, ErrTransportClosed
	}
	if frame, ok := t.takeDelimited(delimiter); ok {
		return frame, true, nil
	}

	buf := make([]byte, 4096)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			t.acc.Write(buf[:n])
			compact(&t.acc)
			if frame, ok := t.takeDelimited(delimiter); ok {
				return frame, true, nil
			}
			continue
		}
		if err != nil {
			if isTimeout(err) {
				return nil, false, nil
			}
			return nil, false, &TransportError{Op: "read", Err: err}
		}
		// n == 0, err == nil: no bytes and no error, treat as a timeout tick
		// rather than spinning.
		return nil, false, nil
	}
}

func (t *Transport) takeDelimited(delimiter []byte) ([]byte, bool) {
	data := t.acc.Bytes()
	idx := bytes.Index(data, delimiter)
	if idx < 0 {
		return nil, false
	}
	end := idx + len(delimiter)
	frame := append([]byte(nil), data[:end]...)
	t.acc.Next(end)
	return frame, true
}

// compact reclaims the accumulator's backing array once it has grown past
// compactThreshold but most of it has already been consumed, the same
// heuristic the teacher's CompactBuffer applies to its decode buffer.
func compact(b *bytes.Buffer) {
	data := b.Bytes()
	if len(data) < compactThreshold {
		return
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := append([]byte(nil), data...)
		b.Reset()
		b.Write(clone)
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	var te timeouter
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

// ListPorts enumerates candidate serial devices under root (typically
// "/dev"), returning those whose path looks like a USB/UART/ACM serial
// adapter. This narrows the original (pyserial's list_ports.comports(),
// which also inspects a USB descriptor string) to a device-path match,
// since the corpus carries no port-enumeration library with descriptor
// introspection — see SPEC_FULL.md §4.4.
func ListPorts(root string) ([]string, error) {
	if root == "" {
		root = "/dev"
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, &TransportError{Op: "list ports", Err: err}
	}
	var ports []string
	for _, e := range entries {
		name := e.Name()
		if strings.Contains(name, "USB") || strings.Contains(name, "UART") || strings.Contains(name, "ACM") {
			ports = append(ports, filepath.Join(root, name))
		}
	}
	return ports, nil
}
