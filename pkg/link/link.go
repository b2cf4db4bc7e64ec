// Package link talks to the base controller over a serial line.
//
// Messages are newline-delimited JSON. The host sends one twist per line:
//
//	{"linear":{"x":0.5,"y":0,"z":0},"angular":{"x":0,"y":0,"z":0}}
//
// The base sends a hello once it is ready, then range scans:
//
//	{"type":"hello"}
//	{"type":"scan","ranges":[...]}
package link

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"

	"github.com/gwillem/teleop-keyboard/pkg/robot"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// Port is the subset of a serial port the link needs.
type Port interface {
	io.ReadWriter
	io.Closer
}

// ScanHandler receives range scans from the base.
type ScanHandler interface {
	HandleScan(ranges []float64) error
}

// Message types sent by the base.
const (
	TypeHello = "hello"
	TypeScan  = "scan"
)

// Message is one inbound line.
type Message struct {
	Type   string    `json:"type"`
	Ranges []float64 `json:"ranges,omitempty"`
}

// Link is a CommandSink backed by a serial port.
type Link struct {
	name      string
	port      Port
	writeMu   sync.Mutex
	connected atomic.Bool
	scans     atomic.Uint64
	errors    atomic.Uint64
	logf      func(format string, args ...any)
}

// Option configures a Link.
type Option func(*Link)

// WithLogger sets the function malformed lines are reported to.
func WithLogger(logf func(format string, args ...any)) Option {
	return func(l *Link) { l.logf = logf }
}

// Open opens the serial port at path.
func Open(path string, baudRate int, opts ...Option) (*Link, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return New(path, port, opts...), nil
}

// New wraps an already open port.
func New(name string, port Port, opts ...Option) *Link {
	l := &Link{
		name: name,
		port: port,
		logf: func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ports lists the serial ports on this machine.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

func (l *Link) String() string {
	return l.name
}

// Connections returns 1 once the base has sent a valid message.
func (l *Link) Connections() int {
	if l.connected.Load() {
		return 1
	}
	return 0
}

// Stats returns the number of scans received and lines rejected.
func (l *Link) Stats() (scans, rejected uint64) {
	return l.scans.Load(), l.errors.Load()
}

// Publish writes one twist line.
func (l *Link) Publish(ctx context.Context, cmd robot.Twist) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encode twist: %w", err)
	}
	data = append(data, '\n')

	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return writeAll(l.port, data)
}

// writeAll keeps writing until data is gone. A write that makes no progress
// fails with ErrWriteFailed.
func writeAll(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n <= 0 {
			return ErrWriteFailed
		}
		data = data[n:]
	}
	return nil
}

// Monitor reads lines from the base and hands scans to h until ctx ends or
// the port fails.
func (l *Link) Monitor(ctx context.Context, h ScanHandler) error {
	scan := bufio.NewScanner(l.port)
	scan.Buffer(make([]byte, 64*1024), 1024*1024)

	lines := make(chan string)
	scanErr := make(chan error, 1)

	// Scan blocks in Read, so it runs apart from the ctx select below.
	go func() {
		defer close(lines)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read %s: %w", l.name, err)
					}
				default:
				}
				return io.EOF
			}
			l.handleLine(line, h)
		}
	}
}

func (l *Link) handleLine(line string, h ScanHandler) {
	if line == "" {
		return
	}
	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		l.errors.Add(1)
		l.logf("Bad line from %s: %v", l.name, err)
		return
	}

	switch msg.Type {
	case TypeHello:
		l.connected.Store(true)
	case TypeScan:
		l.connected.Store(true)
		if h == nil {
			return
		}
		if err := h.HandleScan(msg.Ranges); err != nil {
			l.errors.Add(1)
			l.logf("Bad scan from %s: %v", l.name, err)
			return
		}
		l.scans.Add(1)
	default:
		l.errors.Add(1)
		l.logf("Unknown message %q from %s", msg.Type, l.name)
	}
}

// Close closes the port.
func (l *Link) Close() error {
	return l.port.Close()
}
