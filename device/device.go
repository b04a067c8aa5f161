package device

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/tmem"
	"github.com/hupe1980/tmem/resource"
)

var (
	// ErrBusy is returned by Open while another handle is open.
	ErrBusy = errors.New("device: busy")

	// ErrUnknownCommand is returned by Do for an unsupported command.
	ErrUnknownCommand = errors.New("device: unknown command")

	// ErrClosed is returned by operations on a closed handle.
	ErrClosed = errors.New("device: handle closed")
)

// Cmd is a device command.
type Cmd uint32

const (
	// CmdGet copies the page of Key into Buf.
	CmdGet Cmd = iota + 1
	// CmdPut stores Buf as the page of Key.
	CmdPut
	// CmdInval forgets Key.
	CmdInval
)

func (c Cmd) String() string {
	switch c {
	case CmdGet:
		return "get"
	case CmdPut:
		return "put"
	case CmdInval:
		return "inval"
	default:
		return fmt.Sprintf("cmd(%d)", uint32(c))
	}
}

// Request is one device command.
type Request struct {
	Cmd Cmd
	Key uint64
	// Buf must be exactly tmem.PageSize bytes for CmdGet and CmdPut and is
	// ignored by CmdInval.
	Buf []byte
}

// Device serializes access to a backend behind one open handle.
type Device struct {
	backend   tmem.Backend
	resources *resource.Controller
	logger    *tmem.Logger
	open      *semaphore.Weighted
}

// Option configures a Device.
type Option func(*Device)

// WithResourceController throttles page transfers by rc's IO limit.
func WithResourceController(rc *resource.Controller) Option {
	return func(d *Device) {
		d.resources = rc
	}
}

// WithLogger sets the logger. Defaults to tmem.NoopLogger.
func WithLogger(l *tmem.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a device over backend.
func New(backend tmem.Backend, opts ...Option) *Device {
	d := &Device{
		backend: backend,
		logger:  tmem.NoopLogger(),
		open:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open returns the device handle, or ErrBusy if it is already open.
func (d *Device) Open() (*Handle, error) {
	if !d.open.TryAcquire(1) {
		return nil, ErrBusy
	}
	return &Handle{dev: d, scratch: new(tmem.Page)}, nil
}

// Handle is an open device. It is safe for concurrent use; commands are
// executed one at a time.
type Handle struct {
	dev *Device

	mu      sync.Mutex
	scratch *tmem.Page
	closed  bool
}

// Do executes req.
func (h *Handle) Do(ctx context.Context, req Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	err := h.do(ctx, req)
	if err != nil {
		h.dev.logger.DebugContext(ctx, "device command failed",
			"cmd", req.Cmd.String(),
			"key", req.Key,
			"error", err,
		)
	}
	return err
}

func (h *Handle) do(ctx context.Context, req Request) error {
	switch req.Cmd {
	case CmdGet:
		if err := h.transfer(ctx, req.Buf); err != nil {
			return err
		}
		if err := h.dev.backend.Load(req.Key, h.scratch); err != nil {
			return err
		}
		copy(req.Buf, h.scratch[:])
		return nil

	case CmdPut:
		if err := h.transfer(ctx, req.Buf); err != nil {
			return err
		}
		copy(h.scratch[:], req.Buf)
		return h.dev.backend.Store(req.Key, h.scratch)

	case CmdInval:
		h.dev.backend.Invalidate(req.Key)
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, req.Cmd)
	}
}

// transfer validates buf and waits for IO budget for one page.
func (h *Handle) transfer(ctx context.Context, buf []byte) error {
	if len(buf) != tmem.PageSize {
		return &tmem.ErrPageSizeMismatch{Expected: tmem.PageSize, Actual: len(buf)}
	}
	return h.dev.resources.AcquireIO(ctx, tmem.PageSize)
}

// Get copies the page of key into buf.
func (h *Handle) Get(ctx context.Context, key uint64, buf []byte) error {
	return h.Do(ctx, Request{Cmd: CmdGet, Key: key, Buf: buf})
}

// Put stores buf as the page of key.
func (h *Handle) Put(ctx context.Context, key uint64, buf []byte) error {
	return h.Do(ctx, Request{Cmd: CmdPut, Key: key, Buf: buf})
}

// Invalidate forgets key.
func (h *Handle) Invalidate(ctx context.Context, key uint64) error {
	return h.Do(ctx, Request{Cmd: CmdInval, Key: key})
}

// Close releases the handle so the device can be opened again.
// It is idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.scratch = nil
	h.dev.open.Release(1)
	return nil
}
