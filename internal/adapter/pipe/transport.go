// Package pipe exchanges framed text commands with Audacity's mod-script-pipe
// over a pair of named pipes.
//
// An exchange writes one command followed by EOL to the outbound pipe, then
// reads the inbound pipe line by line. A blank line received after any
// response text ends the response; so does end of stream once text has been
// received. Nothing is cached between exchanges: both pipes are checked,
// opened and closed on every call. Callers must not run exchanges
// concurrently against the same pipe pair.
package pipe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"audacity-mcp/internal/domain"
)

// DefaultMaxResponseBytes caps the text accumulated for a single response.
const DefaultMaxResponseBytes = 1 << 20

// pollInterval is how long the read loop sleeps when the inbound pipe has
// no data and no writer.
const pollInterval = 10 * time.Millisecond

// Paths names the two endpoints of the channel pair.
type Paths struct {
	ToApp   string // write-only, commands to Audacity
	FromApp string // read-only, responses from Audacity
}

// handle is the subset of *os.File used by an exchange.
type handle interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Options configures a Transport. Zero values select the platform defaults.
type Options struct {
	Paths            Paths
	EOL              string
	MaxResponseBytes int
	Logger           *slog.Logger
}

// Transport implements domain.Transport over mod-script-pipe.
type Transport struct {
	paths       Paths
	eol         string
	maxResponse int
	logger      *slog.Logger

	open func(name string, flag int) (handle, error)
	stat func(name string) (os.FileInfo, error)
}

// New creates a Transport.
func New(opts Options) *Transport {
	t := &Transport{
		paths:       opts.Paths,
		eol:         opts.EOL,
		maxResponse: opts.MaxResponseBytes,
		logger:      opts.Logger,
		open: func(name string, flag int) (handle, error) {
			f, err := os.OpenFile(name, flag, 0)
			if err != nil {
				return nil, err
			}
			return f, nil
		},
		stat: os.Stat,
	}
	def := DefaultPaths()
	if t.paths.ToApp == "" {
		t.paths.ToApp = def.ToApp
	}
	if t.paths.FromApp == "" {
		t.paths.FromApp = def.FromApp
	}
	if t.eol == "" {
		t.eol = EOL
	}
	if t.maxResponse <= 0 {
		t.maxResponse = DefaultMaxResponseBytes
	}
	if t.logger == nil {
		t.logger = slog.New(slog.DiscardHandler)
	}
	return t
}

// Paths returns the endpoints this transport talks to.
func (t *Transport) Paths() Paths { return t.paths }

// Connected reports whether both endpoints currently exist.
func (t *Transport) Connected() bool {
	if _, err := t.stat(t.paths.ToApp); err != nil {
		return false
	}
	if _, err := t.stat(t.paths.FromApp); err != nil {
		return false
	}
	return true
}

// Exchange sends command and returns Audacity's response with trailing
// whitespace trimmed. The outbound open and write, and separately the whole
// read phase, are each bounded by timeout. At most MaxResponseBytes plus one
// buffer of response text is held in memory.
//
// Errors wrap domain.ErrNotConnected, domain.ErrTimeout or
// domain.ErrCommunication.
func (t *Transport) Exchange(ctx context.Context, command string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = domain.DefaultExchangeTimeout
	}
	if !t.Connected() {
		return "", domain.NewDomainError("Transport.Exchange", domain.ErrNotConnected,
			"outbound or inbound pipe is missing")
	}

	id := ulid.Make().String()
	start := time.Now()

	writeCtx, cancelWrite := context.WithTimeout(ctx, timeout)
	err := t.write(writeCtx, command)
	cancelWrite()
	if err != nil {
		t.logger.Debug("pipe write failed", "exchange_id", id, "error", err)
		return "", err
	}

	readCtx, cancelRead := context.WithTimeout(ctx, timeout)
	defer cancelRead()
	resp, err := t.read(readCtx, timeout)
	if err != nil {
		t.logger.Debug("pipe read failed", "exchange_id", id, "error", err,
			"elapsed", time.Since(start))
		return "", err
	}

	t.logger.Debug("pipe exchange complete", "exchange_id", id,
		"response_bytes", len(resp), "elapsed", time.Since(start))
	return resp, nil
}

func (t *Transport) write(ctx context.Context, command string) error {
	h, err := t.openWithin(ctx, t.paths.ToApp, writeFlag)
	if err != nil {
		return stepError(ctx, "open outbound pipe", err)
	}
	h = &onceCloser{handle: h}

	// A full pipe buffer would park the write; same two guards as the read.
	if deadline, ok := ctx.Deadline(); ok {
		_ = h.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { h.Close() })
	_, err = io.WriteString(h, command+t.eol)
	stop()
	if err != nil {
		h.Close()
		if ctx.Err() != nil {
			err = ctx.Err()
		} else if errors.Is(err, os.ErrDeadlineExceeded) {
			err = context.DeadlineExceeded
		}
		return stepError(ctx, "write command", err)
	}
	// Closing the write end is what delivers the message.
	if err := h.Close(); err != nil {
		return communicationError("close outbound pipe", err)
	}
	return nil
}

func (t *Transport) read(ctx context.Context, timeout time.Duration) (string, error) {
	h, err := t.openWithin(ctx, t.paths.FromApp, readFlag)
	if err != nil {
		return "", stepError(ctx, "open inbound pipe", err)
	}
	h = &onceCloser{handle: h}
	defer h.Close()

	// A pollable pipe honours the deadline directly; for anything else the
	// watchdog closes the handle to unblock a pending read.
	if deadline, ok := ctx.Deadline(); ok {
		_ = h.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { h.Close() })
	defer stop()

	var (
		resp    strings.Builder
		pending strings.Builder
		br      = bufio.NewReader(h)
	)
	for {
		if ctx.Err() != nil {
			return "", deadlineError(ctx, timeout)
		}

		// ReadSlice hands back at most one buffer per call, so the cap and
		// the deadline are rechecked even when no newline ever arrives.
		chunk, err := br.ReadSlice('\n')
		pending.Write(chunk)
		if resp.Len()+pending.Len() > t.maxResponse {
			return "", domain.NewDomainError("Transport.Exchange", domain.ErrResponseTooLarge,
				fmt.Sprintf("more than %d bytes", t.maxResponse))
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err == nil {
			line := pending.String()
			pending.Reset()
			if isBlank(line) && resp.Len() > 0 {
				return strings.TrimRightFunc(resp.String(), isSpace), nil
			}
			resp.WriteString(line)
			continue
		}

		switch {
		case ctx.Err() != nil, errors.Is(err, os.ErrDeadlineExceeded):
			return "", deadlineError(ctx, timeout)
		case errors.Is(err, io.EOF):
			if resp.Len()+pending.Len() > 0 {
				return strings.TrimRightFunc(resp.String()+pending.String(), isSpace), nil
			}
			// Nothing framed yet; the writer may not have opened its end.
		case errors.Is(err, syscall.EAGAIN):
			// Non-pollable non-blocking pipe with no data yet.
		default:
			return "", communicationError("read response", err)
		}

		select {
		case <-ctx.Done():
			return "", deadlineError(ctx, timeout)
		case <-time.After(pollInterval):
		}
	}
}

// openWithin opens name but gives up when ctx is done. A handle that
// arrives after the caller gave up is closed.
func (t *Transport) openWithin(ctx context.Context, name string, flag int) (handle, error) {
	type result struct {
		h   handle
		err error
	}
	ch := make(chan result, 1)
	go func() {
		h, err := t.open(name, flag)
		ch <- result{h, err}
	}()

	select {
	case r := <-ch:
		return r.h, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				r.h.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// isBlank reports whether line is the framing terminator. CRLF counts.
func isBlank(line string) bool {
	return strings.TrimRight(line, "\r\n") == ""
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\x00'
}

func communicationError(step string, cause error) error {
	return fmt.Errorf("%s: %w: %w", step, domain.ErrCommunication, cause)
}

// stepError classifies an open failure: the deadline firing is a timeout,
// anything else is a communication error.
func stepError(ctx context.Context, step string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewDomainError("Transport.Exchange", domain.ErrTimeout, step)
	}
	if ctx.Err() != nil {
		return communicationError(step, ctx.Err())
	}
	return communicationError(step, err)
}

func deadlineError(ctx context.Context, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return communicationError("read response", ctx.Err())
	}
	return domain.NewDomainError("Transport.Exchange", domain.ErrTimeout,
		fmt.Sprintf("no framed response within %s", timeout))
}

// onceCloser makes Close idempotent so the watchdog and the deferred close
// can race safely.
type onceCloser struct {
	handle
	once sync.Once
	err  error
}

func (c *onceCloser) Close() error {
	c.once.Do(func() { c.err = c.handle.Close() })
	return c.err
}

var _ domain.Transport = (*Transport)(nil)
