package pipe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"audacity-mcp/internal/domain"
)

// fakeFile is an in-memory pipe end. Reads come from chunks in order; once
// they run out the file reports EOF, or blocks until closed if block is set.
type fakeFile struct {
	mu       sync.Mutex
	chunks   []readStep
	written  bytes.Buffer
	writeErr error
	block    bool
	// writeBlock parks Write until the file is closed, like a full pipe.
	writeBlock    bool
	writeDeadline time.Time
	done          chan struct{}
	closed        bool
}

type readStep struct {
	data string
	err  error
}

func newFakeFile() *fakeFile { return &fakeFile{done: make(chan struct{})} }

func (f *fakeFile) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return 0, os.ErrClosed
	}
	if len(f.chunks) == 0 {
		block := f.block
		f.mu.Unlock()
		if !block {
			return 0, io.EOF
		}
		<-f.done
		return 0, os.ErrClosed
	}
	step := &f.chunks[0]
	n := copy(p, step.data)
	step.data = step.data[n:]
	var err error
	if step.data == "" {
		err = step.err
		f.chunks = f.chunks[1:]
	}
	f.mu.Unlock()
	if n == 0 && err == nil {
		err = syscall.EAGAIN
	}
	return n, err
}

func (f *fakeFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	if f.writeBlock {
		f.mu.Unlock()
		<-f.done
		return 0, os.ErrClosed
	}
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.written.Write(p)
}

func (f *fakeFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeFile) SetReadDeadline(time.Time) error { return os.ErrNoDeadline }

func (f *fakeFile) SetWriteDeadline(d time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeDeadline = d
	return os.ErrNoDeadline
}

// streamFile is an inbound end that never stops sending fill and never
// sends a newline.
type streamFile struct {
	fill   byte
	delay  time.Duration
	served atomic.Int64
	closed atomic.Bool
}

func (f *streamFile) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, os.ErrClosed
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
		p = p[:1]
	}
	for i := range p {
		p[i] = f.fill
	}
	f.served.Add(int64(len(p)))
	return len(p), nil
}

func (f *streamFile) Write(p []byte) (int, error) { return len(p), nil }
func (f *streamFile) Close() error { f.closed.Store(true); return nil }
func (f *streamFile) SetReadDeadline(time.Time) error { return os.ErrNoDeadline }
func (f *streamFile) SetWriteDeadline(time.Time) error { return os.ErrNoDeadline }

// withInbound makes tr read from in instead of the fake inbound file.
func withInbound(tr *Transport, fp *fakePipes, in handle) {
	tr.open = func(name string, flag int) (handle, error) {
		if name == testPaths.FromApp {
			return in, nil
		}
		return fp.open(name, flag)
	}
}

func (f *fakeFile) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakePipes stands in for the filesystem: it tracks which endpoints exist
// and every handle handed out.
type fakePipes struct {
	mu      sync.Mutex
	exists  map[string]bool
	files   map[string]*fakeFile
	openErr map[string]error
	gate    map[string]chan struct{}
	opened  []*fakeFile
}

func newFakePipes(paths Paths) *fakePipes {
	return &fakePipes{
		exists:  map[string]bool{paths.ToApp: true, paths.FromApp: true},
		files:   map[string]*fakeFile{paths.ToApp: newFakeFile(), paths.FromApp: newFakeFile()},
		openErr: map[string]error{},
		gate:    map[string]chan struct{}{},
	}
}

func (p *fakePipes) open(name string, _ int) (handle, error) {
	p.mu.Lock()
	gate := p.gate[name]
	p.mu.Unlock()
	if gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openErr[name]; err != nil {
		return nil, err
	}
	f := p.files[name]
	p.opened = append(p.opened, f)
	return f, nil
}

func (p *fakePipes) stat(name string) (os.FileInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.exists[name] {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return nil, nil
}

func (p *fakePipes) openCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.opened)
}

func (p *fakePipes) allClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.opened {
		if !f.isClosed() {
			return false
		}
	}
	return true
}

var testPaths = Paths{ToApp: "/pipes/to", FromApp: "/pipes/from"}

func newTestTransport(t *testing.T, opts Options) (*Transport, *fakePipes) {
	t.Helper()
	if opts.Paths == (Paths{}) {
		opts.Paths = testPaths
	}
	tr := New(opts)
	fp := newFakePipes(tr.Paths())
	tr.open = fp.open
	tr.stat = fp.stat
	return tr, fp
}

func (p *fakePipes) respond(steps ...readStep) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.files[testPaths.FromApp].chunks = steps
}

func TestExchangeRoundTrip(t *testing.T) {
	tr, fp := newTestTransport(t, Options{EOL: "\n"})
	fp.respond(readStep{data: "Track1\nTrack2\n\n"})

	resp, err := tr.Exchange(context.Background(), "GetInfo: Type=Tracks", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Track1\nTrack2", resp)

	assert.Equal(t, "GetInfo: Type=Tracks\n", fp.files[testPaths.ToApp].written.String())
	assert.Equal(t, 2, fp.openCount())
	assert.True(t, fp.allClosed(), "both handles must be released")
}

func TestExchangeWritesPlatformTerminator(t *testing.T) {
	tr, fp := newTestTransport(t, Options{EOL: "\r\n\x00"})
	fp.respond(readStep{data: "ok\r\n\r\n"})

	resp, err := tr.Exchange(context.Background(), "Play", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.Equal(t, "Play\r\n\x00", fp.files[testPaths.ToApp].written.String())
}

func TestExchangeStopsAtFirstBlankLineAfterContent(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	fp.respond(readStep{data: "A\nB\n\nleftover\n\n"})

	resp, err := tr.Exchange(context.Background(), "Help", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A\nB", resp)
}

func TestExchangeLeadingBlankLineCountsAsContent(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	fp.respond(readStep{data: "\nHello\n\n"})

	resp, err := tr.Exchange(context.Background(), "Help", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "\nHello", resp)
}

func TestExchangeEndOfStreamWithContent(t *testing.T) {
	for _, data := range []string{"Track1\nTrack2", "Track1\nTrack2\n"} {
		tr, fp := newTestTransport(t, Options{})
		fp.respond(readStep{data: data})

		resp, err := tr.Exchange(context.Background(), "GetInfo: Type=Tracks", time.Second)
		require.NoError(t, err, "data %q", data)
		assert.Equal(t, "Track1\nTrack2", resp)
		assert.True(t, fp.allClosed())
	}
}

func TestExchangeResponseArrivesInPieces(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	fp.respond(
		readStep{data: "Tra", err: syscall.EAGAIN},
		readStep{data: "ck1\n", err: syscall.EAGAIN},
		readStep{data: "BatchCommand finished: OK\n"},
		readStep{data: "\n"},
	)

	resp, err := tr.Exchange(context.Background(), "GetInfo: Type=Tracks", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Track1\nBatchCommand finished: OK", resp)
}

func TestExchangeNotConnected(t *testing.T) {
	for _, missing := range []string{testPaths.ToApp, testPaths.FromApp} {
		tr, fp := newTestTransport(t, Options{})
		fp.exists[missing] = false

		assert.False(t, tr.Connected())
		_, err := tr.Exchange(context.Background(), "Play", time.Second)
		assert.True(t, errors.Is(err, domain.ErrNotConnected), "missing %s: got %v", missing, err)
		assert.Zero(t, fp.openCount(), "no handle may be opened when a pipe is missing")
	}
}

func TestExchangeTimeoutReleasesHandle(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	from := fp.files[testPaths.FromApp]
	from.block = true
	fp.respond(readStep{data: "partial\n"})

	start := time.Now()
	_, err := tr.Exchange(context.Background(), "GetInfo: Type=Tracks", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, fp.allClosed(), "inbound handle must be closed on timeout")
}

// An empty response cannot be told apart from one that has not been framed
// yet, so it runs into the deadline.
func TestExchangeEmptyResponseTimesOut(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})

	_, err := tr.Exchange(context.Background(), "Play", 40*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrTimeout), "got %v", err)
	assert.True(t, fp.allClosed())
}

func TestExchangeBlockedOpenTimesOut(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	gate := make(chan struct{})
	fp.gate[testPaths.FromApp] = gate
	fp.respond(readStep{data: "late\n\n"})

	_, err := tr.Exchange(context.Background(), "Play", 30*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrTimeout), "got %v", err)

	// The open finishing after the deadline must not leak the handle.
	close(gate)
	assert.Eventually(t, func() bool {
		return fp.openCount() == 2 && fp.allClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestExchangeWriteFailure(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	cause := errors.New("broken pipe")
	fp.files[testPaths.ToApp].writeErr = cause

	_, err := tr.Exchange(context.Background(), "Play", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCommunication))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, 1, fp.openCount(), "no read after a failed write")
	assert.True(t, fp.allClosed())
}

func TestExchangeOpenFailure(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	fp.openErr[testPaths.FromApp] = &fs.PathError{Op: "open", Path: testPaths.FromApp, Err: fs.ErrPermission}

	_, err := tr.Exchange(context.Background(), "Play", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCommunication))
	assert.True(t, errors.Is(err, fs.ErrPermission))
	assert.Contains(t, err.Error(), "open inbound pipe")
}

func TestExchangeReadFailure(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	fp.respond(readStep{data: "Track1\n", err: errors.New("input/output error")})

	_, err := tr.Exchange(context.Background(), "Play", time.Second)
	assert.True(t, errors.Is(err, domain.ErrCommunication), "got %v", err)
	assert.True(t, fp.allClosed())
}

func TestExchangeResponseTooLarge(t *testing.T) {
	tr, fp := newTestTransport(t, Options{MaxResponseBytes: 16})
	fp.respond(readStep{data: strings.Repeat("x", 10) + "\n" + strings.Repeat("y", 10) + "\n\n"})

	_, err := tr.Exchange(context.Background(), "Help", time.Second)
	assert.True(t, errors.Is(err, domain.ErrResponseTooLarge), "got %v", err)
	assert.True(t, errors.Is(err, domain.ErrCommunication))
	assert.True(t, fp.allClosed())
}

func TestExchangeUnterminatedStreamHitsSizeCap(t *testing.T) {
	tr, fp := newTestTransport(t, Options{MaxResponseBytes: 1024})
	in := &streamFile{fill: 'A'}
	withInbound(tr, fp, in)

	start := time.Now()
	_, err := tr.Exchange(context.Background(), "Help", 300*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrResponseTooLarge), "got %v", err)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
	assert.LessOrEqual(t, in.served.Load(), int64(1024+8192), "read far past the cap")
	assert.True(t, in.closed.Load())
}

func TestExchangeUnterminatedStreamHonoursDeadline(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	in := &streamFile{fill: 'A', delay: time.Millisecond}
	withInbound(tr, fp, in)

	start := time.Now()
	_, err := tr.Exchange(context.Background(), "Help", 50*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, in.closed.Load())
}

func TestExchangeBlockedWriteTimesOut(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	to := fp.files[testPaths.ToApp]
	to.writeBlock = true

	start := time.Now()
	_, err := tr.Exchange(context.Background(), "Play", 50*time.Millisecond)
	assert.True(t, errors.Is(err, domain.ErrTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, fp.openCount(), "no read after a failed write")
	assert.True(t, fp.allClosed())

	to.mu.Lock()
	defer to.mu.Unlock()
	assert.False(t, to.writeDeadline.IsZero(), "write deadline must be set")
}

func TestExchangeContextCanceled(t *testing.T) {
	tr, fp := newTestTransport(t, Options{})
	fp.files[testPaths.FromApp].block = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := tr.Exchange(ctx, "Play", 5*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCommunication), "got %v", err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, fp.allClosed())
}

func TestNewDefaults(t *testing.T) {
	tr := New(Options{})
	assert.Equal(t, DefaultPaths(), tr.Paths())
	assert.Equal(t, EOL, tr.eol)
	assert.Equal(t, DefaultMaxResponseBytes, tr.maxResponse)
}

func TestExchangeRegularFiles(t *testing.T) {
	dir := t.TempDir()
	paths := Paths{ToApp: filepath.Join(dir, "to"), FromApp: filepath.Join(dir, "from")}
	require.NoError(t, os.WriteFile(paths.ToApp, nil, 0o600))
	require.NoError(t, os.WriteFile(paths.FromApp, []byte("Track1\nTrack2\n\n"), 0o600))

	tr := New(Options{Paths: paths, EOL: "\n"})
	resp, err := tr.Exchange(context.Background(), "GetInfo: Type=Tracks", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "Track1\nTrack2", resp)

	sent, err := os.ReadFile(paths.ToApp)
	require.NoError(t, err)
	assert.Equal(t, "GetInfo: Type=Tracks\n", string(sent))
}
