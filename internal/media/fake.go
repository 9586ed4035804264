package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
)

// FakeDevices is an in-memory Devices implementation for tests. Capture
// serves the configured PCM bytes; playback records what was written.
type FakeDevices struct {
	mu sync.Mutex

	CapturePCM []byte
	CaptureErr error
	// CaptureHold keeps the stream open after the PCM is drained, like a
	// real microphone does, until the stream is closed.
	CaptureHold bool

	PlaybackErr error
	// PlaybackHold keeps each playback running after its bytes are
	// written, like a real output device, until released or killed.
	PlaybackHold bool
	captures     []*fakeCapture
	players      []*FakePlayer
}

func (d *FakeDevices) OpenCapture(_ context.Context, _ int) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CaptureErr != nil {
		return nil, d.CaptureErr
	}
	c := &fakeCapture{data: bytes.NewReader(d.CapturePCM), hold: d.CaptureHold, closed: make(chan struct{})}
	d.captures = append(d.captures, c)
	return c, nil
}

// OpenCaptures counts capture streams that were never closed.
func (d *FakeDevices) OpenCaptures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.captures {
		if !c.Closed() {
			n++
		}
	}
	return n
}

// ActivePlaybacks counts players that neither finished nor were killed.
func (d *FakeDevices) ActivePlaybacks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.players {
		if !p.Finished() && !p.Killed() {
			n++
		}
	}
	return n
}

func (d *FakeDevices) OpenPlayback(_ context.Context, mimeType string) (Player, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PlaybackErr != nil {
		return nil, d.PlaybackErr
	}
	p := &FakePlayer{MIMEType: mimeType, killedCh: make(chan struct{})}
	if d.PlaybackHold {
		p.hold = make(chan struct{})
	}
	d.players = append(d.players, p)
	return p, nil
}

// Players returns every playback opened so far.
func (d *FakeDevices) Players() []*FakePlayer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*FakePlayer(nil), d.players...)
}

type fakeCapture struct {
	mu     sync.Mutex
	data   *bytes.Reader
	hold   bool
	closed chan struct{}
}

func (c *fakeCapture) Read(p []byte) (int, error) {
	c.mu.Lock()
	n, err := c.data.Read(p)
	c.mu.Unlock()
	if errors.Is(err, io.EOF) && c.hold {
		// Block like an idle microphone until the stream is closed.
		<-c.closed
		return n, io.EOF
	}
	return n, err
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *fakeCapture) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// FakePlayer records one playback.
type FakePlayer struct {
	mu       sync.Mutex
	MIMEType string
	buf      bytes.Buffer
	finished bool
	killed   bool
	hold     chan struct{}
	killedCh chan struct{}
}

func (p *FakePlayer) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Write(data)
}

func (p *FakePlayer) Finish() error {
	p.mu.Lock()
	hold := p.hold
	p.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-p.killedCh:
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.killed {
		return errors.New("playback killed")
	}
	p.finished = true
	return nil
}

func (p *FakePlayer) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	select {
	case <-p.killedCh:
	default:
		close(p.killedCh)
	}
	return nil
}

// Release ends a held playback so Finish can return.
func (p *FakePlayer) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hold == nil {
		return
	}
	select {
	case <-p.hold:
	default:
		close(p.hold)
	}
}

func (p *FakePlayer) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.buf.Bytes()...)
}

func (p *FakePlayer) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

func (p *FakePlayer) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}
