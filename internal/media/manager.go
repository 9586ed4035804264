package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/aleksvoss/murmur/internal/audio"
)

const (
	// CaptureSampleRate is the mono PCM16 rate requested from the device.
	CaptureSampleRate = audio.DefaultSampleRate
	// LevelInterval is the cadence of capture level and visualization
	// callbacks.
	LevelInterval = 50 * time.Millisecond
)

var (
	ErrMicrophoneUnavailable = errors.New("microphone unavailable")
	ErrCaptureInProgress     = errors.New("a capture is already in progress")
)

// Clip is one finished recording.
type Clip struct {
	Data     []byte
	MIMEType string
	Duration time.Duration
	// Peak is the loudest RMS window observed across the whole recording.
	// A near-zero peak means the user pressed the button but said nothing.
	Peak float64
}

// Manager owns the host audio devices: at most one capture and at most one
// playback exist at a time. Starting a new playback stops the current one.
type Manager struct {
	devices Devices

	mu        sync.Mutex
	capturing bool
	current   *Playback
}

func NewManager(devices Devices) *Manager {
	return &Manager{devices: devices}
}

// AcquireMicrophone opens the capture device and starts buffering audio.
func (m *Manager) AcquireMicrophone(ctx context.Context) (*Recorder, error) {
	m.mu.Lock()
	if m.capturing {
		m.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	m.capturing = true
	m.mu.Unlock()

	stream, err := m.devices.OpenCapture(ctx, CaptureSampleRate)
	if err != nil {
		m.releaseCapture()
		return nil, fmt.Errorf("%w: %v", ErrMicrophoneUnavailable, err)
	}

	rec := &Recorder{
		stream:     stream,
		sampleRate: CaptureSampleRate,
		release:    m.releaseCapture,
		readDone:   make(chan struct{}),
		levelStop:  make(chan struct{}),
	}
	go rec.readLoop()
	return rec, nil
}

func (m *Manager) releaseCapture() {
	m.mu.Lock()
	m.capturing = false
	m.mu.Unlock()
}

// Play starts playing one encoded clip, stopping any playback in progress.
func (m *Manager) Play(ctx context.Context, data []byte, mimeType string) (*Playback, error) {
	m.mu.Lock()
	if cur := m.current; cur != nil {
		m.mu.Unlock()
		cur.Stop()
		m.mu.Lock()
	}

	player, err := m.devices.OpenPlayback(ctx, mimeType)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	pb := newPlayback(player, data)
	m.current = pb
	m.mu.Unlock()

	go pb.run(data)
	go func() {
		<-pb.done
		m.mu.Lock()
		if m.current == pb {
			m.current = nil
		}
		m.mu.Unlock()
	}()
	return pb, nil
}

// Recorder buffers one capture until Stop.
type Recorder struct {
	stream     io.ReadCloser
	sampleRate int
	release    func()

	mu      sync.Mutex
	pcm     []byte
	closing bool
	stopped bool
	clip    *Clip
	stopErr error

	readDone chan struct{}
	readErr  error

	levelStop chan struct{}
	levelOnce sync.Once
	monitorOn bool
}

func (r *Recorder) readLoop() {
	defer close(r.readDone)
	buf := make([]byte, 4096)
	for {
		n, err := r.stream.Read(buf)
		if n > 0 {
			r.mu.Lock()
			r.pcm = append(r.pcm, buf[:n]...)
			r.mu.Unlock()
		}
		if err != nil {
			r.mu.Lock()
			closing := r.closing
			r.mu.Unlock()
			// Errors after Stop killed the device are expected.
			if !closing && !errors.Is(err, io.EOF) {
				r.readErr = err
			}
			return
		}
	}
}

// StartLevelMonitor reports the RMS level of the newest capture window every
// LevelInterval until the recording stops. Starting twice is a no-op.
func (r *Recorder) StartLevelMonitor(fn func(level float64)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	if r.monitorOn || r.stopped {
		r.mu.Unlock()
		return
	}
	r.monitorOn = true
	r.mu.Unlock()
	go r.monitor(fn)
}

func (r *Recorder) monitor(fn func(float64)) {
	ticker := time.NewTicker(LevelInterval)
	defer ticker.Stop()
	window := windowBytes(r.sampleRate, LevelInterval)
	for {
		select {
		case <-r.levelStop:
			fn(0)
			return
		case <-r.readDone:
			fn(0)
			return
		case <-ticker.C:
			r.mu.Lock()
			start := len(r.pcm) - window
			if start < 0 {
				start = 0
			}
			level := audio.RMSLevel(r.pcm[start:])
			r.mu.Unlock()
			fn(level)
		}
	}
}

// Stop closes the device and returns the recording as a WAV clip. Stop is
// idempotent; later calls return the same clip.
func (r *Recorder) Stop() (*Clip, error) {
	r.mu.Lock()
	if r.stopped {
		clip, err := r.clip, r.stopErr
		r.mu.Unlock()
		return clip, err
	}
	r.stopped = true
	r.closing = true
	r.mu.Unlock()

	_ = r.stream.Close()
	<-r.readDone
	r.levelOnce.Do(func() { close(r.levelStop) })
	r.release()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.readErr != nil {
		r.stopErr = fmt.Errorf("capture failed: %w", r.readErr)
		return nil, r.stopErr
	}

	data, err := audio.EncodeWAVPCM16LE(r.pcm, r.sampleRate)
	if err != nil {
		r.stopErr = fmt.Errorf("encode capture: %w", err)
		return nil, r.stopErr
	}

	r.clip = &Clip{
		Data:     data,
		MIMEType: "audio/wav",
		Duration: pcmDuration(len(r.pcm), r.sampleRate),
		Peak:     peakLevel(r.pcm, r.sampleRate),
	}
	return r.clip, nil
}

// Playback is one clip moving through the output device.
type Playback struct {
	player   Player
	envelope []float64

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	vizStop chan struct{}
	vizOnce sync.Once

	mu      sync.Mutex
	vizOn   bool
	runErr  error
}

func newPlayback(player Player, data []byte) *Playback {
	pb := &Playback{
		player:  player,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		vizStop: make(chan struct{}),
	}
	// A locally decodable clip drives the meter from its real envelope;
	// anything else gets a synthetic pulse.
	if pcm, rate, err := audio.DecodeWAVPCM16(data); err == nil {
		pb.envelope = audio.Envelope(pcm, rate, LevelInterval)
	}
	return pb
}

func (p *Playback) run(data []byte) {
	defer close(p.done)
	if _, err := p.player.Write(data); err != nil {
		p.setErr(err)
		return
	}
	if err := p.player.Finish(); err != nil {
		p.setErr(err)
	}
}

func (p *Playback) setErr(err error) {
	select {
	case <-p.stopped:
		// Kill-induced errors are not playback failures.
		return
	default:
	}
	p.mu.Lock()
	p.runErr = err
	p.mu.Unlock()
}

// Done closes when the clip finished or the playback was stopped.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err reports a device failure, if any, once Done is closed.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runErr
}

// Stop halts the device immediately and waits for the playback goroutine.
func (p *Playback) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopped)
		_ = p.player.Kill()
	})
	<-p.done
}

// StartVisualization emits a level every LevelInterval until the playback
// ends or StopVisualization is called. A final zero level is always emitted.
func (p *Playback) StartVisualization(fn func(level float64)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	if p.vizOn {
		p.mu.Unlock()
		return
	}
	p.vizOn = true
	p.mu.Unlock()
	go p.visualize(fn)
}

func (p *Playback) StopVisualization() {
	p.vizOnce.Do(func() { close(p.vizStop) })
}

func (p *Playback) visualize(fn func(float64)) {
	ticker := time.NewTicker(LevelInterval)
	defer ticker.Stop()
	i := 0
	for {
		select {
		case <-p.done:
			fn(0)
			return
		case <-p.stopped:
			fn(0)
			return
		case <-p.vizStop:
			fn(0)
			return
		case <-ticker.C:
			fn(p.levelAt(i))
			i++
		}
	}
}

func (p *Playback) levelAt(i int) float64 {
	if len(p.envelope) > 0 {
		if i < len(p.envelope) {
			return p.envelope[i]
		}
		return 0
	}
	// Undecodable clips still deserve a moving meter.
	t := float64(i) * LevelInterval.Seconds()
	v := 0.45 + 0.25*math.Sin(2*math.Pi*1.8*t) + 0.12*math.Sin(2*math.Pi*4.7*t)
	if v < 0.05 {
		v = 0.05
	}
	if v > 0.95 {
		v = 0.95
	}
	return v
}

func windowBytes(sampleRate int, interval time.Duration) int {
	n := int(float64(sampleRate)*interval.Seconds()) * 2
	if n < 2 {
		n = 2
	}
	return n
}

func pcmDuration(byteLen, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

func peakLevel(pcm []byte, sampleRate int) float64 {
	peak := 0.0
	for _, level := range audio.Envelope(pcm, sampleRate, LevelInterval) {
		if level > peak {
			peak = level
		}
	}
	return peak
}
