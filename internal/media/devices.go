package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// Devices abstracts the host audio endpoints so the manager can be tested
// without a sound card.
type Devices interface {
	// OpenCapture starts a mono PCM16LE stream at sampleRate.
	OpenCapture(ctx context.Context, sampleRate int) (io.ReadCloser, error)
	// OpenPlayback starts a player for one encoded clip.
	OpenPlayback(ctx context.Context, mimeType string) (Player, error)
}

// Player consumes one encoded clip.
type Player interface {
	io.Writer
	// Finish signals end of input and blocks until the device drains.
	Finish() error
	// Kill stops playback immediately.
	Kill() error
}

// SystemDevices drives the host microphone and speakers through ffmpeg and
// ffplay child processes.
type SystemDevices struct{}

// NewSystemDevices verifies the required binaries exist up front so a missing
// install surfaces at startup, not on the first press.
func NewSystemDevices() (*SystemDevices, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("ffmpeg is required for microphone capture (install ffmpeg and ensure it is in PATH)")
	}
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	return &SystemDevices{}, nil
}

func (d *SystemDevices) OpenCapture(ctx context.Context, sampleRate int) (io.ReadCloser, error) {
	args, err := micArgs(runtime.GOOS, sampleRate)
	if err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg mic capture: %w", err)
	}
	return &captureStream{cmd: cmd, stdout: stdout}, nil
}

func micArgs(goos string, sampleRate int) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("microphone capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

type captureStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

func (c *captureStream) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *captureStream) Close() error {
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
	}
	return nil
}

func (d *SystemDevices) OpenPlayback(ctx context.Context, _ string) (Player, error) {
	// ffplay sniffs the container from the pipe, so wav and mp3 both work
	// without naming a demuxer.
	cmd := exec.CommandContext(ctx, "ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-i", "pipe:0",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffplay: %w", err)
	}
	return &ffplayPlayer{cmd: cmd, stdin: stdin}, nil
}

type ffplayPlayer struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func (p *ffplayPlayer) Write(data []byte) (int, error) {
	return p.stdin.Write(data)
}

func (p *ffplayPlayer) Finish() error {
	_ = p.stdin.Close()
	return p.cmd.Wait()
}

func (p *ffplayPlayer) Kill() error {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return nil
}
