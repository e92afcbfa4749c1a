package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"revpilot/internal/ports"
)

const (
	startWindow = 250 * time.Millisecond
	stopTimeout = 1200 * time.Millisecond
)

var permissionMarkers = []string{
	"permission denied",
	"operation not permitted",
	"not authorized",
}

// FFmpegSource opens the microphone by running ffmpeg and reading s16le PCM from stdout.
type FFmpegSource struct {
	command string
}

func NewFFmpegSource(command string) *FFmpegSource {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegSource{command: command}
}

// Open starts the recorder. The process lives until the stream is stopped or ctx ends.
// Platform denials are reported wrapped in ports.ErrPermissionDenied.
func (s *FFmpegSource) Open(ctx context.Context, cfg ports.AudioConfig) (ports.AudioStream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.WaitDelay = stopTimeout
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, classifyStartErr(fmt.Errorf("start ffmpeg: %w", err), "")
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		detail := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, classifyStartErr(fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, detail), detail)
		}
		return nil, classifyStartErr(errors.New("ffmpeg exited before capture started"), detail)
	case <-time.After(startWindow):
	}

	return &ffmpegStream{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

// classifyStartErr marks failures caused by the platform refusing microphone access.
func classifyStartErr(err error, stderr string) error {
	if errors.Is(err, os.ErrPermission) {
		return fmt.Errorf("%w: %v", ports.ErrPermissionDenied, err)
	}
	lower := strings.ToLower(stderr)
	for _, marker := range permissionMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %v", ports.ErrPermissionDenied, err)
		}
	}
	return err
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *syncBuffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg, waits briefly, then kills it. Repeated calls return the first result.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeExitErr(err)
			}
		case <-time.After(stopTimeout):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeExitErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = closeErr
		}

		if s.stopErr != nil {
			if detail := strings.TrimSpace(s.stderr.String()); detail != "" {
				s.stopErr = fmt.Errorf("%w: %s", s.stopErr, detail)
			}
		}
	})

	return s.stopErr
}

// normalizeExitErr drops exit statuses; signalled recorders never exit cleanly.
func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// syncBuffer collects subprocess stderr while other goroutines read it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
