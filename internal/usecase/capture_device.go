package usecase

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"revpilot/internal/domain"
	"revpilot/internal/ports"
)

const (
	defaultChunkSize = 4096
	bitsPerSample    = 16
	payloadMIMEType  = "audio/wav"
)

// CaptureConfig controls how the capture device opens and buffers the microphone.
type CaptureConfig struct {
	Audio     ports.AudioConfig
	ChunkSize int
	// Demo bypasses the platform entirely: no permission request, empty payloads.
	Demo bool
}

// CaptureDevice owns the microphone handle and the capture buffer.
// The handle is read continuously from Initialize until Release; chunks are
// kept only between Start and Stop.
type CaptureDevice struct {
	source ports.AudioSource
	cfg    CaptureConfig
	log    zerolog.Logger

	mu        sync.Mutex
	stream    ports.AudioStream
	pumpDone  chan struct{}
	capturing bool
	buffer    [][]byte
	tee       func([]byte)
}

func NewCaptureDevice(source ports.AudioSource, cfg CaptureConfig, logger zerolog.Logger) *CaptureDevice {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	return &CaptureDevice{
		source: source,
		cfg:    cfg,
		log:    logger.With().Str("component", "capture").Logger(),
	}
}

// Initialize acquires the microphone handle. It is a no-op when a handle is
// already held or when the device runs in demo mode.
func (d *CaptureDevice) Initialize(ctx context.Context) error {
	if d.cfg.Demo {
		return nil
	}

	d.mu.Lock()
	if d.stream != nil {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if d.source == nil {
		return errors.New("initialize capture: no audio source configured")
	}
	stream, err := d.source.Open(ctx, d.cfg.Audio)
	if err != nil {
		return fmt.Errorf("initialize capture: %w", err)
	}

	d.mu.Lock()
	if d.stream != nil {
		d.mu.Unlock()
		_ = stream.Stop()
		return nil
	}
	done := make(chan struct{})
	d.stream = stream
	d.pumpDone = done
	d.mu.Unlock()

	go d.pump(stream, done)
	return nil
}

// Start clears the capture buffer and begins keeping chunks.
func (d *CaptureDevice) Start() error {
	if d.cfg.Demo {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil {
		return ErrNotInitialized
	}
	select {
	case <-d.pumpDone:
		return errors.New("capture stream ended before recording started")
	default:
	}

	d.buffer = nil
	d.capturing = true
	return nil
}

// Stop finalizes the capture buffer into a single payload and resets it.
func (d *CaptureDevice) Stop() (domain.AudioPayload, error) {
	if d.cfg.Demo {
		return d.payload(nil), nil
	}

	d.mu.Lock()
	if !d.capturing {
		d.mu.Unlock()
		return domain.AudioPayload{}, ErrNoActiveCapture
	}
	chunks := d.buffer
	d.buffer = nil
	d.capturing = false
	d.tee = nil
	d.mu.Unlock()

	size := 0
	for _, chunk := range chunks {
		size += len(chunk)
	}
	pcm := make([]byte, 0, size)
	for _, chunk := range chunks {
		pcm = append(pcm, chunk...)
	}
	return d.payload(pcm), nil
}

// SetTee forwards every captured chunk to fn until the capture stops.
func (d *CaptureDevice) SetTee(fn func([]byte)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tee = fn
}

// Release tears down the handle and buffer. Safe to call from any state, repeatedly.
func (d *CaptureDevice) Release() {
	d.mu.Lock()
	stream := d.stream
	done := d.pumpDone
	d.stream = nil
	d.pumpDone = nil
	d.capturing = false
	d.buffer = nil
	d.tee = nil
	d.mu.Unlock()

	if stream == nil {
		return
	}
	if err := stream.Stop(); err != nil {
		d.log.Warn().Err(err).Msg("microphone did not stop cleanly")
	}
	<-done
}

// Open reports whether a live microphone handle is held.
func (d *CaptureDevice) Open() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

// Demo reports whether the device bypasses the platform.
func (d *CaptureDevice) Demo() bool {
	return d.cfg.Demo
}

func (d *CaptureDevice) pump(stream ports.AudioStream, done chan struct{}) {
	defer close(done)

	buf := make([]byte, d.cfg.ChunkSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			d.keep(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) && d.holds(stream) {
				d.log.Warn().Err(err).Msg("microphone read failed")
			}
			return
		}
	}
}

func (d *CaptureDevice) keep(chunk []byte) {
	d.mu.Lock()
	if !d.capturing {
		d.mu.Unlock()
		return
	}
	copied := append([]byte(nil), chunk...)
	d.buffer = append(d.buffer, copied)
	tee := d.tee
	d.mu.Unlock()

	if tee != nil {
		tee(copied)
	}
}

func (d *CaptureDevice) holds(stream ports.AudioStream) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream == stream
}

func (d *CaptureDevice) payload(pcm []byte) domain.AudioPayload {
	payload := domain.AudioPayload{
		MIMEType:   payloadMIMEType,
		SampleRate: d.cfg.Audio.SampleRate,
		Channels:   d.cfg.Audio.Channels,
	}
	if len(pcm) > 0 {
		payload.Data = pcmToWAV(pcm, d.cfg.Audio.SampleRate, d.cfg.Audio.Channels)
	}
	return payload
}

// pcmToWAV wraps 16-bit PCM with a 44-byte WAV header.
func pcmToWAV(pcm []byte, sampleRate, channels int) []byte {
	dataLen := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataLen))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataLen))

	return append(header, pcm...)
}
