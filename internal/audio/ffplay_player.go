package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"revpilot/internal/domain"
)

const killDelay = 500 * time.Millisecond

// FFplayPlayer plays synthesized speech through ffplay. Cancelling the
// context kills the process, which is how barge-in stops playback.
type FFplayPlayer struct {
	command string
}

func NewFFplayPlayer(command string) *FFplayPlayer {
	if command == "" {
		command = "ffplay"
	}
	return &FFplayPlayer{command: command}
}

// Play blocks until playback ends. URLs are handed to ffplay directly;
// inline audio is piped on stdin.
func (p *FFplayPlayer) Play(ctx context.Context, audio domain.SpeechAudio) error {
	input := strings.TrimSpace(audio.URL)
	if input == "" && len(audio.Data) == 0 {
		return errors.New("play speech: no audio")
	}

	args := []string{"-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error"}
	if input == "" {
		input = "pipe:0"
	}
	args = append(args, "-i", input)

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.WaitDelay = killDelay
	if len(audio.Data) > 0 && input == "pipe:0" {
		cmd.Stdin = bytes.NewReader(audio.Data)
	}
	stderr := &syncBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("play speech: %w: %s", err, detail)
		}
		return fmt.Errorf("play speech: %w", err)
	}
	return nil
}
