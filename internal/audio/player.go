package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Player spawns an external PCM player fed through stdin.
type Player struct {
	command string
	args    func(sampleRate int, channels int) []string
}

// NewPlayer uses aplay unless another command is given. Custom commands receive
// the same raw S16_LE arguments.
func NewPlayer(command string) *Player {
	if command == "" {
		command = "aplay"
	}
	return &Player{command: command, args: aplayArgs}
}

func aplayArgs(sampleRate int, channels int) []string {
	return []string{
		"-q",
		"-t", "raw",
		"-f", "S16_LE",
		"-r", strconv.Itoa(sampleRate),
		"-c", strconv.Itoa(channels),
		"-",
	}
}

// Open starts the player process and returns its stdin as the playback sink.
func (p *Player) Open(sampleRate int, channels int) (io.WriteCloser, error) {
	cmd := exec.Command(p.command, p.args(sampleRate, channels)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create player stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start player %q: %w", p.command, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	return &playerSink{stdin: stdin, stderr: &stderr, process: cmd.Process, waitErr: waitErr}, nil
}

type playerSink struct {
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	closeOnce sync.Once
	closeErr  error
}

func (s *playerSink) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close ends the stream and waits briefly for the player to drain before killing it.
func (s *playerSink) Close() error {
	s.closeOnce.Do(func() {
		if err := s.stdin.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			s.closeErr = err
		}

		select {
		case err, ok := <-s.waitErr:
			if ok && s.closeErr == nil {
				s.closeErr = ignoreExitErr(err)
			}
		case <-time.After(500 * time.Millisecond):
			_ = s.process.Kill()
			<-s.waitErr
		}

		if s.closeErr != nil && s.stderr.Len() > 0 {
			s.closeErr = fmt.Errorf("%w: %s", s.closeErr, bytes.TrimSpace(s.stderr.Bytes()))
		}
	})
	return s.closeErr
}

func ignoreExitErr(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
