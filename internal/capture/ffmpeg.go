// Package capture acquires microphone and camera input through ffmpeg.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// startupProbe is how long a device process must survive before capture is considered started.
var startupProbe = 250 * time.Millisecond

// ffmpegProcess is one running capture process streaming raw media on stdout.
type ffmpegProcess struct {
	stdout *os.File
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func startFFMPEG(ctx context.Context, command string, args []string) (*ffmpegProcess, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// A plain pipe keeps buffered output readable after the process exits.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	_ = stdoutW.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = stdout.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, trimOutput(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		_ = stdout.Close()
		return nil, ctx.Err()
	case <-time.After(startupProbe):
	}

	return &ffmpegProcess{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

func (p *ffmpegProcess) Read(b []byte) (int, error) {
	return p.stdout.Read(b)
}

// Stop interrupts ffmpeg, escalating to kill when it does not exit in time.
// Repeated calls return the first result.
func (p *ffmpegProcess) Stop() error {
	p.stopOnce.Do(func() {
		if p.process != nil {
			_ = p.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-p.waitErr:
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if p.process != nil {
				_ = p.process.Kill()
			}
			err, ok := <-p.waitErr
			if ok {
				p.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := p.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if p.stopErr == nil {
				p.stopErr = closeErr
			}
		}

		if p.stopErr != nil && p.stderr != nil && p.stderr.Len() > 0 {
			p.stopErr = fmt.Errorf("%w: %s", p.stopErr, trimOutput(p.stderr.String()))
		}
	})

	return p.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimOutput(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
