package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"

	"github.com/mesophy/signaged/internal/model"
)

// ExecPlayer starts one process per item from a command template. "{file}"
// is replaced by the media path and "{duration}" by the hint in seconds.
type ExecPlayer struct {
	ImageCmd string
	VideoCmd string
}

func NewExecPlayer(imageCmd, videoCmd string) *ExecPlayer {
	return &ExecPlayer{ImageCmd: imageCmd, VideoCmd: videoCmd}
}

func (p *ExecPlayer) Start(ctx context.Context, localPath string, kind model.MediaKind, durationHint time.Duration) (Handle, error) {
	template := p.ImageCmd
	if kind == model.MediaKindVideo {
		template = p.VideoCmd
	}
	return StartCommand(template, localPath, durationHint)
}

// Expand splits a command template into argv, substituting placeholders.
func Expand(template, file string, duration time.Duration) ([]string, error) {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil, errors.New("empty command template")
	}
	secs := strconv.Itoa(int(duration.Round(time.Second) / time.Second))
	argv := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, "{file}", file)
		argv[i] = strings.ReplaceAll(f, "{duration}", secs)
	}
	return argv, nil
}

// StartCommand launches the expanded template in its own process group so
// Stop reaches any children the player forks.
func StartCommand(template, file string, duration time.Duration) (Handle, error) {
	argv, err := Expand(template, file, duration)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	h := &procHandle{cmd: cmd, done: make(chan struct{})}
	go h.wait()

	log.Debug().
		Str("cmd", argv[0]).
		Int("pid", cmd.Process.Pid).
		Str("file", file).
		Msg("player started")

	return h, nil
}

type procHandle struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	stopped bool
	status  ExitStatus
}

func (h *procHandle) wait() {
	err := h.cmd.Wait()
	status := ExitStatus{Code: h.cmd.ProcessState.ExitCode()}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = unix.SignalName(ws.Signal())
		}
	case err != nil:
		status.Err = err
	}

	h.mu.Lock()
	status.Stopped = h.stopped
	h.status = status
	h.mu.Unlock()
	close(h.done)
}

func (h *procHandle) Done() <-chan struct{} {
	return h.done
}

func (h *procHandle) Exit() ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

func (h *procHandle) Stop(grace time.Duration) {
	select {
	case <-h.done:
		return
	default:
	}

	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	pgid := h.cmd.Process.Pid
	unix.Kill(-pgid, unix.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-h.done:
		return
	case <-timer.C:
	}

	log.Warn().Int("pid", pgid).Dur("grace", grace).Msg("player ignored SIGTERM, killing")
	unix.Kill(-pgid, unix.SIGKILL)
	<-h.done
}
