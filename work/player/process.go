package player

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"radio-relay/work/config"
	"radio-relay/work/logger"
)

// ErrProcessRunning is returned when Start is called on a running process
var ErrProcessRunning = errors.New("player process already running")

// stopGrace is how long the player gets to exit after SIGTERM
const stopGrace = 3 * time.Second

// Process supervises a locally spawned headless player. The child runs in its
// own process group so the whole group can be signalled on shutdown.
type Process struct {
	binary string
	args   []string

	mu   sync.Mutex
	cmd  *exec.Cmd
	done chan struct{}
}

// NewProcess builds the VLC command line from the player config
func NewProcess(cfg config.PlayerConfig) *Process {
	return newProcess(cfg.Binary,
		"-I", "http",
		"--http-host=127.0.0.1",
		"--http-port="+strconv.Itoa(cfg.HTTPPort),
		"--http-password="+cfg.Password,
	)
}

func newProcess(binary string, args ...string) *Process {
	return &Process{binary: binary, args: args}
}

// Start spawns the player. The process lives until Stop or until it exits on
// its own; ctx only bounds the spawn.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return ErrProcessRunning
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(p.binary, p.args...)
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", p.binary, err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.done = done

	go func() {
		err := cmd.Wait()
		logger.Debug("{player/process - Start} %s exited: %v", p.binary, err)

		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
			p.done = nil
		}
		p.mu.Unlock()
		close(done)
	}()

	logger.Info("{player/process - Start} started %s (pid %d) %s", p.binary, cmd.Process.Pid, redactArgs(p.args))
	return nil
}

// Stop terminates the player's process group, escalating to SIGKILL when it
// does not exit within the grace period
func (p *Process) Stop() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()

	if cmd == nil {
		return nil
	}

	pid := cmd.Process.Pid
	if err := terminateGroup(pid); err != nil {
		logger.Warn("{player/process - Stop} SIGTERM to group %d failed: %v", pid, err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(stopGrace):
	}

	logger.Warn("{player/process - Stop} %s ignored SIGTERM, killing group %d", p.binary, pid)
	if err := killGroup(pid); err != nil {
		return fmt.Errorf("failed to kill player group %d: %w", pid, err)
	}
	<-done
	return nil
}

// Running reports whether the spawned player is alive
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

func redactArgs(args []string) string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "--http-password=") {
			a = "--http-password=***"
		}
		out[i] = a
	}
	return strings.Join(out, " ")
}
