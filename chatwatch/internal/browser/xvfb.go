package browser

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	displayGeometry = "1920x1080x24"
	displayReady    = 5 * time.Second
)

// virtualDisplay is an Xvfb server that gives a headful Chrome a screen on
// a host that has none.
type virtualDisplay struct {
	name   string
	cmd    *exec.Cmd
	exited chan error
}

// startDisplay runs Xvfb as display name (":99") and returns once the
// server's socket exists.
func startDisplay(name string, logger *slog.Logger) (*virtualDisplay, error) {
	num, ok := strings.CutPrefix(name, ":")
	if i := strings.IndexByte(num, '.'); i >= 0 {
		num = num[:i]
	}
	if !ok || num == "" {
		return nil, fmt.Errorf("display %q: want :N", name)
	}

	cmd := exec.Command("Xvfb", name, "-screen", "0", displayGeometry, "-nolisten", "tcp", "-ac")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("run xvfb on %s: %w", name, err)
	}
	d := &virtualDisplay{name: name, cmd: cmd, exited: make(chan error, 1)}
	go func() { d.exited <- cmd.Wait() }()

	socket := filepath.Join("/tmp/.X11-unix", "X"+num)
	deadline := time.After(displayReady)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if _, err := os.Stat(socket); err == nil {
			break
		}
		select {
		case err := <-d.exited:
			return nil, fmt.Errorf("xvfb on %s exited early: %v", name, err)
		case <-deadline:
			d.stop()
			return nil, fmt.Errorf("xvfb on %s: no socket after %s", name, displayReady)
		case <-tick.C:
		}
	}
	logger.Info("browser: virtual display up", "display", name, "pid", cmd.Process.Pid)
	return d, nil
}

// stop kills the server and reaps it. Safe on nil.
func (d *virtualDisplay) stop() {
	if d == nil {
		return
	}
	d.cmd.Process.Kill()
	<-d.exited
}
