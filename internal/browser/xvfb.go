package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// xvfbScreen is large enough for every default project at its device
// pixel ratio.
const xvfbScreen = "2560x1600x24"

// startXvfb launches a virtual display for headful runs and waits for its
// socket to appear.
func (m *Manager) startXvfb(ctx context.Context) error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	if !strings.HasPrefix(display, ":") {
		return fmt.Errorf("display %q must look like :99", display)
	}

	cmd := exec.Command("Xvfb", display, "-screen", "0", xvfbScreen, "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return err
	}
	m.xvfb = cmd

	socket := "/tmp/.X11-unix/X" + strings.TrimPrefix(display, ":")
	err := retry.Do(func() error {
		_, err := os.Stat(socket)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(50),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		m.stopXvfb()
		return fmt.Errorf("display %s not ready: %w", display, err)
	}
	m.cfg.Logger.Info("browser: xvfb started", "display", display, "pid", cmd.Process.Pid)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if err := m.xvfb.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.cfg.Logger.Warn("browser: kill xvfb", "error", err)
	}
	m.xvfb.Wait()
	m.xvfb = nil
}
