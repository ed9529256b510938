// Package browser manages the Chrome instance tests run in: launch or
// remote connect via Rod, one incognito context per page, device emulation
// from project profiles.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/snapdiff/internal/config"
	"github.com/hazyhaar/snapdiff/runner"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin is the Chrome binary to launch. Empty = launcher lookup.
	Bin string

	// Headful runs a visible browser, on XvfbDisplay when set.
	Headful     bool
	XvfbDisplay string

	NoSandbox bool

	// Stealth creates pages with go-rod/stealth evasions.
	Stealth bool

	// Block lists resource types to block (images, fonts, media, stylesheets).
	Block []string

	Logger *slog.Logger
}

// FromSettings maps the browser section of the run configuration.
func FromSettings(c config.BrowserConfig, logger *slog.Logger) Config {
	return Config{
		RemoteURL:   c.Remote,
		Bin:         c.Bin,
		Headful:     c.Headful,
		XvfbDisplay: c.XvfbDisplay,
		NoSandbox:   c.NoSandbox,
		Stealth:     c.Stealth,
		Block:       c.Block,
		Logger:      logger,
	}
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process and opens isolated pages. It implements
// runner.Browser.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
	warned  sync.Map // project name -> struct{}
}

var _ runner.Browser = (*Manager)(nil)

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome, or connects to the remote instance.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return nil
	}
	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return err
	}
	m.browser = b
	return nil
}

// Browser returns the current Rod browser handle. Thread-safe.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.Headful {
			l = l.Headless(false)
			if m.cfg.XvfbDisplay != "" {
				if err := m.startXvfb(ctx); err != nil {
					return nil, fmt.Errorf("browser: xvfb: %w", err)
				}
				l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
			}
		} else {
			l = l.Headless(true)
		}
		if m.cfg.NoSandbox {
			l = l.NoSandbox(true)
		}
		// Stable rendering: no scrollbars, no smooth scrolling, fixed colour profile.
		l = l.Set("hide-scrollbars").
			Set("disable-smooth-scrolling").
			Set("force-color-profile", "srgb").
			Set("font-render-hinting", "none")
		if m.cfg.Stealth {
			l = l.Set("disable-blink-features", "AutomationControlled")
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", m.cfg.Headful)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	// Pages are emulated per project.
	b = b.DefaultDevice(devices.Clear)

	// Ignore certificate errors for dev/testing.
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (m *Manager) cleanup() {
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

// NewPage opens a page in a fresh incognito context, emulating project.
// Closing the page disposes of the context.
func (m *Manager) NewPage(ctx context.Context, project config.Project) (runner.Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if project.Engine == config.EngineWebKit {
		if _, seen := m.warned.LoadOrStore(project.Name, struct{}{}); !seen {
			m.cfg.Logger.Warn("browser: webkit profile emulated on chromium",
				"project", project.Name)
		}
	}

	inc, err := b.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}
	// Later calls bind their own context.
	inc = inc.Context(context.Background())

	var page *rod.Page
	if m.cfg.Stealth {
		page, err = stealth.Page(inc)
	} else {
		page, err = inc.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		inc.Close()
		return nil, fmt.Errorf("browser: create page: %w", err)
	}

	if err := emulate(page.Context(ctx), project); err != nil {
		page.Close()
		inc.Close()
		return nil, fmt.Errorf("browser: emulate %s: %w", project.Name, err)
	}

	p := &Page{page: page, incognito: inc, logger: m.cfg.Logger}
	if len(m.cfg.Block) > 0 {
		p.router = newBlockList(m.cfg.Block).hijack(page)
	}
	return p, nil
}
