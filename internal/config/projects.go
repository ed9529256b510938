package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Browser engines a project can ask for.
const (
	EngineChromium = "chromium"
	EngineWebKit   = "webkit"
)

// Viewport is a CSS-pixel size.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Project is a browser/device profile every test runs under.
type Project struct {
	Name              string   `yaml:"name"`
	Engine            string   `yaml:"engine"`
	UserAgent         string   `yaml:"user_agent"`
	Viewport          Viewport `yaml:"viewport"`
	DeviceScaleFactor float64  `yaml:"device_scale_factor"`
	IsMobile          bool     `yaml:"is_mobile"`
	HasTouch          bool     `yaml:"has_touch"`
}

// Validate checks a project definition.
func (p Project) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("config: project without a name")
	}
	switch p.Engine {
	case EngineChromium, EngineWebKit:
	default:
		return fmt.Errorf("config: project %q: unknown engine %q", p.Name, p.Engine)
	}
	if p.Viewport.Width <= 0 || p.Viewport.Height <= 0 {
		return fmt.Errorf("config: project %q: viewport must be positive", p.Name)
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Dir is the directory name used for the project's baselines and outputs.
func (p Project) Dir() string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(p.Name), "-"), "-")
}

// DefaultProjects returns the four standard profiles: two desktop browsers
// and two mobile devices.
func DefaultProjects() []Project {
	return []Project{
		{
			Name:              "Desktop Chrome",
			Engine:            EngineChromium,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.29 Safari/537.36",
			Viewport:          Viewport{Width: 1280, Height: 720},
			DeviceScaleFactor: 1,
		},
		{
			Name:              "Moto G4",
			Engine:            EngineChromium,
			UserAgent:         "Mozilla/5.0 (Linux; Android 7.0; Moto G (4)) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.6367.29 Mobile Safari/537.36",
			Viewport:          Viewport{Width: 360, Height: 640},
			DeviceScaleFactor: 3,
			IsMobile:          true,
			HasTouch:          true,
		},
		{
			Name:              "iPhone 13 Pro",
			Engine:            EngineWebKit,
			UserAgent:         "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1",
			Viewport:          Viewport{Width: 390, Height: 664},
			DeviceScaleFactor: 3,
			IsMobile:          true,
			HasTouch:          true,
		},
		{
			Name:              "Desktop Safari",
			Engine:            EngineWebKit,
			UserAgent:         "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
			Viewport:          Viewport{Width: 1280, Height: 720},
			DeviceScaleFactor: 2,
		},
	}
}
