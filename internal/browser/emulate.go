package browser

import (
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/devices"

	"github.com/hazyhaar/snapdiff/internal/config"
)

// Device converts a project profile into a Rod device in portrait
// orientation, which is the viewport as configured.
func Device(p config.Project) devices.Device {
	var caps []string
	if p.IsMobile {
		caps = append(caps, "mobile")
	}
	if p.HasTouch {
		caps = append(caps, "touch")
	}
	dpr := p.DeviceScaleFactor
	if dpr <= 0 {
		dpr = 1
	}
	return devices.Device{
		Title:        p.Name,
		Capabilities: caps,
		UserAgent:    p.UserAgent,
		Screen: devices.Screen{
			DevicePixelRatio: dpr,
			Horizontal:       devices.ScreenSize{Width: p.Viewport.Height, Height: p.Viewport.Width},
			Vertical:         devices.ScreenSize{Width: p.Viewport.Width, Height: p.Viewport.Height},
		},
	}
}

// emulate applies viewport, touch and user agent of p. Without a user agent
// the browser's own is kept.
func emulate(page *rod.Page, p config.Project) error {
	d := Device(p)
	if p.UserAgent != "" {
		return page.Emulate(d)
	}
	if err := page.SetViewport(d.MetricsEmulation()); err != nil {
		return err
	}
	return d.TouchEmulation().Call(page)
}
