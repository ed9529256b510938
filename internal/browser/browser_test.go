package browser

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/snapdiff/internal/config"
)

func TestDevice(t *testing.T) {
	projects := config.DefaultProjects()

	moto := Device(projects[1])
	if moto.Title != "Moto G4" || moto.Screen.DevicePixelRatio != 3 {
		t.Errorf("Moto G4: %+v", moto)
	}
	if moto.Screen.Vertical.Width != 360 || moto.Screen.Vertical.Height != 640 {
		t.Errorf("portrait: got %+v", moto.Screen.Vertical)
	}
	if moto.Screen.Horizontal.Width != 640 || moto.Screen.Horizontal.Height != 360 {
		t.Errorf("landscape: got %+v", moto.Screen.Horizontal)
	}
	if strings.Join(moto.Capabilities, ",") != "mobile,touch" {
		t.Errorf("capabilities: %v", moto.Capabilities)
	}

	desktop := Device(config.Project{Name: "d", Viewport: config.Viewport{Width: 800, Height: 600}})
	if len(desktop.Capabilities) != 0 || desktop.Screen.DevicePixelRatio != 1 {
		t.Errorf("desktop: %+v", desktop)
	}
	m := desktop.MetricsEmulation()
	if m.Width != 800 || m.Height != 600 || m.Mobile {
		t.Errorf("metrics: %+v", m)
	}
}

func TestBlockList(t *testing.T) {
	b := newBlockList([]string{"images", " Media", "xhr", "bogus"})
	for _, tc := range []struct {
		typ  proto.NetworkResourceType
		want bool
	}{
		{proto.NetworkResourceTypeImage, true},
		{proto.NetworkResourceTypeMedia, true},
		{proto.NetworkResourceTypeXHR, true},
		{proto.NetworkResourceTypeFont, false},
		{proto.NetworkResourceTypeStylesheet, false},
		{proto.NetworkResourceTypeDocument, false},
	} {
		if got := b[tc.typ]; got != tc.want {
			t.Errorf("blocks %s: got %v, want %v", tc.typ, got, tc.want)
		}
	}
	if len(b) != 3 {
		t.Errorf("unknown names must be ignored, got %v", b)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"/img/hero.png", 8, "/img/her..."},
		// "é" is two bytes; cutting at 2 would split it.
		{"aébc", 2, "a..."},
		{"ééé", 3, "é..."},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) = %q is not valid UTF-8", tt.in, tt.n, got)
		}
	}
}

const fixturePage = `<!doctype html>
<html><head><meta name="viewport" content="width=device-width, initial-scale=1"></head>
<body style="margin:0">
<h1 id="title">Buttons</h1>
<img id="dot" src="/dot.png" width="20" height="20">
<img id="hidden" src="/dot.png" style="display:none">
<input id="name" value="old">
<button id="go" onclick="document.getElementById('title').textContent='Clicked'">Go</button>
</body></html>`

func fixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	var buf bytes.Buffer
	dotImg := image.NewRGBA(image.Rect(0, 0, 1, 1))
	dotImg.Set(0, 0, color.RGBA{R: 255, A: 255})
	if err := png.Encode(&buf, dotImg); err != nil {
		t.Fatal(err)
	}
	dot := buf.Bytes()
	mux := http.NewServeMux()
	mux.HandleFunc("/dot.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(dot)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(fixturePage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_Page(t *testing.T) {
	if testing.Short() {
		t.Skip("launches chrome")
	}
	if _, ok := launcher.LookPath(); !ok {
		t.Skip("chrome not found")
	}
	srv := fixtureServer(t)

	mgr := NewManager(Config{NoSandbox: true})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	if err := mgr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	project := config.DefaultProjects()[1] // Moto G4
	page, err := mgr.NewPage(ctx, project)
	if err != nil {
		t.Fatal(err)
	}
	defer page.Close()

	if err := page.Navigate(ctx, srv.URL+"/buttons/primary"); err != nil {
		t.Fatal(err)
	}
	if err := page.WaitLoad(ctx); err != nil {
		t.Fatal(err)
	}
	if err := page.WaitDOMContentLoaded(ctx); err != nil {
		t.Fatal(err)
	}

	images, err := page.VisibleImages(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(images) != 1 {
		t.Fatalf("visible images: got %d, want 1", len(images))
	}
	img := images[0]
	if err := img.ScrollIntoView(ctx); err != nil {
		t.Fatal(err)
	}
	if ok, err := img.Complete(ctx); err != nil || !ok {
		t.Errorf("complete: %v %v", ok, err)
	}
	if w, err := img.NaturalWidth(ctx); err != nil || w != 1 {
		t.Errorf("naturalWidth: %d %v", w, err)
	}
	if ok, err := img.Attached(ctx); err != nil || !ok {
		t.Errorf("attached: %v %v", ok, err)
	}

	if err := page.Fill(ctx, "#name", "new"); err != nil {
		t.Fatal(err)
	}
	if err := page.Click(ctx, "#go"); err != nil {
		t.Fatal(err)
	}
	html, err := page.HTML(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(html, "Clicked") {
		t.Error("click did not run the handler")
	}

	shot, err := page.Screenshot(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(shot))
	if err != nil {
		t.Fatal(err)
	}
	// 360 CSS pixels at device scale factor 3.
	if cfg.Width < 360 {
		t.Errorf("screenshot width: got %d, want at least 360", cfg.Width)
	}
}
