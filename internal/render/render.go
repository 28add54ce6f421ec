// Package render draws the full-screen images the daemon shows when it has
// no media to play: the pairing code and status messages.
package render

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/mesophy/signaged/internal/model"
)

var (
	background = color.RGBA{R: 0x10, G: 0x14, B: 0x1c, A: 0xff}
	foreground = color.RGBA{R: 0xf2, G: 0xf4, B: 0xf8, A: 0xff}
	muted      = color.RGBA{R: 0x8a, G: 0x93, B: 0xa6, A: 0xff}
	accent     = color.RGBA{R: 0x4f, G: 0xa3, B: 0xff, A: 0xff}
	alert      = color.RGBA{R: 0xff, G: 0x6b, B: 0x5a, A: 0xff}
)

// Screen kinds, also used as output file names.
const (
	ScreenPairing   = "pairing"
	ScreenNoContent = "no_content"
	ScreenError     = "error"
	ScreenStatus    = "status"
)

type Screens struct {
	dir     string
	width   int
	height  int
	regular *truetype.Font
	bold    *truetype.Font
}

func New(dir string, width, height int) (*Screens, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid screen size %dx%d", width, height)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create screens dir: %w", err)
	}

	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}

	return &Screens{dir: dir, width: width, height: height, regular: regular, bold: bold}, nil
}

// Pairing renders the code in large type with a QR link to the dashboard's
// pairing page when dashboardURL is set.
func (s *Screens) Pairing(session model.PairingSession, dashboardURL string, now time.Time) (string, error) {
	dc := s.canvas()
	w, h := float64(s.width), float64(s.height)

	dc.SetFontFace(s.face(s.bold, h/18))
	dc.SetColor(foreground)
	dc.DrawStringAnchored("Pair this screen", w/2, h*0.14, 0.5, 0.5)

	codeX := w / 2
	if dashboardURL != "" {
		codeX = w * 0.36
	}

	dc.SetFontFace(s.face(s.bold, h/6))
	dc.SetColor(accent)
	dc.DrawStringAnchored(spaced(session.Code), codeX, h*0.45, 0.5, 0.5)

	dc.SetFontFace(s.face(s.regular, h/32))
	dc.SetColor(muted)
	lines := []string{"Open the dashboard, choose Add Screen", "and enter the code above."}
	if dashboardURL != "" {
		lines[0] = "Scan the code or open " + strings.TrimRight(dashboardURL, "/") + "/pair"
	}
	for i, line := range lines {
		dc.DrawStringAnchored(line, codeX, h*0.66+float64(i)*h/22, 0.5, 0.5)
	}

	remaining := session.Remaining(now).Round(time.Minute)
	dc.DrawStringAnchored(fmt.Sprintf("Code expires in about %d min", int(remaining.Minutes())), w/2, h*0.88, 0.5, 0.5)

	if dashboardURL != "" {
		size := int(h * 0.42)
		qr, err := qrcode.New(PairingURL(dashboardURL, session.Code), qrcode.Medium)
		if err != nil {
			return "", fmt.Errorf("create QR code: %w", err)
		}
		qr.BackgroundColor = color.White
		qr.ForegroundColor = color.Black
		dc.DrawImageAnchored(qr.Image(size), int(w*0.76), int(h*0.47), 0.5, 0.5)
	}

	return s.save(dc, ScreenPairing)
}

// Message renders a titled status screen. kind selects the accent color and
// the output file.
func (s *Screens) Message(kind, title, detail string) (string, error) {
	dc := s.canvas()
	w, h := float64(s.width), float64(s.height)

	titleColor := foreground
	if kind == ScreenError {
		titleColor = alert
	}

	dc.SetFontFace(s.face(s.bold, h/12))
	dc.SetColor(titleColor)
	dc.DrawStringAnchored(title, w/2, h*0.42, 0.5, 0.5)

	if detail != "" {
		dc.SetFontFace(s.face(s.regular, h/28))
		dc.SetColor(muted)
		dc.DrawStringWrapped(detail, w/2, h*0.56, 0.5, 0, w*0.7, 1.5, gg.AlignCenter)
	}

	return s.save(dc, kind)
}

// PairingURL is the dashboard link encoded in the pairing QR code.
func PairingURL(dashboardURL, code string) string {
	return strings.TrimRight(dashboardURL, "/") + "/pair?code=" + code
}

func (s *Screens) canvas() *gg.Context {
	dc := gg.NewContext(s.width, s.height)
	dc.SetColor(background)
	dc.Clear()
	return dc
}

func (s *Screens) face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{Size: size, Hinting: font.HintingFull})
}

// save writes through a temp file so the viewer never reads a partial image.
func (s *Screens) save(dc *gg.Context, kind string) (string, error) {
	path := filepath.Join(s.dir, kind+".png")
	tmp := path + ".tmp"
	if err := dc.SavePNG(tmp); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("save %s screen: %w", kind, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	return path, nil
}

func spaced(code string) string {
	return strings.Join(strings.Split(code, ""), " ")
}
