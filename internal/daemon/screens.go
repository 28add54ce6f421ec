package daemon

import (
	"context"

	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/render"
)

const (
	screenError     = render.ScreenError
	screenNoContent = render.ScreenNoContent
)

// showPairing puts the current code on screen. The same code is not redrawn.
func (d *Daemon) showPairing(ctx context.Context, session model.PairingSession) {
	key := render.ScreenPairing + ":" + session.Code
	if d.screen == key {
		return
	}

	path, err := d.deps.Screens.Pairing(session, d.opts.DashboardURL, d.now())
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to render pairing screen")
		return
	}
	d.show(ctx, key, path)
}

func (d *Daemon) showMessage(ctx context.Context, kind, title, detail string) {
	key := kind + ":" + title + ":" + detail
	if d.screen == key {
		return
	}

	path, err := d.deps.Screens.Message(kind, title, detail)
	if err != nil {
		d.logger.Error().Err(err).Str("screen", kind).Msg("failed to render screen")
		return
	}
	d.show(ctx, key, path)
}

func (d *Daemon) show(ctx context.Context, key, path string) {
	if err := d.deps.Display.Show(ctx, path); err != nil {
		d.logger.Warn().Err(err).Str("path", path).Msg("failed to show screen")
		return
	}
	d.screen = key
}

// clearScreen removes an overlay so the media player owns the display.
func (d *Daemon) clearScreen(ctx context.Context) {
	if d.screen == "" {
		return
	}
	if err := d.deps.Display.Clear(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("failed to clear screen")
		return
	}
	d.screen = ""
}
