// Package display puts full-screen images on the device's screen through an
// external viewer command.
package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/player"
)

// Renderer shows an image or clears the screen. It does not know how the
// image was produced.
type Renderer interface {
	Show(ctx context.Context, imagePath string) error
	Clear(ctx context.Context) error
}

// ExecDisplay runs ShowCmd for every image. A viewer that keeps running is
// stopped before the next image is shown.
type ExecDisplay struct {
	ShowCmd  string
	ClearCmd string
	Grace    time.Duration

	mu      sync.Mutex
	current player.Handle
	shown   string
	logger  zerolog.Logger
}

func NewExecDisplay(showCmd, clearCmd string, grace time.Duration) *ExecDisplay {
	return &ExecDisplay{
		ShowCmd:  showCmd,
		ClearCmd: clearCmd,
		Grace:    grace,
		logger:   log.With().Str("component", "display").Logger(),
	}
}

func (d *ExecDisplay) Show(ctx context.Context, imagePath string) error {
	if _, err := os.Stat(imagePath); err != nil {
		return fmt.Errorf("show %s: %w", imagePath, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	h, err := player.StartCommand(d.ShowCmd, imagePath, 0)
	if err != nil {
		return err
	}
	d.current = h
	d.shown = imagePath
	d.logger.Debug().Str("image", imagePath).Msg("image shown")
	return nil
}

func (d *ExecDisplay) Clear(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	d.shown = ""
	if d.ClearCmd == "" {
		return nil
	}

	h, err := player.StartCommand(d.ClearCmd, "", 0)
	if err != nil {
		return err
	}
	select {
	case <-h.Done():
	case <-ctx.Done():
		h.Stop(d.Grace)
		return ctx.Err()
	}
	if status := h.Exit(); !status.Graceful() {
		return errors.New("clear command failed")
	}
	return nil
}

// Shown returns the image currently on screen, if any.
func (d *ExecDisplay) Shown() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shown
}

func (d *ExecDisplay) stopLocked() {
	if d.current != nil {
		d.current.Stop(d.Grace)
		d.current = nil
	}
}
