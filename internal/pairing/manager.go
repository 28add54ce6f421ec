// Package pairing binds an unprovisioned device to a cloud screen.
package pairing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/cloud"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/event"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/repository"
	"github.com/mesophy/signaged/internal/util"
)

const maxCodeAttempts = 5

type Client interface {
	GenerateCode(ctx context.Context, proposed string, info model.DeviceInfo) (string, error)
	CheckPairing(ctx context.Context, code string) (*cloud.PairingStatus, error)
}

type PollResult int

const (
	StillWaiting PollResult = iota
	Paired
)

func (r PollResult) String() string {
	if r == Paired {
		return "paired"
	}
	return "still_waiting"
}

type Manager struct {
	client       Client
	repo         repository.DeviceConfigRepository
	deviceInfo   func() model.DeviceInfo
	ttl          time.Duration
	pollInterval time.Duration
	now          func() time.Time
	newCode      func() string
	logger       zerolog.Logger

	mu       sync.Mutex
	session  *model.PairingSession
	previous string
}

func NewManager(
	client Client,
	repo repository.DeviceConfigRepository,
	deviceInfo func() model.DeviceInfo,
	ttl time.Duration,
	pollInterval time.Duration,
) *Manager {
	return &Manager{
		client:       client,
		repo:         repo,
		deviceInfo:   deviceInfo,
		ttl:          ttl,
		pollInterval: pollInterval,
		now:          time.Now,
		newCode:      generateRandomCode,
		logger:       log.With().Str("component", "pairing").Logger(),
	}
}

// Session returns the code currently on offer, if any.
func (m *Manager) Session() *model.PairingSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	s := *m.session
	return &s
}

// RequestCode registers a fresh code with the backend and makes it the
// current session. A new code never equals the one it replaces.
func (m *Manager) RequestCode(ctx context.Context) (model.PairingSession, error) {
	m.mu.Lock()
	previous := m.previous
	if m.session != nil {
		previous = m.session.Code
	}
	m.session = nil
	m.mu.Unlock()

	info := m.deviceInfo()
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		proposed := m.newCode()
		if proposed == previous {
			continue
		}

		code, err := m.client.GenerateCode(ctx, proposed, info)
		if err != nil {
			return model.PairingSession{}, err
		}
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			code = proposed
		}
		if code == previous {
			m.logger.Warn().Str("code", util.MaskCode(code)).Int("attempt", attempt).Msg("backend reissued the previous code")
			continue
		}

		now := m.now()
		session := model.PairingSession{Code: code, IssuedAt: now, ExpiresAt: now.Add(m.ttl)}

		m.mu.Lock()
		m.session = &session
		m.previous = code
		m.mu.Unlock()

		m.logger.Info().
			Str("code", util.MaskCode(code)).
			Time("expiresAt", session.ExpiresAt).
			Msg("pairing code issued")
		return session, nil
	}

	return model.PairingSession{}, apperrors.New(apperrors.ErrCodeAPI, "could not obtain a fresh pairing code")
}

// PollOnce asks whether session has been claimed. On Paired the identity is
// persisted before it is returned, and the session is discarded.
func (m *Manager) PollOnce(ctx context.Context, session model.PairingSession) (PollResult, *model.DeviceIdentity, error) {
	if session.Expired(m.now()) {
		return StillWaiting, nil, apperrors.PairingExpired()
	}

	status, err := m.client.CheckPairing(ctx, session.Code)
	if err != nil {
		return StillWaiting, nil, err
	}
	if !status.Paired {
		return StillWaiting, nil, nil
	}

	cfg := status.DeviceConfig
	if cfg == nil || cfg.DeviceToken == "" || cfg.ScreenID == "" {
		return StillWaiting, nil, apperrors.New(apperrors.ErrCodeAPI, "paired response is missing device credentials")
	}

	identity := model.DeviceIdentity{
		DeviceToken: cfg.DeviceToken,
		ScreenID:    cfg.ScreenID,
		ScreenName:  cfg.ScreenName,
		PairedAt:    m.now(),
	}
	if err := m.repo.SaveIdentity(ctx, identity); err != nil {
		return StillWaiting, nil, apperrors.Database(err)
	}

	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()

	m.logger.Info().
		Str("screenId", identity.ScreenID).
		Str("screenName", identity.ScreenName).
		Msg("device paired")
	return Paired, &identity, nil
}

// Run drives the pairing state machine until the device is paired or ctx is
// cancelled. Expired codes are replaced without operator action; request
// failures are reported and retried on the next tick.
func (m *Manager) Run(ctx context.Context, events event.Poster) (*model.DeviceIdentity, error) {
	var session *model.PairingSession

	for {
		if session == nil || session.Expired(m.now()) {
			s, err := m.RequestCode(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				m.logger.Warn().Err(err).Msg("pairing code request failed")
				events.Post(event.PairingFailed{Err: err})
				session = nil
				if err := m.sleep(ctx, m.pollInterval); err != nil {
					return nil, err
				}
				continue
			}
			session = &s
			events.Post(event.PairingCodeIssued{Session: s})
		}

		wait := m.pollInterval
		if remaining := session.Remaining(m.now()); remaining < wait {
			wait = remaining
		}
		if err := m.sleep(ctx, wait); err != nil {
			return nil, err
		}

		result, identity, err := m.PollOnce(ctx, *session)
		switch {
		case err != nil && apperrors.GetCode(err) == apperrors.ErrCodePairingExpired:
			m.logger.Info().Str("code", util.MaskCode(session.Code)).Msg("pairing code expired")
		case err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn().Err(err).Str("code", util.MaskCode(session.Code)).Msg("pairing check failed")
		case result == Paired:
			events.Post(event.Paired{ScreenID: identity.ScreenID, ScreenName: identity.ScreenName})
			return identity, nil
		default:
			m.logger.Debug().Str("code", util.MaskCode(session.Code)).Msg("waiting for claim")
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Reset forgets the persisted identity. It is the only way back to unpaired.
func Reset(ctx context.Context, repo repository.DeviceConfigRepository) error {
	if err := repo.ClearIdentity(ctx); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	return nil
}
