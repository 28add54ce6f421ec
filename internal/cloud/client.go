// Package cloud is the HTTP client for the fleet management API.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mesophy/signaged/internal/config"
	apperrors "github.com/mesophy/signaged/internal/errors"
	"github.com/mesophy/signaged/internal/model"
	"github.com/mesophy/signaged/internal/retry"
)

type Client struct {
	baseURL *url.URL
	client  *http.Client
	policy  retry.Policy
}

func NewClient(baseURL string, policy retry.Policy) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", baseURL)
	}
	return &Client{
		baseURL: parsed,
		client:  &http.Client{},
		policy:  policy,
	}, nil
}

// GenerateCode registers a pairing code with the backend. proposed is sent
// along so an older backend can simply accept it; the returned code wins.
func (c *Client) GenerateCode(ctx context.Context, proposed string, info model.DeviceInfo) (string, error) {
	body := generateCodeRequest{DeviceInfo: info, PairingCode: proposed}
	return retry.Do(ctx, c.policy, "generate-code", func(ctx context.Context) (string, error) {
		var resp generateCodeResponse
		err := c.doJSON(ctx, config.PairingRequestTimeout, http.MethodPost, "/devices/generate-code", "", body, &resp)
		if err != nil {
			return "", err
		}
		return resp.PairingCode, nil
	})
}

func (c *Client) CheckPairing(ctx context.Context, code string) (*PairingStatus, error) {
	path := "/devices/check-pairing/" + url.PathEscape(code)
	return retry.Do(ctx, c.policy, "check-pairing", func(ctx context.Context) (*PairingStatus, error) {
		var resp PairingStatus
		if err := c.doJSON(ctx, config.PairingRequestTimeout, http.MethodGet, path, "", nil, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

func (c *Client) Sync(ctx context.Context, token string) (*SyncResult, error) {
	return retry.Do(ctx, c.policy, "sync", func(ctx context.Context) (*SyncResult, error) {
		var resp SyncResult
		if err := c.doJSON(ctx, config.SyncRequestTimeout, http.MethodGet, "/devices/sync", token, nil, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

func (c *Client) Heartbeat(ctx context.Context, token string, hb Heartbeat) (*HeartbeatResult, error) {
	return retry.Do(ctx, c.policy, "heartbeat", func(ctx context.Context) (*HeartbeatResult, error) {
		var resp HeartbeatResult
		if err := c.doJSON(ctx, config.HeartbeatRequestTimeout, http.MethodPost, "/devices/heartbeat", token, hb, &resp); err != nil {
			return nil, err
		}
		return &resp, nil
	})
}

// Download streams rawURL into dst in a single attempt and returns the
// response Content-Type. The device token is only sent to the API host.
func (c *Client) Download(ctx context.Context, rawURL, token string, dst io.Writer) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.DownloadTimeout)
	defer cancel()

	target, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse media url: %w", err)
	}
	if !target.IsAbs() {
		target = c.baseURL.ResolveReference(target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if token != "" && strings.EqualFold(target.Host, c.baseURL.Host) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", apperrors.NetworkFailure("download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.APIError("download", resp.StatusCode)
	}

	n, err := io.Copy(dst, resp.Body)
	if err != nil {
		return "", apperrors.NetworkFailure("download", err)
	}

	log.Debug().
		Str("url", target.Redacted()).
		Int64("bytes", n).
		Dur("elapsed", time.Since(start)).
		Msg("download complete")

	return resp.Header.Get("Content-Type"), nil
}

func (c *Client) doJSON(ctx context.Context, timeout time.Duration, method, path, token string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return retry.Permanent(fmt.Errorf("marshal payload: %w", err))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn().
			Err(err).
			Str("path", path).
			Dur("elapsed", elapsed).
			Msg("cloud request error")
		return apperrors.NetworkFailure(strings.TrimPrefix(path, "/"), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		log.Warn().
			Str("path", path).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("cloud request failed")
		return classifyStatus(path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(apperrors.Wrap(apperrors.ErrCodeAPI, "decode "+path+" response", err))
	}

	log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("cloud request ok")

	return nil
}

// classifyStatus maps a non-2xx status to an AppError. Client errors other
// than timeouts and rate limits are not retried.
func classifyStatus(path string, status int) error {
	op := strings.TrimPrefix(path, "/")
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return retry.Permanent(apperrors.Unauthorized(fmt.Sprintf("%s: device token rejected (%d)", op, status)))
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return apperrors.APIError(op, status)
	case status >= 400 && status < 500:
		return retry.Permanent(apperrors.APIError(op, status))
	default:
		return apperrors.APIError(op, status)
	}
}
