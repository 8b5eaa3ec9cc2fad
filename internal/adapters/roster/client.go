// Package roster is the HTTP client for the external roster authority.
package roster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
)

const requestTimeout = 10 * time.Second

// Client talks to the roster service REST API. Every method is
// best-effort; callers decide whether a failure is retried or dropped.
type Client struct {
	baseURL string
	self    domain.ParticipantID
	http    *http.Client
}

func NewClient(baseURL string, self domain.ParticipantID) *Client {
	return &Client{
		baseURL: baseURL,
		self:    self,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

func (c *Client) CallDetail(ctx context.Context, id domain.CallID) (*core.CallDetail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/calls/%s", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch call detail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch call detail: status %d", resp.StatusCode)
	}

	var detail core.CallDetail
	if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil {
		return nil, fmt.Errorf("decode call detail: %w", err)
	}
	return &detail, nil
}

func (c *Client) Join(ctx context.Context, id domain.CallID) error {
	body := map[string]string{"participant_id": string(c.self)}
	return c.post(ctx, fmt.Sprintf("%s/calls/%s/join", c.baseURL, id), body)
}

func (c *Client) UpdateStatus(ctx context.Context, id domain.CallID, pid domain.ParticipantID, flags domain.MediaFlags) error {
	body := map[string]any{
		"participant_id": string(pid),
		"muted":          flags.Muted,
		"video_enabled":  flags.VideoEnabled,
	}
	return c.post(ctx, fmt.Sprintf("%s/calls/%s/status", c.baseURL, id), body)
}

func (c *Client) Remove(ctx context.Context, id domain.CallID, pid domain.ParticipantID) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/calls/%s/participants/%s", c.baseURL, id, pid), nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	drain(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("remove participant: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("roster post: %w", err)
	}
	drain(resp)

	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn().Str("module", "roster").Str("url", url).
			Int("status", resp.StatusCode).Msg("roster request rejected")
		return fmt.Errorf("roster post: status %d", resp.StatusCode)
	}
	return nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
