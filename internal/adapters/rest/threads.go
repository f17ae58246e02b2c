// Package rest holds the HTTP clients for the hub's external collaborators:
// the thread listing/history backend, the per-channel send providers, and the
// voice token service.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dispatchhq/commshub/internal/core"
	"github.com/dispatchhq/commshub/internal/domain"
)

const defaultTimeout = 10 * time.Second

// ThreadClient implements core.ThreadDirectory against the threads backend:
// GET {base}/api/threads?limit=N and GET {base}/api/threads/{id}/events.
type ThreadClient struct {
	base string
	http *http.Client
}

func NewThreadClient(base string) *ThreadClient {
	return &ThreadClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *ThreadClient) ListThreads(ctx context.Context, limit int) ([]domain.Thread, error) {
	u := fmt.Sprintf("%s/api/threads?limit=%d", c.base, limit)
	var threads []domain.Thread
	if err := getJSON(ctx, c.http, u, &threads); err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return threads, nil
}

func (c *ThreadClient) ListEvents(ctx context.Context, id domain.ThreadID) ([]domain.ThreadEvent, error) {
	u := fmt.Sprintf("%s/api/threads/%s/events", c.base, url.PathEscape(string(id)))
	var events []domain.ThreadEvent
	if err := getJSON(ctx, c.http, u, &events); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

// TokenClient implements core.TokenService:
// POST {base}/api/voice/token {room, identity} -> {token, url}.
type TokenClient struct {
	base string
	http *http.Client
}

func NewTokenClient(base string) *TokenClient {
	return &TokenClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
}

func (c *TokenClient) GetToken(ctx context.Context, room core.RoomID, identity core.Identity) (core.VoiceToken, error) {
	body := map[string]string{"room": string(room), "identity": string(identity)}
	var tok core.VoiceToken
	if err := postJSON(ctx, c.http, c.base+"/api/voice/token", "", body, &tok); err != nil {
		return core.VoiceToken{}, fmt.Errorf("get voice token: %w", err)
	}
	if tok.Token == "" {
		return core.VoiceToken{}, fmt.Errorf("get voice token: token missing in response")
	}
	return tok, nil
}

func getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(ctx context.Context, client *http.Client, u, bearer string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
