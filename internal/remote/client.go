// Package remote is the device-side client for the authoritative scoring
// server: mutation submission over HTTP and the trip change feed over a
// websocket.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// Client talks to one scoring server with one trip-scoped device token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *slog.Logger
}

// NewClient creates a client for the server at baseURL. token is the
// trip-scoped device token from a prior join; empty is allowed for the join
// call itself.
func NewClient(baseURL, token string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger,
	}
}

// SetToken replaces the bearer token, after a join or refresh.
func (c *Client) SetToken(token string) { c.token = token }

// JoinRequest asks the server for a device token using a trip's share code.
type JoinRequest struct {
	ShareCode string    `json:"share_code"`
	DeviceID  uuid.UUID `json:"device_id"`
	Name      string    `json:"name"`
}

// JoinResponse carries the trip and the token scoping this device to it.
type JoinResponse struct {
	Trip  domain.Trip `json:"trip"`
	Token string      `json:"token"`
}

// Join exchanges a share code for a trip-scoped device token.
func (c *Client) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	var out JoinResponse
	if err := c.postJSON(ctx, "/trips/join", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type submitRequest struct {
	ID        uuid.UUID         `json:"id"`
	Kind      domain.EntityKind `json:"kind"`
	EntityID  string            `json:"entity_id"`
	Operation domain.Operation  `json:"operation"`
	Payload   json.RawMessage   `json:"payload,omitempty"`
}

type submitResponse struct {
	NewRevision int64 `json:"new_revision"`
}

type errorResponse struct {
	Code            string          `json:"code"`
	Message         string          `json:"message"`
	CurrentRevision int64           `json:"current_revision,omitempty"`
	CurrentPayload  json.RawMessage `json:"current_payload,omitempty"`
}

// Submit delivers one queued mutation. The item id doubles as the
// idempotency key, so resubmitting after an ambiguous transport failure
// returns the originally recorded outcome instead of double-applying.
//
// A stale rejection is a resolved outcome, not an error: it comes back in
// the SubmitResult with the authoritative revision and payload.
func (c *Client) Submit(ctx context.Context, tripID uuid.UUID, item domain.MutationQueueItem) (domain.SubmitResult, error) {
	body, err := json.Marshal(submitRequest{
		ID:        item.ID,
		Kind:      item.Kind,
		EntityID:  item.EntityID,
		Operation: item.Operation,
		Payload:   item.Payload,
	})
	if err != nil {
		return domain.SubmitResult{}, fmt.Errorf("encode mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/trips/%s/mutations", c.baseURL, tripID), bytes.NewReader(body))
	if err != nil {
		return domain.SubmitResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", item.IdempotencyKey())
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SubmitResult{}, domain.ErrSyncTransport(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var ok submitResponse
		if err := json.NewDecoder(resp.Body).Decode(&ok); err != nil {
			return domain.SubmitResult{}, domain.ErrSyncTransport(fmt.Errorf("decode accept response: %w", err))
		}
		return domain.SubmitResult{Accepted: true, NewRevision: ok.NewRevision}, nil

	case resp.StatusCode == http.StatusConflict:
		var rej errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&rej); err != nil {
			return domain.SubmitResult{}, domain.ErrSyncTransport(fmt.Errorf("decode conflict response: %w", err))
		}
		if rej.Code != domain.CodeStaleRevision {
			return domain.SubmitResult{}, domain.ErrConflict(rej.Message)
		}
		return domain.SubmitResult{
			RejectedStale:   true,
			CurrentRevision: rej.CurrentRevision,
			CurrentPayload:  rej.CurrentPayload,
		}, nil

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Client-class rejections do not retry; surface them as-is.
		return domain.SubmitResult{}, decodeAPIError(resp)

	default:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.SubmitResult{}, domain.ErrSyncTransport(
			fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
}

// Subscribe opens the trip's change feed and delivers every event after the
// given feed sequence to handle, in order. It blocks until ctx is cancelled
// or the connection drops; the caller owns reconnect policy and cursor
// persistence.
func (c *Client) Subscribe(ctx context.Context, tripID uuid.UUID, after int64, handle func(domain.ChangeEvent) error) error {
	u, err := c.feedURL(tripID, after)
	if err != nil {
		return err
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return domain.ErrSyncTransport(fmt.Errorf("dial feed: %w", err))
	}
	defer conn.Close()
	c.logger.Info("subscribed to trip feed", "trip_id", tripID, "after", after)

	// Unblock the read loop when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		var ev domain.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return domain.ErrSyncTransport(fmt.Errorf("read feed: %w", err))
		}
		if err := handle(ev); err != nil {
			return err
		}
	}
}

func (c *Client) feedURL(tripID uuid.UUID, after int64) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/trips/%s/feed", tripID)
	q := u.Query()
	q.Set("after", strconv.FormatInt(after, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) postJSON(ctx context.Context, path string, headers http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ErrSyncTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeAPIError(resp *http.Response) error {
	var apiErr errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
		return domain.ErrSyncTransport(fmt.Errorf("server returned %d", resp.StatusCode))
	}
	return &domain.AppError{Code: apiErr.Code, Message: apiErr.Message, Status: resp.StatusCode}
}
