// Package companion is the device side of the secure API: it pairs with a
// desktop from a scanned QR payload and then talks to it over the pinned
// TLS channel, keeping the rotating device token current.
package companion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrijs2005/vitalink/internal/client/pinning"
	"github.com/dmitrijs2005/vitalink/internal/common"
	"github.com/dmitrijs2005/vitalink/internal/server/pairing"
)

// ErrRepairRequired means the desktop no longer accepts this device, either
// because it was unpaired or because the desktop certificate was reset.
var ErrRepairRequired = errors.New("device must pair again")

// APIError is a non-success answer from the secure API.
type APIError struct {
	Status int
	Code   string
	Repair bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("secure api: %d %s", e.Status, e.Code)
}

// Unwrap maps wire codes to the shared sentinel errors.
func (e *APIError) Unwrap() error {
	if e.Repair {
		return ErrRepairRequired
	}
	switch e.Code {
	case "pairing_token_invalid":
		return common.ErrPairingTokenInvalid
	case "pairing_expired":
		return common.ErrPairingExpired
	case "pairing_denied":
		return common.ErrPairingDenied
	case "pairing_delivered":
		return common.ErrPairingDelivered
	case "pairing_cancelled":
		return common.ErrPairingCancelled
	case "forbidden":
		return common.ErrorForbidden
	case "rate_limited":
		return common.ErrRateLimited
	case "unauthorized":
		return common.ErrorUnauthorized
	}
	return nil
}

type DeviceInfo struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Platform string `json:"platform"`
}

// Credentials are what a device persists after pairing.
type Credentials struct {
	BaseURL     string `json:"base_url"`
	DeviceID    string `json:"device_id"`
	ProfileID   string `json:"profile_id"`
	Token       string `json:"token"`
	Fingerprint string `json:"fingerprint"`
	Access      string `json:"access"`
}

type Client struct {
	http *http.Client

	mu    sync.Mutex
	creds Credentials
}

// New resumes a paired device. A nil httpClient gets one pinned to the
// stored fingerprint.
func New(creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = pinning.NewClient(creds.Fingerprint)
	}
	return &Client{http: httpClient, creds: creds}
}

// Credentials returns the current credentials, including the latest
// rotated token.
func (c *Client) Credentials() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.creds
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error  string `json:"error"`
		Repair bool   `json:"repair"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &APIError{Status: resp.StatusCode, Code: body.Error, Repair: body.Repair}
}

func do(ctx context.Context, hc *http.Client, method, target, bearerToken string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}
	return hc.Do(req)
}

func decode(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// call performs an authenticated request and picks up the rotated token.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	c.mu.Lock()
	base, token := c.creds.BaseURL, c.creds.Token
	c.mu.Unlock()

	resp, err := do(ctx, c.http, method, base+path, token, in)
	if err != nil {
		return err
	}
	if next := resp.Header.Get(common.DeviceTokenHeaderName); next != "" {
		c.mu.Lock()
		c.creds.Token = next
		c.mu.Unlock()
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return readAPIError(resp)
	}
	return decode(resp, out)
}

// Pair runs the device side of pairing: connect with the one-time token,
// announce the device, then wait for the desktop decision. When ctx ends
// while waiting, the attempt is abandoned so the desktop rolls back.
func Pair(ctx context.Context, p *pairing.Payload, info DeviceInfo, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = pinning.NewClient(p.FP)
	}
	base := p.BaseURL()

	var conn struct {
		Ticket string `json:"ticket"`
	}
	resp, err := do(ctx, httpClient, http.MethodPost, base+"/api/v1/pair/connect", "", map[string]string{"token": p.Token})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	if err := decode(resp, &conn); err != nil {
		return nil, err
	}

	resp, err = do(ctx, httpClient, http.MethodPost, base+"/api/v1/pair/request", conn.Ticket, info)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	_ = decode(resp, nil)

	approval, err := awaitApproval(ctx, httpClient, base, conn.Ticket)
	if err != nil {
		if ctx.Err() != nil {
			abandon(httpClient, base, conn.Ticket)
		}
		return nil, err
	}
	return New(Credentials{
		BaseURL:     base,
		DeviceID:    approval.DeviceID,
		ProfileID:   approval.ProfileID,
		Token:       approval.Token,
		Fingerprint: approval.Fingerprint,
		Access:      approval.Access,
	}, httpClient), nil
}

func awaitApproval(ctx context.Context, hc *http.Client, base, ticket string) (*pairing.Approval, error) {
	for {
		resp, err := do(ctx, hc, http.MethodGet, base+"/api/v1/pair/result", ticket, nil)
		if err != nil {
			return nil, err
		}
		switch resp.StatusCode {
		case http.StatusOK:
			var a pairing.Approval
			if err := decode(resp, &a); err != nil {
				return nil, err
			}
			return &a, nil
		case http.StatusAccepted:
			wait := retryAfter(resp.Header.Get("Retry-After"))
			_ = decode(resp, nil)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		default:
			defer resp.Body.Close()
			return nil, readAPIError(resp)
		}
	}
}

func retryAfter(v string) time.Duration {
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Second
	}
	return time.Second
}

func abandon(hc *http.Client, base, ticket string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := do(ctx, hc, http.MethodDelete, base+"/api/v1/pair", ticket, nil)
	if err == nil {
		_ = decode(resp, nil)
	}
}

type Profile struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Access string `json:"access"`
	Own    bool   `json:"own"`
}

type Session struct {
	DeviceID    string    `json:"device_id"`
	ProfileID   string    `json:"profile_id"`
	Name        string    `json:"name"`
	Access      string    `json:"access"`
	Fingerprint string    `json:"fingerprint"`
	PairedAt    time.Time `json:"paired_at"`
	Profiles    []Profile `json:"profiles"`
}

func (c *Client) Session(ctx context.Context) (*Session, error) {
	var s Session
	if err := c.call(ctx, http.MethodGet, "/api/v1/session", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var out struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/profiles", nil, &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

type Record struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Version   int64           `json:"version,omitempty"`
	Deleted   bool            `json:"deleted"`
	UpdatedAt time.Time       `json:"updated_at,omitempty"`
}

type PullResult struct {
	Records    []Record `json:"records"`
	MaxVersion int64    `json:"max_version"`
}

// Pull returns records of collection changed after version since.
func (c *Client) Pull(ctx context.Context, profileID, collection string, since int64, limit int) (*PullResult, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/v1/sync/" + url.PathEscape(profileID) + "/" + url.PathEscape(collection) + "?" + q.Encode()

	var out PullResult
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type Pushed struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

func (c *Client) Push(ctx context.Context, profileID, collection string, records []Record) ([]Pushed, error) {
	type input struct {
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
		Deleted bool            `json:"deleted"`
	}
	req := struct {
		Records []input `json:"records"`
	}{Records: make([]input, 0, len(records))}
	for _, r := range records {
		req.Records = append(req.Records, input{ID: r.ID, Payload: r.Payload, Deleted: r.Deleted})
	}

	var out struct {
		Records []Pushed `json:"records"`
	}
	path := "/api/v1/sync/" + url.PathEscape(profileID) + "/" + url.PathEscape(collection)
	if err := c.call(ctx, http.MethodPut, path, req, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// Unpair removes this device from the desktop.
func (c *Client) Unpair(ctx context.Context) error {
	return c.call(ctx, http.MethodDelete, "/api/v1/device", nil, nil)
}
