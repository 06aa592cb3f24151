// Package bridge implements provider.Client against an MTProto bridge
// sidecar speaking JSON over HTTP. The sidecar owns the wire protocol; this
// client only moves opaque session credentials and high-level commands.
package bridge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mivanovs/telegate/internal/server/provider"
	"github.com/sethvargo/go-retry"
)

// Error codes the sidecar returns in the response envelope.
const (
	codeAuthRejected     = "AUTH_REJECTED"
	codePasswordRequired = "PASSWORD_REQUIRED"
	codePeerNotFound     = "PEER_NOT_FOUND"
	codeUnauthorized     = "UNAUTHORIZED"
)

type envelope struct {
	OK         bool            `json:"ok"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Credential string          `json:"credential,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// Client talks to one bridge connection. It is single-use: Connect, run one
// operation, Disconnect.
type Client struct {
	http       *http.Client
	baseURL    string
	apiID      string
	apiHash    string
	connID     string
	credential string
}

// Factory builds bridge-backed clients from stored credentials.
type Factory struct {
	BaseURL string
	APIID   string
	APIHash string
	Timeout time.Duration
}

func NewFactory(baseURL, apiID, apiHash string, timeout time.Duration) *Factory {
	return &Factory{BaseURL: baseURL, APIID: apiID, APIHash: apiHash, Timeout: timeout}
}

func (f *Factory) NewClient(credential string) (provider.Client, error) {
	return &Client{
		http:       &http.Client{Timeout: f.Timeout},
		baseURL:    f.BaseURL,
		apiID:      f.APIID,
		apiHash:    f.APIHash,
		credential: credential,
	}, nil
}

var _ provider.Factory = (*Factory)(nil)

// call posts a JSON command to the sidecar and decodes the envelope.
// A rotated credential in the envelope replaces the client's copy.
func (c *Client) call(ctx context.Context, path string, req any, result any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("bridge request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bridge returned %s: %s", resp.Status, string(data))
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if env.Credential != "" {
		c.credential = env.Credential
	}

	if !env.OK {
		switch env.ErrorCode {
		case codeAuthRejected:
			return provider.ErrAuthRejected
		case codePasswordRequired:
			return provider.ErrPasswordRequired
		case codePeerNotFound:
			return provider.ErrPeerNotFound
		case codeUnauthorized:
			return provider.ErrUnauthorized
		}
		return fmt.Errorf("bridge error: %s", env.Error)
	}

	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
	}

	return nil
}

// Connect opens a sidecar connection from the stored credential. Transient
// failures are retried with exponential backoff; the caller's context bounds
// the whole attempt.
func (c *Client) Connect(ctx context.Context) error {
	req := map[string]string{
		"api_id":     c.apiID,
		"api_hash":   c.apiHash,
		"credential": c.credential,
	}

	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var result struct {
			ConnID string `json:"conn_id"`
		}
		if err := c.call(ctx, "/connect", req, &result); err != nil {
			return retry.RetryableError(err)
		}
		c.connID = result.ConnID
		return nil
	})
}

// Disconnect releases the sidecar connection. Best-effort: errors are
// swallowed, the sidecar reaps stale connections on its own.
func (c *Client) Disconnect() {
	if c.connID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = c.call(ctx, "/disconnect", map[string]string{"conn_id": c.connID}, nil)
	c.connID = ""
}

func (c *Client) IsAuthorized(ctx context.Context) (bool, error) {
	var result struct {
		Authorized bool `json:"authorized"`
	}
	if err := c.call(ctx, "/is_authorized", map[string]string{"conn_id": c.connID}, &result); err != nil {
		return false, err
	}
	return result.Authorized, nil
}

func (c *Client) RequestCode(ctx context.Context, phone string) (*provider.Challenge, error) {
	req := map[string]string{"conn_id": c.connID, "phone": phone}
	var result struct {
		ChallengeToken string `json:"challenge_token"`
	}
	if err := c.call(ctx, "/request_code", req, &result); err != nil {
		return nil, err
	}
	return &provider.Challenge{Token: result.ChallengeToken}, nil
}

func (c *Client) SignInWithCode(ctx context.Context, phone, code, challengeToken string) error {
	req := map[string]string{
		"conn_id":         c.connID,
		"phone":           phone,
		"code":            code,
		"challenge_token": challengeToken,
	}
	return c.call(ctx, "/sign_in_code", req, nil)
}

func (c *Client) SignInWithPassword(ctx context.Context, password string) error {
	req := map[string]string{"conn_id": c.connID, "password": password}
	return c.call(ctx, "/sign_in_password", req, nil)
}

func (c *Client) Me(ctx context.Context) (*provider.Account, error) {
	var result struct {
		ID        int64  `json:"id"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Username  string `json:"username"`
		Phone     string `json:"phone"`
	}
	if err := c.call(ctx, "/me", map[string]string{"conn_id": c.connID}, &result); err != nil {
		return nil, err
	}
	return &provider.Account{
		ID:        result.ID,
		FirstName: result.FirstName,
		LastName:  result.LastName,
		Username:  result.Username,
		Phone:     result.Phone,
	}, nil
}

func (c *Client) Dialogs(ctx context.Context, limit int) ([]provider.Dialog, error) {
	req := map[string]any{"conn_id": c.connID, "limit": limit}
	var result struct {
		Dialogs []struct {
			ID          int64  `json:"id"`
			Name        string `json:"name"`
			UnreadCount int    `json:"unread_count"`
			IsGroup     bool   `json:"is_group"`
			IsChannel   bool   `json:"is_channel"`
		} `json:"dialogs"`
	}
	if err := c.call(ctx, "/dialogs", req, &result); err != nil {
		return nil, err
	}
	dialogs := make([]provider.Dialog, 0, len(result.Dialogs))
	for _, d := range result.Dialogs {
		dialogs = append(dialogs, provider.Dialog{
			ID:          d.ID,
			Name:        d.Name,
			UnreadCount: d.UnreadCount,
			IsGroup:     d.IsGroup,
			IsChannel:   d.IsChannel,
		})
	}
	return dialogs, nil
}

func (c *Client) Messages(ctx context.Context, dialogID int64, limit int) ([]provider.Message, error) {
	req := map[string]any{"conn_id": c.connID, "dialog_id": dialogID, "limit": limit}
	var result struct {
		Messages []struct {
			ID             int64     `json:"id"`
			SenderName     string    `json:"sender_name"`
			SenderUsername string    `json:"sender_username"`
			Text           string    `json:"text"`
			Date           time.Time `json:"date"`
		} `json:"messages"`
	}
	if err := c.call(ctx, "/messages", req, &result); err != nil {
		return nil, err
	}
	messages := make([]provider.Message, 0, len(result.Messages))
	for _, m := range result.Messages {
		messages = append(messages, provider.Message{
			ID:             m.ID,
			SenderName:     m.SenderName,
			SenderUsername: m.SenderUsername,
			Text:           m.Text,
			Date:           m.Date,
		})
	}
	return messages, nil
}

func (c *Client) MarkRead(ctx context.Context, dialogID int64) error {
	req := map[string]any{"conn_id": c.connID, "dialog_id": dialogID}
	return c.call(ctx, "/mark_read", req, nil)
}

func (c *Client) Send(ctx context.Context, peerID int64, text string) error {
	req := map[string]any{"conn_id": c.connID, "peer_id": peerID, "text": text}
	return c.call(ctx, "/send", req, nil)
}

func (c *Client) ResolvePeer(ctx context.Context, peerID int64) (int64, error) {
	req := map[string]any{"conn_id": c.connID, "peer_id": peerID}
	var result struct {
		PeerID int64 `json:"peer_id"`
	}
	if err := c.call(ctx, "/resolve_peer", req, &result); err != nil {
		return 0, err
	}
	return result.PeerID, nil
}

func (c *Client) DownloadPhoto(ctx context.Context) ([]byte, bool, error) {
	var result struct {
		HasPhoto bool   `json:"has_photo"`
		Data     string `json:"data"`
	}
	if err := c.call(ctx, "/download_photo", map[string]string{"conn_id": c.connID}, &result); err != nil {
		return nil, false, err
	}
	if !result.HasPhoto {
		return nil, false, nil
	}
	data, err := base64.StdEncoding.DecodeString(result.Data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding photo: %w", err)
	}
	return data, true, nil
}

// ExportCredential returns the latest session state observed from the
// sidecar. The sidecar attaches a rotated credential to any response, so this
// is current as of the last call.
func (c *Client) ExportCredential() (string, error) {
	return c.credential, nil
}

var _ provider.Client = (*Client)(nil)
