package provider

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

	"github.com/atendelab/zapdesk/pkg/logging"
)

// SendCredentials is the per-send slice of a tenant credential.
type SendCredentials struct {
	AccessToken   string
	PhoneNumberID string
}

// SendRequest is the normalized outbound message before envelope building.
type SendRequest struct {
	To       string
	Type     string
	Body     string
	Caption  string
	MediaURL string
	Filename string
}

// SendResponse is the Graph API acknowledgment. Raw keeps the untouched body
// for callers that pass the provider response through.
type SendResponse struct {
	MessagingProduct string `json:"messaging_product"`
	Contacts         []struct {
		Input string `json:"input"`
		WaID  string `json:"wa_id"`
	} `json:"contacts"`
	Messages []SentMessage   `json:"messages"`
	Raw      json.RawMessage `json:"-"`
}

// SentMessage is one accepted message in a send acknowledgment.
type SentMessage struct {
	ID string `json:"id"`
}

// MessageID returns the provider id assigned to the sent message.
func (r *SendResponse) MessageID() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[0].ID
}

// TokenResponse is the client-credentials exchange result.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Client talks to the WhatsApp Cloud (Graph) API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	logger     *logging.Logger
}

func NewClient(baseURL, version string, timeout time.Duration, logger *logging.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://graph.facebook.com"
	}
	if version == "" {
		version = "v19.0"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		version:    version,
		logger:     logger,
	}
}

// SendMessage posts one message to the channel's phone number and returns the
// provider acknowledgment.
func (c *Client) SendMessage(ctx context.Context, creds SendCredentials, req *SendRequest) (*SendResponse, error) {
	envelope, err := buildEnvelope(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal envelope: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.version, creds.PhoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: send message: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("provider: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("provider send rejected", "status", resp.StatusCode, "body", string(raw))
		return nil, fmt.Errorf("provider: send message: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out SendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("provider: decode response: %w", err)
	}
	out.Raw = raw
	return &out, nil
}

// ExchangeToken trades client credentials for an access token.
func (c *Client) ExchangeToken(ctx context.Context, clientID, clientSecret string) (*TokenResponse, error) {
	query := url.Values{
		"client_id":     {clientID},
		"client_secret": {clientSecret},
		"grant_type":    {"client_credentials"},
	}
	endpoint := fmt.Sprintf("%s/%s/oauth/access_token?%s", c.baseURL, c.version, query.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: build token request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider: exchange token: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("provider: read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: exchange token: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out TokenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("provider: decode token response: %w", err)
	}
	return &out, nil
}

func buildEnvelope(req *SendRequest) (map[string]any, error) {
	envelope := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                req.To,
		"type":              req.Type,
	}
	switch req.Type {
	case "text":
		envelope["text"] = map[string]any{"body": req.Body}
	case "image":
		envelope["image"] = mediaBlock(req.MediaURL, req.Caption, "")
	case "audio":
		envelope["audio"] = mediaBlock(req.MediaURL, "", "")
	case "video":
		envelope["video"] = mediaBlock(req.MediaURL, req.Caption, "")
	case "document":
		envelope["document"] = mediaBlock(req.MediaURL, req.Caption, req.Filename)
	default:
		return nil, fmt.Errorf("provider: unsupported message type %q", req.Type)
	}
	return envelope, nil
}

func mediaBlock(link, caption, filename string) map[string]any {
	block := map[string]any{"link": link}
	if caption != "" {
		block["caption"] = caption
	}
	if filename != "" {
		block["filename"] = filename
	}
	return block
}
