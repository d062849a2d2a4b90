package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sgi/pkg/config"
	"sgi/pkg/logx"
	"sgi/pkg/proto"
	"sgi/pkg/utils"
)

// Platform limits on message bodies.
const (
	MaxTextBody        = 4096
	MaxInteractiveBody = 1024
	MaxHeader          = 60
	MaxFooter          = 60
)

// APIError is a Graph API error response.
type APIError struct {
	Status    int    `json:"-"`
	Code      int    `json:"code"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api %d (code %d): %s", e.Status, e.Code, e.Message)
}

// Client sends messages through the Cloud API.
type Client struct {
	baseURL       string
	phoneNumberID string
	accessToken   string
	http          *http.Client
	logger        *logx.Logger
}

// NewClient builds a client from cfg. httpClient may be nil.
func NewClient(cfg *config.WhatsAppConfig, httpClient *http.Client) (*Client, error) {
	if cfg.AccessToken == "" || cfg.PhoneNumberID == "" {
		return nil, errors.New("whatsapp access token and phone number id are required")
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.APIBaseURL, "/") + "/" + cfg.APIVersion,
		phoneNumberID: cfg.PhoneNumberID,
		accessToken:   cfg.AccessToken,
		http:          httpClient,
		logger:        logx.NewLogger("whatsapp"),
	}, nil
}

// Send delivers out to the user identified by to. A menu is sent as an
// interactive message; text that does not fit its body goes first as a
// separate text message. The magic link is appended to the text.
func (c *Client) Send(ctx context.Context, to string, out proto.Outbound) error {
	if out.Duplicate {
		return nil
	}
	text := out.Text
	if out.MagicLink != "" {
		text = strings.TrimSpace(text + "\n\n🔗 " + out.MagicLink)
	}

	if out.Interactive == nil {
		return c.sendText(ctx, to, text)
	}
	menu := *out.Interactive
	if err := menu.Validate(); err != nil {
		c.logger.Warn("menu rejected, sending text instead: %v", err)
		return c.sendText(ctx, to, withRows(text, menu.Options()))
	}
	if menu.Body == out.Text && len([]rune(text)) <= MaxInteractiveBody {
		menu.Body = text
		return c.sendInteractive(ctx, to, &menu)
	}
	if err := c.sendText(ctx, to, text); err != nil {
		return err
	}
	menu.Body = utils.Truncate(menu.Body, MaxInteractiveBody)
	return c.sendInteractive(ctx, to, &menu)
}

func (c *Client) sendText(ctx context.Context, to, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "text",
		"text":              map[string]any{"preview_url": true, "body": utils.Truncate(text, MaxTextBody)},
	})
}

func (c *Client) sendInteractive(ctx context.Context, to string, m *proto.Interactive) error {
	return c.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "interactive",
		"interactive":       interactivePayload(m),
	})
}

func interactivePayload(m *proto.Interactive) map[string]any {
	p := map[string]any{"body": map[string]string{"text": m.Body}}
	if m.Header != "" {
		p["header"] = map[string]string{"type": "text", "text": utils.Truncate(m.Header, MaxHeader)}
	}
	if m.Footer != "" {
		p["footer"] = map[string]string{"text": utils.Truncate(m.Footer, MaxFooter)}
	}

	switch m.Kind {
	case proto.KindButtons:
		p["type"] = "button"
		buttons := make([]map[string]any, len(m.Buttons))
		for i, b := range m.Buttons {
			buttons[i] = map[string]any{
				"type":  "reply",
				"reply": map[string]string{"id": b.ID, "title": utils.Truncate(b.Title, proto.MaxButtonTitle)},
			}
		}
		p["action"] = map[string]any{"buttons": buttons}
	default:
		p["type"] = "list"
		sections := make([]map[string]any, len(m.Sections))
		for i, s := range m.Sections {
			rows := make([]map[string]string, len(s.Rows))
			for j, r := range s.Rows {
				row := map[string]string{"id": r.ID, "title": utils.Truncate(r.Title, proto.MaxRowTitle)}
				if r.Description != "" {
					row["description"] = utils.Truncate(r.Description, proto.MaxRowDesc)
				}
				rows[j] = row
			}
			section := map[string]any{"rows": rows}
			if s.Title != "" {
				section["title"] = utils.Truncate(s.Title, proto.MaxSectionTitle)
			}
			sections[i] = section
		}
		p["action"] = map[string]any{
			"button":   utils.Truncate(m.ButtonLabel, proto.MaxListButtonLen),
			"sections": sections,
		}
	}
	return p
}

// withRows renders options as numbered lines under text.
func withRows(text string, rows []proto.Row) string {
	var b strings.Builder
	b.WriteString(text)
	for i, r := range rows {
		fmt.Fprintf(&b, "\n%d. %s", i+1, r.Title)
	}
	return b.String()
}

// MediaInfo resolves a media id to a short-lived download URL.
func (c *Client) MediaInfo(ctx context.Context, mediaID string) (url, mimeType string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+mediaID, http.NoBody)
	if err != nil {
		return "", "", fmt.Errorf("failed to build media request: %w", err)
	}
	var info struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
	}
	if err := c.do(req, &info); err != nil {
		return "", "", fmt.Errorf("failed to look up media %s: %w", mediaID, err)
	}
	return info.URL, info.MimeType, nil
}

func (c *Client) postMessage(ctx context.Context, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+c.phoneNumberID+"/messages", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("failed to send %s message: %w", payload["type"], err)
	}
	return nil
}

func (c *Client) do(req *http.Request, into any) error {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var envelope struct {
			Error APIError `json:"error"`
		}
		_ = json.Unmarshal(body, &envelope)
		envelope.Error.Status = resp.StatusCode
		if envelope.Error.Message == "" {
			envelope.Error.Message = http.StatusText(resp.StatusCode)
		}
		return &envelope.Error
	}
	if into == nil {
		return nil
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
