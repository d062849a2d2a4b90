// Package whatsapp adapts the WhatsApp Cloud API to the engine: webhook
// verification and parsing on the way in, a Graph API client on the way out.
package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"sgi/pkg/proto"
)

// SignatureHeader carries the HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// Verify answers the subscription handshake. It returns the challenge to
// echo and true when mode and token match.
func Verify(q url.Values, verifyToken string) (string, bool) {
	if verifyToken == "" || q.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if !hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(verifyToken)) {
		return "", false
	}
	return q.Get("hub.challenge"), true
}

// VerifySignature checks header ("sha256=<hex>") against body signed with
// appSecret.
func VerifySignature(body []byte, header, appSecret string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok || appSecret == "" {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the signature header value for body.
func Sign(body []byte, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Webhook is the notification envelope.
type Webhook struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the changes of one business account.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

// Change is one notification.
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue holds inbound messages and delivery statuses.
type ChangeValue struct {
	MessagingProduct string    `json:"messaging_product"`
	Contacts         []Contact `json:"contacts,omitempty"`
	Messages         []Message `json:"messages,omitempty"`
	Statuses         []Status  `json:"statuses,omitempty"`
}

// Contact is the sender profile.
type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

// Status is a delivery receipt for an outbound message.
type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Message is one inbound message.
type Message struct {
	From        string       `json:"from"`
	ID          string       `json:"id"`
	Timestamp   string       `json:"timestamp"`
	Type        string       `json:"type"`
	Text        *TextBody    `json:"text,omitempty"`
	Interactive *Reply       `json:"interactive,omitempty"`
	Button      *QuickReply  `json:"button,omitempty"`
	Image       *MediaObject `json:"image,omitempty"`
	Document    *MediaObject `json:"document,omitempty"`
	Video       *MediaObject `json:"video,omitempty"`
	Audio       *MediaObject `json:"audio,omitempty"`
}

// TextBody is the body of a text message.
type TextBody struct {
	Body string `json:"body"`
}

// Reply is a tapped interactive option.
type Reply struct {
	Type        string       `json:"type"`
	ButtonReply *ReplyOption `json:"button_reply,omitempty"`
	ListReply   *ReplyOption `json:"list_reply,omitempty"`
}

// ReplyOption identifies the tapped option.
type ReplyOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// QuickReply is a template quick-reply button.
type QuickReply struct {
	Payload string `json:"payload"`
	Text    string `json:"text"`
}

// MediaObject references an uploaded attachment.
type MediaObject struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
	SHA256   string `json:"sha256,omitempty"`
}

// Parse decodes a webhook body into inbound messages. Statuses and message
// types the engine does not handle are skipped.
func Parse(body []byte) ([]*proto.Inbound, error) {
	var hook Webhook
	if err := json.Unmarshal(body, &hook); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}
	var out []*proto.Inbound
	for _, e := range hook.Entry {
		for _, c := range e.Changes {
			if c.Field != "" && c.Field != "messages" {
				continue
			}
			for i := range c.Value.Messages {
				if in := toInbound(&c.Value.Messages[i]); in != nil {
					out = append(out, in)
				}
			}
		}
	}
	return out, nil
}

func toInbound(m *Message) *proto.Inbound {
	if m.From == "" {
		return nil
	}
	in := &proto.Inbound{
		Channel:    proto.ChannelWhatsApp,
		Identity:   m.From,
		DeliveryID: m.ID,
		ReceivedAt: parseTimestamp(m.Timestamp),
	}
	switch m.Type {
	case "text":
		if m.Text == nil {
			return nil
		}
		in.Text = m.Text.Body
	case "interactive":
		if m.Interactive == nil {
			return nil
		}
		opt := m.Interactive.ButtonReply
		if opt == nil {
			opt = m.Interactive.ListReply
		}
		if opt == nil {
			return nil
		}
		in.SelectionID, in.Text = opt.ID, opt.Title
	case "button":
		if m.Button == nil {
			return nil
		}
		in.SelectionID, in.Text = m.Button.Payload, m.Button.Text
	case "image", "document", "video", "audio":
		obj := map[string]*MediaObject{"image": m.Image, "document": m.Document, "video": m.Video, "audio": m.Audio}[m.Type]
		if obj == nil {
			return nil
		}
		in.Media = &proto.MediaRef{ID: obj.ID, MimeType: obj.MimeType, Caption: obj.Caption, Filename: obj.Filename}
	default:
		return nil
	}
	return in
}

func parseTimestamp(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
