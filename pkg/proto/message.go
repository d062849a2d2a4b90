// Package proto defines the channel-neutral messages exchanged between the
// channel adapters, the orchestrator and the workflow engine.
package proto

import (
	"strings"
	"time"
)

// Channel identifies where an inbound message came from.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelChatAPI  Channel = "chat_api"
	ChannelConsole  Channel = "console"
)

// Role of a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one element of a bounded conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MediaRef points at an attachment held by the messaging platform.
type MediaRef struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Inbound is a single user message.
type Inbound struct {
	Channel     Channel
	Identity    string
	Text        string
	SelectionID string    // id of a tapped button or list row
	Media       *MediaRef // attachment, if any
	DeliveryID  string    // platform message id, used for idempotency
	History     []Turn    // caller-supplied history; nil means use the stored window
	ReceivedAt  time.Time
}

// Input returns the text the user effectively sent: the tapped option id
// when present, otherwise the trimmed text.
func (in *Inbound) Input() string {
	if in.SelectionID != "" {
		return in.SelectionID
	}
	return strings.TrimSpace(in.Text)
}

// Outbound is the reply payload for one turn.
type Outbound struct {
	Text        string       `json:"text"`
	Interactive *Interactive `json:"interactive,omitempty"`
	MagicLink   string       `json:"magicLink,omitempty"`
	Data        any          `json:"data,omitempty"`
	Action      string       `json:"action,omitempty"`
	Duplicate   bool         `json:"-"`
}

// LinkRequest asks the orchestrator to mint a magic link for a view.
type LinkRequest struct {
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
	Tool         string            `json:"tool,omitempty"`
	Snapshot     any               `json:"snapshot,omitempty"`
}

// Magic-link resource types. Detail types need a resource id.
const (
	ResourceProject     = "project"
	ResourceIncident    = "incident"
	ResourceFinance     = "finance"
	ResourceTopProjects = "top_projects"
	ResourceProjects    = "projects"
	ResourceIncidents   = "incidents"
	ResourceStock       = "stock"
	ResourceSnapshot    = "snapshot"
)

// ResourceTypes lists every resource type a link may point at.
func ResourceTypes() []string {
	return []string{
		ResourceProject, ResourceIncident, ResourceFinance, ResourceTopProjects,
		ResourceProjects, ResourceIncidents, ResourceStock, ResourceSnapshot,
	}
}

// IsDetailResource reports whether t addresses a single record.
func IsDetailResource(t string) bool {
	return t == ResourceProject || t == ResourceIncident || t == ResourceFinance
}
