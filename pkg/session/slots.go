package session

import (
	"encoding/json"
	"fmt"
)

// Family names a workflow family. Each family owns exactly one slot record type.
type Family string

const (
	FamilyNone          Family = ""
	FamilyIncident      Family = "incident"
	FamilyMedia         Family = "media"
	FamilyStock         Family = "stock"
	FamilySignalement   Family = "signalement"
	FamilyFinance       Family = "finance"
	FamilyProjectUpdate Family = "project_update"
)

// Slots is the tagged variant held in Session.Data.
type Slots interface {
	Family() Family
}

// IncidentSlots collects an incident report.
type IncidentSlots struct {
	Type        string `json:"type,omitempty"`
	Category    string `json:"category,omitempty"`
	Severity    string `json:"severity,omitempty"`
	Description string `json:"description,omitempty"`
	PhotoID     string `json:"photo_id,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
	PhotoMime   string `json:"photo_mime,omitempty"`
	PhotoDone   bool   `json:"photo_done,omitempty"` // photo step answered, with or without a photo
}

// MediaSlots collects a project media upload.
type MediaSlots struct {
	ProjectID   string   `json:"project_id,omitempty"`
	ProjectName string   `json:"project_name,omitempty"`
	Candidates  []string `json:"candidates,omitempty"`
	MediaID     string   `json:"media_id,omitempty"`
	MediaURL    string   `json:"media_url,omitempty"`
	MimeType    string   `json:"mime_type,omitempty"`
	Caption     string   `json:"caption,omitempty"`
}

// StockSlots holds a stock search in progress.
type StockSlots struct {
	Query      string   `json:"query,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// SignalementSlots holds a signalement status change.
type SignalementSlots struct {
	SignalementID string   `json:"signalement_id,omitempty"`
	Title         string   `json:"title,omitempty"`
	Candidates    []string `json:"candidates,omitempty"`
	Action        string   `json:"action,omitempty"`
	Comment       string   `json:"comment,omitempty"`
}

// FinanceSlots holds a project-finance lookup.
type FinanceSlots struct {
	Query      string   `json:"query,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// ProjectUpdateSlots holds a single-field project update.
type ProjectUpdateSlots struct {
	ProjectID   string   `json:"project_id,omitempty"`
	ProjectName string   `json:"project_name,omitempty"`
	Candidates  []string `json:"candidates,omitempty"`
	Field       string   `json:"field,omitempty"`
	Value       string   `json:"value,omitempty"`
}

func (IncidentSlots) Family() Family      { return FamilyIncident }
func (MediaSlots) Family() Family         { return FamilyMedia }
func (StockSlots) Family() Family         { return FamilyStock }
func (SignalementSlots) Family() Family   { return FamilySignalement }
func (FinanceSlots) Family() Family       { return FamilyFinance }
func (ProjectUpdateSlots) Family() Family { return FamilyProjectUpdate }

func newSlots(f Family) (Slots, error) {
	switch f {
	case FamilyIncident:
		return &IncidentSlots{}, nil
	case FamilyMedia:
		return &MediaSlots{}, nil
	case FamilyStock:
		return &StockSlots{}, nil
	case FamilySignalement:
		return &SignalementSlots{}, nil
	case FamilyFinance:
		return &FinanceSlots{}, nil
	case FamilyProjectUpdate:
		return &ProjectUpdateSlots{}, nil
	default:
		return nil, fmt.Errorf("unknown slot family %q", f)
	}
}

// deref returns the value form so callers can type-switch on plain structs.
func deref(s Slots) Slots {
	switch v := s.(type) {
	case *IncidentSlots:
		return *v
	case *MediaSlots:
		return *v
	case *StockSlots:
		return *v
	case *SignalementSlots:
		return *v
	case *FinanceSlots:
		return *v
	case *ProjectUpdateSlots:
		return *v
	}
	return s
}

// EncodeSlots serializes slots for storage. Nil slots encode to an empty family.
func EncodeSlots(s Slots) (Family, string, error) {
	if s == nil {
		return FamilyNone, "", nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return FamilyNone, "", fmt.Errorf("failed to encode %s slots: %w", s.Family(), err)
	}
	return s.Family(), string(raw), nil
}

// DecodeSlots is the inverse of EncodeSlots.
func DecodeSlots(f Family, raw string) (Slots, error) {
	if f == FamilyNone || raw == "" {
		return nil, nil
	}
	s, err := newSlots(f)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return nil, fmt.Errorf("failed to decode %s slots: %w", f, err)
	}
	return deref(s), nil
}

// Merge overlays partial onto base. Within one family, fields set in partial
// win and fields it leaves empty keep their base value. A partial of another
// family replaces base entirely. A nil partial leaves base unchanged.
func Merge(base, partial Slots) (Slots, error) {
	if partial == nil {
		return base, nil
	}
	if base == nil || base.Family() != partial.Family() {
		return deref(partial), nil
	}

	var fields map[string]json.RawMessage
	baseRaw, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to encode base slots: %w", err)
	}
	if err := json.Unmarshal(baseRaw, &fields); err != nil {
		return nil, fmt.Errorf("failed to split base slots: %w", err)
	}

	var overlay map[string]json.RawMessage
	partialRaw, err := json.Marshal(partial)
	if err != nil {
		return nil, fmt.Errorf("failed to encode partial slots: %w", err)
	}
	if err := json.Unmarshal(partialRaw, &overlay); err != nil {
		return nil, fmt.Errorf("failed to split partial slots: %w", err)
	}
	for k, v := range overlay {
		fields[k] = v
	}

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged slots: %w", err)
	}
	return DecodeSlots(base.Family(), string(merged))
}
