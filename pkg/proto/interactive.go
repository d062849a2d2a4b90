package proto

import (
	"errors"
	"fmt"
)

// InteractiveKind selects the menu widget.
type InteractiveKind string

const (
	KindButtons InteractiveKind = "buttons"
	KindList    InteractiveKind = "list"
)

// Platform limits shared by every channel that renders menus.
const (
	MaxButtons       = 3
	MaxListRows      = 10
	MaxButtonTitle   = 20
	MaxRowTitle      = 24
	MaxRowDesc       = 72
	MaxSectionTitle  = 24
	MaxListButtonLen = 20
)

// Button is a quick-reply button.
type Button struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Row is one selectable entry of a list section.
type Row struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Section groups list rows under a title.
type Section struct {
	Title string `json:"title,omitempty"`
	Rows  []Row  `json:"rows"`
}

// Interactive is a menu descriptor: either up to three buttons or a
// sectioned list opened by ButtonLabel.
type Interactive struct {
	Kind        InteractiveKind `json:"type"`
	Header      string          `json:"header,omitempty"`
	Body        string          `json:"body"`
	Footer      string          `json:"footer,omitempty"`
	ButtonLabel string          `json:"buttonLabel,omitempty"`
	Buttons     []Button        `json:"buttons,omitempty"`
	Sections    []Section       `json:"sections,omitempty"`
}

// NewButtons builds a buttons menu.
func NewButtons(body string, buttons ...Button) *Interactive {
	return &Interactive{Kind: KindButtons, Body: body, Buttons: buttons}
}

// NewList builds a list menu.
func NewList(body, buttonLabel string, sections ...Section) *Interactive {
	return &Interactive{Kind: KindList, Body: body, ButtonLabel: buttonLabel, Sections: sections}
}

// Options returns every selectable option in display order.
func (m *Interactive) Options() []Row {
	if m == nil {
		return nil
	}
	var out []Row
	for _, b := range m.Buttons {
		out = append(out, Row{ID: b.ID, Title: b.Title})
	}
	for _, s := range m.Sections {
		out = append(out, s.Rows...)
	}
	return out
}

// RowCount returns the number of list rows across sections.
func (m *Interactive) RowCount() int {
	n := 0
	for _, s := range m.Sections {
		n += len(s.Rows)
	}
	return n
}

// Validate enforces the structural limits before a menu is rendered.
func (m *Interactive) Validate() error {
	if m.Body == "" {
		return errors.New("interactive body is required")
	}
	seen := map[string]bool{}
	check := func(id string) error {
		if id == "" {
			return errors.New("option id is required")
		}
		if seen[id] {
			return fmt.Errorf("duplicate option id %q", id)
		}
		seen[id] = true
		return nil
	}

	switch m.Kind {
	case KindButtons:
		if len(m.Buttons) == 0 || len(m.Buttons) > MaxButtons {
			return fmt.Errorf("buttons menu needs 1-%d buttons (got %d)", MaxButtons, len(m.Buttons))
		}
		for _, b := range m.Buttons {
			if err := check(b.ID); err != nil {
				return err
			}
		}
	case KindList:
		rows := m.RowCount()
		if rows == 0 || rows > MaxListRows {
			return fmt.Errorf("list menu needs 1-%d rows (got %d)", MaxListRows, rows)
		}
		if m.ButtonLabel == "" {
			return errors.New("list menu needs a button label")
		}
		for _, s := range m.Sections {
			for _, r := range s.Rows {
				if err := check(r.ID); err != nil {
					return err
				}
			}
		}
	default:
		return fmt.Errorf("unknown interactive kind %q", m.Kind)
	}
	return nil
}
