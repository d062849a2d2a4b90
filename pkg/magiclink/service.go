package magiclink

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"sgi/pkg/logx"
	"sgi/pkg/metrics"
	"sgi/pkg/persistence"
	"sgi/pkg/proto"
)

// DefaultTTL is the validity horizon of a minted link.
const DefaultTTL = 7 * 24 * time.Hour

// ErrInvalidRequest is returned by Mint for an unknown resource type or a
// detail type without resource id.
var ErrInvalidRequest = errors.New("invalid magic link request")

// Reason tells why a token failed validation.
type Reason string

// Validation failure reasons, checked in this order.
const (
	ReasonMalformed Reason = "malformed"
	ReasonExpired   Reason = "expired"
	ReasonUnknown   Reason = "unknown"
)

// Message is the human-readable text shown for a reason.
func (r Reason) Message() string {
	switch r {
	case ReasonMalformed:
		return "Lien invalide ou altéré."
	case ReasonExpired:
		return "Ce lien a expiré. Demandez-en un nouveau dans la conversation."
	case ReasonUnknown:
		return "Ce lien n'est pas reconnu."
	default:
		return ""
	}
}

// Metadata travels with the link: which tool produced it and an optional
// data snapshot so the view renders even if the data later changes.
type Metadata struct {
	Tool     string            `json:"tool,omitempty"`
	Snapshot json.RawMessage   `json:"snapshot,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Request is what a link binds.
type Request struct {
	ResourceType string
	ResourceID   string
	Filters      map[string]string
	Metadata     *Metadata
}

// Validation is the result of Validate. Resource fields are only set when
// Valid is true.
type Validation struct {
	Valid        bool              `json:"isValid"`
	Reason       Reason            `json:"reason,omitempty"`
	Error        string            `json:"error,omitempty"`
	Token        string            `json:"-"`
	ResourceType string            `json:"resourceType,omitempty"`
	ResourceID   string            `json:"resourceId,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
	Metadata     *Metadata         `json:"metadata,omitempty"`
	ExpiresAt    time.Time         `json:"expiresAt,omitzero"`
}

// Store is the server-side record keeper. *persistence.Store implements it.
type Store interface {
	InsertLink(ctx context.Context, rec *persistence.LinkRecord) error
	GetLink(ctx context.Context, id string) (*persistence.LinkRecord, error)
	PurgeExpiredLinks(ctx context.Context, now time.Time) (int64, error)
}

// Config configures a Service.
type Config struct {
	Secret        string
	TTL           time.Duration
	PublicBaseURL string
	Now           func() time.Time
}

// Service mints and validates links.
type Service struct {
	sealer   *sealer
	store    Store
	recorder metrics.Recorder
	ttl      time.Duration
	baseURL  string
	now      func() time.Time
	logger   *logx.Logger
}

// NewService derives the sealing key from cfg.Secret.
func NewService(cfg Config, store Store, recorder metrics.Recorder) (*Service, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("magic link secret is empty")
	}
	if store == nil {
		return nil, fmt.Errorf("magic link store is nil")
	}
	s, err := newSealer(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Service{
		sealer:   s,
		store:    store,
		recorder: recorder,
		ttl:      cfg.TTL,
		baseURL:  strings.TrimRight(cfg.PublicBaseURL, "/"),
		now:      cfg.Now,
		logger:   logx.NewLogger("magiclink"),
	}, nil
}

// RequestFromLink converts a tool's link request, encoding the snapshot.
func RequestFromLink(lr *proto.LinkRequest) (Request, error) {
	req := Request{ResourceType: lr.ResourceType, ResourceID: lr.ResourceID, Filters: lr.Filters}
	if lr.Tool == "" && lr.Snapshot == nil {
		return req, nil
	}
	md := &Metadata{Tool: lr.Tool}
	if lr.Snapshot != nil {
		raw, err := json.Marshal(lr.Snapshot)
		if err != nil {
			return Request{}, fmt.Errorf("failed to encode snapshot: %w", err)
		}
		md.Snapshot = raw
	}
	req.Metadata = md
	return req, nil
}

// Mint seals req into a token and records it.
func (s *Service) Mint(ctx context.Context, req Request) (string, error) {
	token, err := s.mint(ctx, req)
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.recorder.IncMagicLink("minted", result)
	return token, err
}

func (s *Service) mint(ctx context.Context, req Request) (string, error) {
	if !slices.Contains(proto.ResourceTypes(), req.ResourceType) {
		return "", fmt.Errorf("%w: unknown resource type %q", ErrInvalidRequest, req.ResourceType)
	}
	if proto.IsDetailResource(req.ResourceType) && req.ResourceID == "" {
		return "", fmt.Errorf("%w: %s needs a resource id", ErrInvalidRequest, req.ResourceType)
	}
	if req.Metadata != nil && len(req.Metadata.Snapshot) > 0 && !json.Valid(req.Metadata.Snapshot) {
		return "", fmt.Errorf("%w: snapshot is not valid JSON", ErrInvalidRequest)
	}

	now := s.now()
	expires := now.Add(s.ttl)
	c := &claims{
		LinkID:       uuid.NewString(),
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Filters:      req.Filters,
		Metadata:     sealMetadata(req.Metadata),
		ExpiresAt:    expires.UnixMilli(),
	}
	token, err := s.sealer.seal(c)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal link payload: %w", err)
	}
	rec := &persistence.LinkRecord{
		ID:           c.LinkID,
		Digest:       digest(token),
		ResourceType: c.ResourceType,
		ResourceID:   c.ResourceID,
		PayloadJSON:  string(payload),
		CreatedAt:    now,
		ExpiresAt:    expires,
	}
	if err := s.store.InsertLink(ctx, rec); err != nil {
		return "", err
	}
	s.logger.Debug("minted link %s for %s/%s", c.LinkID, c.ResourceType, c.ResourceID)
	return token, nil
}

// Validate checks a token: malformed, then expired, then unknown to the
// store. It has no side effect beyond metrics.
func (s *Service) Validate(ctx context.Context, token string) Validation {
	v := s.validate(ctx, token)
	result := "ok"
	if !v.Valid {
		result = string(v.Reason)
	}
	s.recorder.IncMagicLink("validated", result)
	return v
}

func (s *Service) validate(ctx context.Context, token string) Validation {
	token = strings.TrimSpace(token)
	c, err := s.sealer.open(token)
	if err != nil {
		return invalid(ReasonMalformed)
	}
	expires := time.UnixMilli(c.ExpiresAt)
	if !s.now().Before(expires) {
		return invalid(ReasonExpired)
	}
	rec, err := s.store.GetLink(ctx, c.LinkID)
	if err != nil {
		if !errors.Is(err, persistence.ErrLinkNotFound) {
			s.logger.Error("link lookup %s failed: %v", c.LinkID, err)
		}
		return invalid(ReasonUnknown)
	}
	if subtle.ConstantTimeCompare([]byte(rec.Digest), []byte(digest(token))) != 1 {
		return invalid(ReasonUnknown)
	}
	return Validation{
		Valid:        true,
		Token:        token,
		ResourceType: c.ResourceType,
		ResourceID:   c.ResourceID,
		Filters:      c.Filters,
		Metadata:     c.Metadata.metadata(),
		ExpiresAt:    expires,
	}
}

func invalid(r Reason) Validation {
	return Validation{Reason: r, Error: r.Message()}
}

// URL is the public redemption address of token.
func (s *Service) URL(token string) string {
	return s.baseURL + "/l/" + token
}

// Purge removes expired records.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	return s.store.PurgeExpiredLinks(ctx, s.now())
}
