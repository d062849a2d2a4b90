// Package datastore is the record-oriented contract the engine uses to read
// and write operational data (projects, incidents, signalements, stock,
// media), with an in-memory and a SQLite implementation.
package datastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Collections used by the engine.
const (
	Projects     = "projects"
	Incidents    = "incidents"
	Signalements = "signalements"
	Stock        = "stock"
	Media        = "media"
)

// ErrNotFound is returned by Get and Update for unknown ids.
var ErrNotFound = errors.New("record not found")

// Record is one document. "id" is reserved for the record identifier.
type Record map[string]any

// ID returns the record id.
func (r Record) ID() string {
	return r.String("id")
}

// String returns a field rendered as a string, "" when absent.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

// Number returns a numeric field, 0 when absent or not numeric.
func (r Record) Number(field string) float64 {
	f, _ := toFloat(r[field])
	return f
}

// Op is a filter comparison.
type Op string

const (
	OpEq   Op = "eq"
	OpNe   Op = "neq"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpLike Op = "like" // case- and accent-insensitive substring
)

// Filter restricts a query on one field.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Eq is shorthand for an equality filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Query selects records of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Desc       bool
	Limit      int
	Offset     int
}

// Store is the data-store contract.
type Store interface {
	Find(ctx context.Context, q Query) ([]Record, error)
	Count(ctx context.Context, q Query) (int, error)
	Get(ctx context.Context, collection, id string) (Record, error)
	Insert(ctx context.Context, collection string, rec Record) (string, error)
	Update(ctx context.Context, collection, id string, fields Record) error
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func validField(name string) error {
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("invalid field name %q", name)
	}
	return nil
}

// Validate checks names and operators before a query touches storage.
func (q *Query) Validate() error {
	if err := validField(q.Collection); err != nil {
		return fmt.Errorf("collection: %w", err)
	}
	if q.OrderBy != "" {
		if err := validField(q.OrderBy); err != nil {
			return fmt.Errorf("order_by: %w", err)
		}
	}
	if q.Limit < 0 || q.Offset < 0 {
		return errors.New("limit and offset must not be negative")
	}
	for _, f := range q.Filters {
		if err := validField(f.Field); err != nil {
			return err
		}
		switch f.Op {
		case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpLike:
		default:
			return fmt.Errorf("unknown filter operator %q", f.Op)
		}
	}
	return nil
}

// normalize round-trips a record through JSON so both implementations see
// the same value types (float64 numbers, map[string]any objects).
func normalize(rec Record) (Record, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("record is not JSON-serializable: %w", err)
	}
	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize record: %w", err)
	}
	if out == nil {
		out = Record{}
	}
	return out, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}
