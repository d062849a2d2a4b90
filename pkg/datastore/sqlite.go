package datastore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"

	"sgi/pkg/logx"
	"sgi/pkg/utils"
)

// registerFoldErr is set at init: SQL functions only reach connections
// opened after registration, so it must happen before persistence.Open.
var registerFoldErr error

func init() { //nolint:gochecknoinits // driver function registration
	registerFoldErr = sqlite.RegisterDeterministicScalarFunction("sgi_fold", 1,
		func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case nil:
				return nil, nil
			case string:
				return utils.Fold(v), nil
			case []byte:
				return utils.Fold(string(v)), nil
			default:
				return utils.Fold(fmt.Sprint(v)), nil
			}
		})
}

// SQL stores records as JSON documents in the records table and filters with
// json_extract. LIKE filters use an accent-folding SQL function.
type SQL struct {
	db     *sql.DB
	logger *logx.Logger
	now    func() time.Time
}

// NewSQL wraps a database opened by persistence.Open.
func NewSQL(db *sql.DB) (*SQL, error) {
	if registerFoldErr != nil {
		return nil, fmt.Errorf("failed to register fold function: %w", registerFoldErr)
	}
	return &SQL{db: db, logger: logx.NewLogger("datastore"), now: time.Now}, nil
}

func jsonPath(field string) string {
	return "json_extract(body, '$." + field + "')"
}

func bindValue(v any) any {
	if f, ok := v.(float64); ok {
		return f
	}
	switch x := v.(type) {
	case int, int64, float32, json.Number:
		f, _ := toFloat(x)
		return f
	case bool:
		if x {
			return 1
		}
		return 0
	case nil:
		return nil
	default:
		return fmt.Sprint(x)
	}
}

func whereClause(q Query) (string, []any) {
	clauses := []string{"collection = ?"}
	args := []any{q.Collection}
	for _, f := range q.Filters {
		col := jsonPath(f.Field)
		switch f.Op {
		case OpEq:
			clauses = append(clauses, col+" = ?")
		case OpNe:
			clauses = append(clauses, "("+col+" IS NULL OR "+col+" != ?)")
		case OpGt:
			clauses = append(clauses, col+" > ?")
		case OpGte:
			clauses = append(clauses, col+" >= ?")
		case OpLt:
			clauses = append(clauses, col+" < ?")
		case OpLte:
			clauses = append(clauses, col+" <= ?")
		case OpLike:
			clauses = append(clauses, "instr(sgi_fold("+col+"), ?) > 0")
			args = append(args, utils.Fold(fmt.Sprint(f.Value)))
			continue
		}
		args = append(args, bindValue(f.Value))
	}
	return strings.Join(clauses, " AND "), args
}

func (s *SQL) Find(ctx context.Context, q Query) ([]Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	where, args := whereClause(q)
	stmt := "SELECT body FROM records WHERE " + where
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		stmt += " ORDER BY " + jsonPath(q.OrderBy) + " " + dir + ", rowid ASC"
	} else {
		stmt += " ORDER BY rowid ASC"
	}
	if q.Limit > 0 || q.Offset > 0 {
		limit := q.Limit
		if limit == 0 {
			limit = -1
		}
		stmt += " LIMIT ? OFFSET ?"
		args = append(args, limit, q.Offset)
	}

	logx.Debug(ctx, "datastore", "find %s: %s", q.Collection, where)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer func() { _ = rows.Close() }()

	out := []Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s record: %w", q.Collection, err)
		}
		var r Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("corrupt %s record: %w", q.Collection, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows error: %w", q.Collection, err)
	}
	return out, nil
}

func (s *SQL) Count(ctx context.Context, q Query) (int, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	where, args := whereClause(q)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records WHERE "+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q.Collection, err)
	}
	return n, nil
}

func (s *SQL) Get(ctx context.Context, collection, id string) (Record, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", collection, id, err)
	}
	var r Record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, fmt.Errorf("corrupt %s/%s: %w", collection, id, err)
	}
	return r, nil
}

func (s *SQL) Insert(ctx context.Context, collection string, rec Record) (string, error) {
	if err := validField(collection); err != nil {
		return "", err
	}
	norm, err := normalize(rec)
	if err != nil {
		return "", err
	}
	id := norm.ID()
	if id == "" {
		id = uuid.NewString()
		norm["id"] = id
	}
	now := s.now().UTC().Format(time.RFC3339)
	if _, ok := norm["created_at"]; !ok {
		norm["created_at"] = now
	}
	body, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s record: %w", collection, err)
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, body, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		collection, id, string(body), now, now); err != nil {
		return "", fmt.Errorf("failed to insert %s/%s: %w", collection, id, err)
	}
	s.logger.Info("created %s/%s", collection, id)
	return id, nil
}

func (s *SQL) Update(ctx context.Context, collection, id string, fields Record) error {
	norm, err := normalize(fields)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var body string
	err = tx.QueryRowContext(ctx,
		`SELECT body FROM records WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s/%s: %w", collection, id, err)
	}

	var r Record
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return fmt.Errorf("corrupt %s/%s: %w", collection, id, err)
	}
	for k, v := range norm {
		if k == "id" {
			continue
		}
		r[k] = v
	}
	now := s.now().UTC().Format(time.RFC3339)
	r["updated_at"] = now

	updated, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE records SET body = ?, updated_at = ? WHERE collection = ? AND id = ?`,
		string(updated), now, collection, id); err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s/%s: %w", collection, id, err)
	}
	s.logger.Info("updated %s/%s (%d fields)", collection, id, len(norm))
	return nil
}
