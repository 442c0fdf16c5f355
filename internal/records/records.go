// ABOUTME: CRUD operations for JSON documents, each run as one gated unit of work
// ABOUTME: Writes: Add, AddOrUpdate, Delete. Reads: FetchOne, Fetch, Count

package records

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/gatedb/internal/gate"
	"github.com/2389/gatedb/internal/storage"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned by Add when a record with the same kind and id exists
var ErrDuplicate = errors.New("record already exists")

// ErrInvalidModel is returned when a model has an empty kind or id
var ErrInvalidModel = errors.New("invalid model")

// Fetch limits
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Model is a value that can be stored as a record. ModelKind must not depend
// on the receiver's contents: it is also called on the zero value to find
// which records to read.
type Model interface {
	ModelKind() string
	ModelID() string
}

// Filter narrows Fetch and Count. Where matches top-level or dotted JSON
// fields by equality.
type Filter struct {
	Where map[string]any
	Limit int
}

//go:embed migrations/*.sql
var migrationFS embed.FS

var loadSchema = sync.OnceValues(func() (*storage.Schema, error) {
	return storage.LoadSchema("records", migrationFS, "migrations")
})

// Schema returns the schema that creates the records table.
func Schema() (*storage.Schema, error) {
	return loadSchema()
}

func kindOf[M Model]() string {
	var zero M
	return zero.ModelKind()
}

func validate(m Model) error {
	if m.ModelKind() == "" {
		return fmt.Errorf("%w: empty kind", ErrInvalidModel)
	}
	if m.ModelID() == "" {
		return fmt.Errorf("%w: empty id for kind %s", ErrInvalidModel, m.ModelKind())
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// Add inserts models in one write. If any of them already exists nothing is
// inserted and the future fails with ErrDuplicate.
func Add[M Model](ctx context.Context, g *gate.Gate, models ...M) *gate.Future[[]M] {
	return gate.Perform(ctx, g, gate.Write, func(ctx context.Context, tx *storage.Tx) ([]M, error) {
		query := `
			INSERT INTO records (kind, id, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`
		ts := now()
		for _, m := range models {
			if err := validate(m); err != nil {
				return nil, err
			}
			body, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("encoding %s %s: %w", m.ModelKind(), m.ModelID(), err)
			}
			if _, err := tx.Exec(ctx, query, m.ModelKind(), m.ModelID(), string(body), ts, ts); err != nil {
				if isConstraintViolation(err) {
					return nil, fmt.Errorf("%w: %s %s", ErrDuplicate, m.ModelKind(), m.ModelID())
				}
				return nil, fmt.Errorf("inserting record: %w", err)
			}
		}
		return models, nil
	})
}

// AddOrUpdate inserts models or replaces the stored body of existing ones.
func AddOrUpdate[M Model](ctx context.Context, g *gate.Gate, models ...M) *gate.Future[[]M] {
	return gate.Perform(ctx, g, gate.Write, func(ctx context.Context, tx *storage.Tx) ([]M, error) {
		query := `
			INSERT INTO records (kind, id, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (kind, id) DO UPDATE SET
				body = excluded.body,
				updated_at = excluded.updated_at,
				version = records.version + 1
		`
		ts := now()
		for _, m := range models {
			if err := validate(m); err != nil {
				return nil, err
			}
			body, err := json.Marshal(m)
			if err != nil {
				return nil, fmt.Errorf("encoding %s %s: %w", m.ModelKind(), m.ModelID(), err)
			}
			if _, err := tx.Exec(ctx, query, m.ModelKind(), m.ModelID(), string(body), ts, ts); err != nil {
				return nil, fmt.Errorf("upserting record: %w", err)
			}
		}
		return models, nil
	})
}

// Delete removes the records of M's kind with the given ids and resolves to
// the number removed. Missing ids are not an error.
func Delete[M Model](ctx context.Context, g *gate.Gate, ids ...string) *gate.Future[int64] {
	kind := kindOf[M]()
	return gate.Perform(ctx, g, gate.Write, func(ctx context.Context, tx *storage.Tx) (int64, error) {
		var removed int64
		for _, id := range ids {
			result, err := tx.Exec(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id)
			if err != nil {
				return 0, fmt.Errorf("deleting record: %w", err)
			}
			n, err := result.RowsAffected()
			if err != nil {
				return 0, fmt.Errorf("getting rows affected: %w", err)
			}
			removed += n
		}
		return removed, nil
	})
}

// FetchOne reads a single record of M's kind.
// Fails with ErrNotFound if it does not exist.
func FetchOne[M Model](ctx context.Context, g *gate.Gate, id string) *gate.Future[M] {
	kind := kindOf[M]()
	return gate.Perform(ctx, g, gate.Read, func(ctx context.Context, tx *storage.Tx) (M, error) {
		var m M
		var body string

		err := tx.QueryRow(ctx, `SELECT body FROM records WHERE kind = ? AND id = ?`, kind, id).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return m, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
		}
		if err != nil {
			return m, fmt.Errorf("querying record: %w", err)
		}

		if err := json.Unmarshal([]byte(body), &m); err != nil {
			return m, fmt.Errorf("decoding %s %s: %w", kind, id, err)
		}
		return m, nil
	})
}

// Fetch reads records of M's kind matching filter, oldest first.
// A limit of 0 or less means DefaultLimit; limits above MaxLimit are capped.
func Fetch[M Model](ctx context.Context, g *gate.Gate, filter Filter) *gate.Future[[]M] {
	kind := kindOf[M]()
	return gate.Perform(ctx, g, gate.Read, func(ctx context.Context, tx *storage.Tx) ([]M, error) {
		where, args := buildWhere(kind, filter)
		query := `SELECT id, body FROM records WHERE ` + where + ` ORDER BY created_at, id LIMIT ?`
		args = append(args, clampLimit(filter.Limit))

		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying records: %w", err)
		}
		defer rows.Close()

		var models []M
		for rows.Next() {
			var id, body string
			if err := rows.Scan(&id, &body); err != nil {
				return nil, fmt.Errorf("scanning record row: %w", err)
			}

			var m M
			if err := json.Unmarshal([]byte(body), &m); err != nil {
				return nil, fmt.Errorf("decoding %s %s: %w", kind, id, err)
			}
			models = append(models, m)
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating record rows: %w", err)
		}
		return models, nil
	})
}

// Count returns how many records of M's kind match filter. Limit is ignored.
func Count[M Model](ctx context.Context, g *gate.Gate, filter Filter) *gate.Future[int] {
	kind := kindOf[M]()
	return gate.Perform(ctx, g, gate.Read, func(ctx context.Context, tx *storage.Tx) (int, error) {
		where, args := buildWhere(kind, filter)

		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE `+where, args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("counting records: %w", err)
		}
		return n, nil
	})
}

// CountKind counts records of an arbitrary kind; used where no Go type is at hand.
func CountKind(ctx context.Context, g *gate.Gate, kind string) *gate.Future[int] {
	return gate.Perform(ctx, g, gate.Read, func(ctx context.Context, tx *storage.Tx) (int, error) {
		var n int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM records WHERE kind = ?`, kind).Scan(&n); err != nil {
			return 0, fmt.Errorf("counting records: %w", err)
		}
		return n, nil
	})
}

// buildWhere renders the kind condition plus one json_extract equality per
// filter field. Field paths are bound as parameters, never spliced in.
func buildWhere(kind string, filter Filter) (string, []any) {
	conds := []string{"kind = ?"}
	args := []any{kind}

	fields := make([]string, 0, len(filter.Where))
	for field := range filter.Where {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		conds = append(conds, "json_extract(body, ?) = ?")
		args = append(args, "$."+field, sqlValue(filter.Where[field]))
	}
	return strings.Join(conds, " AND "), args
}

// sqlValue maps Go values onto what json_extract returns for them.
func sqlValue(v any) any {
	switch val := v.(type) {
	case bool:
		if val {
			return 1
		}
		return 0
	default:
		return v
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation.
// The (kind, id) primary key reports as UNIQUE too. NOT NULL, CHECK and
// FOREIGN KEY failures do not match.
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
