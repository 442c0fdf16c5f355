// ABOUTME: Untyped document access for callers that only know the kind at runtime
// ABOUTME: Bodies stay raw JSON; metadata columns are returned alongside

package records

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/gatedb/internal/gate"
	"github.com/2389/gatedb/internal/storage"
)

// Document is a stored record with its body left as raw JSON.
type Document struct {
	Kind      string          `json:"kind"`
	ID        string          `json:"id"`
	Body      json.RawMessage `json:"body"`
	Version   int             `json:"version"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// Put stores body under (kind, id), replacing any existing body, and
// resolves to the stored document.
func Put(ctx context.Context, g *gate.Gate, kind, id string, body json.RawMessage) *gate.Future[Document] {
	return gate.Perform(ctx, g, gate.Write, func(ctx context.Context, tx *storage.Tx) (Document, error) {
		if kind == "" || id == "" {
			return Document{}, fmt.Errorf("%w: kind and id are required", ErrInvalidModel)
		}
		if !json.Valid(body) {
			return Document{}, fmt.Errorf("%w: body for %s %s is not valid JSON", ErrInvalidModel, kind, id)
		}

		ts := now()
		_, err := tx.Exec(ctx, `
			INSERT INTO records (kind, id, body, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (kind, id) DO UPDATE SET
				body = excluded.body,
				updated_at = excluded.updated_at,
				version = records.version + 1
		`, kind, id, string(body), ts, ts)
		if err != nil {
			return Document{}, fmt.Errorf("upserting record: %w", err)
		}
		return getDocument(ctx, tx, kind, id)
	})
}

// Get reads the document stored under (kind, id).
// Fails with ErrNotFound if it does not exist.
func Get(ctx context.Context, g *gate.Gate, kind, id string) *gate.Future[Document] {
	return gate.Perform(ctx, g, gate.Read, func(ctx context.Context, tx *storage.Tx) (Document, error) {
		return getDocument(ctx, tx, kind, id)
	})
}

// Remove deletes the document stored under (kind, id) and reports whether
// it existed.
func Remove(ctx context.Context, g *gate.Gate, kind, id string) *gate.Future[bool] {
	return gate.Perform(ctx, g, gate.Write, func(ctx context.Context, tx *storage.Tx) (bool, error) {
		result, err := tx.Exec(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, kind, id)
		if err != nil {
			return false, fmt.Errorf("deleting record: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("getting rows affected: %w", err)
		}
		return n > 0, nil
	})
}

func getDocument(ctx context.Context, tx *storage.Tx, kind, id string) (Document, error) {
	doc := Document{Kind: kind, ID: id}
	var body string

	err := tx.QueryRow(ctx, `
		SELECT body, version, created_at, updated_at
		FROM records
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&body, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("querying record: %w", err)
	}

	doc.Body = json.RawMessage(body)
	return doc, nil
}
