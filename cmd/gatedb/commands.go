// ABOUTME: Document commands: put, get, count, delete and destroy
// ABOUTME: Each opens the store, runs one gated operation and closes it again

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/gatedb/internal/config"
	"github.com/2389/gatedb/internal/gate"
	"github.com/2389/gatedb/internal/records"
	"github.com/2389/gatedb/internal/storage"
)

// withGate opens the store, runs fn and closes the store again.
func withGate(ctx context.Context, cfg *config.Config, logger *slog.Logger, fn func(*gate.Gate) error) error {
	g, err := openGate(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()
	return fn(g)
}

func cmdPut(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	var kind, id, body string
	switch len(args) {
	case 2:
		kind, id, body = args[0], uuid.New().String(), args[1]
	case 3:
		kind, id, body = args[0], args[1], args[2]
	default:
		return fmt.Errorf("usage: put <kind> [id] <json>")
	}

	return withGate(ctx, cfg, logger, func(g *gate.Gate) error {
		doc, err := records.Put(ctx, g, kind, id, json.RawMessage(body)).Wait(ctx)
		if err != nil {
			return err
		}
		color.Green("✓ Stored %s %s (version %d)", doc.Kind, doc.ID, doc.Version)
		return nil
	})
}

func cmdGet(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: get <kind> <id>")
	}

	return withGate(ctx, cfg, logger, func(g *gate.Gate) error {
		doc, err := records.Get(ctx, g, args[0], args[1]).Wait(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	})
}

func cmdCount(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: count <kind>")
	}

	return withGate(ctx, cfg, logger, func(g *gate.Gate) error {
		n, err := records.CountKind(ctx, g, args[0]).Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Println(n)
		return nil
	})
}

func cmdDelete(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: delete <kind> <id>")
	}

	return withGate(ctx, cfg, logger, func(g *gate.Gate) error {
		existed, err := records.Remove(ctx, g, args[0], args[1]).Wait(ctx)
		if err != nil {
			return err
		}
		if !existed {
			return fmt.Errorf("%w: %s %s", records.ErrNotFound, args[0], args[1])
		}
		color.Green("✓ Deleted %s %s", args[0], args[1])
		return nil
	})
}

func cmdDestroy(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	g, err := openGate(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}

	path := g.Path()
	var existing []string
	for _, p := range storage.ArtifactPaths(path) {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}

	g.Destroy()

	if path == "" {
		color.Yellow("In-memory store %s discarded", cfg.Database.Name)
		return nil
	}
	for _, p := range existing {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("destroying store %s: %s still exists", cfg.Database.Name, p)
		}
		fmt.Printf("  removed %s\n", p)
	}
	color.Green("✓ Destroyed store %s", cfg.Database.Name)
	return nil
}
