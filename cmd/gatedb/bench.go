// ABOUTME: Concurrent workload against one counter document
// ABOUTME: Writers increment, readers fetch; prints the final value and gate metrics

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/2389/gatedb/internal/config"
	"github.com/2389/gatedb/internal/gate"
	"github.com/2389/gatedb/internal/records"
	"github.com/2389/gatedb/internal/storage"
)

const benchKind = "bench_counter"

type benchCounter struct {
	ID    string `json:"id"`
	Value int64  `json:"value"`
}

func (benchCounter) ModelKind() string { return benchKind }
func (c benchCounter) ModelID() string { return c.ID }

type benchOptions struct {
	readers int
	writers int
	ops     int
}

func parseBenchArgs(args []string) (benchOptions, error) {
	fs := flag.NewFlagSet("bench", flag.ContinueOnError)
	var opts benchOptions
	fs.IntVar(&opts.readers, "readers", 8, "reader goroutines")
	fs.IntVar(&opts.writers, "writers", 2, "writer goroutines")
	fs.IntVar(&opts.ops, "ops", 100, "operations per goroutine")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.readers < 0 || opts.writers < 0 || opts.ops <= 0 {
		return opts, fmt.Errorf("readers and writers must be >= 0 and ops > 0")
	}
	return opts, nil
}

// increment bumps the counter inside the write transaction so the read and
// the update cannot interleave with another writer.
func increment(ctx context.Context, g *gate.Gate, id string) *gate.Future[int64] {
	return gate.Perform(ctx, g, gate.Write, func(ctx context.Context, tx *storage.Tx) (int64, error) {
		_, err := tx.Exec(ctx, `
			UPDATE records
			SET body = json_set(body, '$.value', json_extract(body, '$.value') + 1),
				version = version + 1
			WHERE kind = ? AND id = ?
		`, benchKind, id)
		if err != nil {
			return 0, fmt.Errorf("incrementing counter: %w", err)
		}

		var value int64
		if err := tx.QueryRow(ctx, `
			SELECT json_extract(body, '$.value') FROM records WHERE kind = ? AND id = ?
		`, benchKind, id).Scan(&value); err != nil {
			return 0, fmt.Errorf("reading counter: %w", err)
		}
		return value, nil
	})
}

func cmdBench(ctx context.Context, cfg *config.Config, logger *slog.Logger, args []string) error {
	opts, err := parseBenchArgs(args)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	g, err := openGate(ctx, cfg, logger, gate.NewMetrics(reg))
	if err != nil {
		return err
	}
	defer func() {
		if err := g.Close(); err != nil {
			logger.Warn("closing store", "error", err)
		}
	}()

	counter := benchCounter{ID: "visits"}
	if _, err := records.AddOrUpdate(ctx, g, counter).Wait(ctx); err != nil {
		return fmt.Errorf("resetting counter: %w", err)
	}

	start := time.Now()
	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < opts.writers; w++ {
		eg.Go(func() error {
			for i := 0; i < opts.ops; i++ {
				if _, err := increment(egCtx, g, counter.ID).Wait(egCtx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	for r := 0; r < opts.readers; r++ {
		eg.Go(func() error {
			var last int64
			for i := 0; i < opts.ops; i++ {
				c, err := records.FetchOne[benchCounter](egCtx, g, counter.ID).Wait(egCtx)
				if err != nil {
					return err
				}
				if c.Value < last {
					return fmt.Errorf("counter went backwards: %d after %d", c.Value, last)
				}
				last = c.Value
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	final, err := records.FetchOne[benchCounter](ctx, g, counter.ID).Wait(ctx)
	if err != nil {
		return err
	}

	want := int64(opts.writers * opts.ops)
	total := (opts.writers + opts.readers) * opts.ops

	fmt.Println()
	color.New(color.FgYellow).Println("Results:")
	fmt.Printf("  operations:  %d in %s (%.0f ops/s)\n", total, elapsed.Round(time.Millisecond), float64(total)/elapsed.Seconds())
	fmt.Printf("  counter:     %d (expected %d)\n", final.Value, want)
	fmt.Println()
	color.New(color.FgYellow).Println("Metrics:")
	if err := printCounters(reg); err != nil {
		return err
	}

	if final.Value != want {
		return fmt.Errorf("lost updates: counter is %d, expected %d", final.Value, want)
	}
	color.Green("✓ No lost updates")
	return nil
}

// printCounters prints every counter sample in reg, one line per label set.
func printCounters(reg *prometheus.Registry) error {
	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gathering metrics: %w", err)
	}

	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("  %s{%s} %.0f", mf.GetName(), strings.Join(labels, ","), m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		fmt.Println(line)
	}
	return nil
}
