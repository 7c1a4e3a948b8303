// Command actioncore runs a small end-to-end demonstration of the engine:
// it loads configuration, opens a data source, registers a few actions, and
// executes a multi-step transaction with a deliberate failure to show the
// compensating rollback.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/pagecraft-io/actioncore/pkg/action"
	"github.com/pagecraft-io/actioncore/pkg/config"
	"github.com/pagecraft-io/actioncore/pkg/datasource"
	"github.com/pagecraft-io/actioncore/pkg/dispatch"
	"github.com/pagecraft-io/actioncore/pkg/expr"
	"github.com/pagecraft-io/actioncore/pkg/runner"
	"github.com/pagecraft-io/actioncore/pkg/telemetry"
	"github.com/pagecraft-io/actioncore/pkg/txn"
)

func main() {
	if err := run(); err != nil {
		slog.Error("actioncore demo failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	tel, err := telemetry.New(ctx, &telemetry.Config{
		ServiceName:  "actioncore-demo",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TelemetryEnabled,
		Insecure:     true,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer tel.Shutdown(ctx)

	ds, err := datasource.Open(ctx, cfg.DataSourceDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open data source %q: %w", cfg.DataSourceDriver, err)
	}

	eval, err := expr.NewEvaluator()
	if err != nil {
		return fmt.Errorf("init evaluator: %w", err)
	}

	registry := action.NewRegistry()
	r := runner.NewRunner(registry, eval, runner.NewHTTPCaller().WithTimeout(cfg.APITimeout))
	d := dispatch.NewDispatcher(registry, eval, r)

	defs := []*action.Def{
		{Name: "greet", Type: runner.TypeScript, Execute: `"hello, " + data.who`},
		{Name: "create-order", OnClick: func(ctx context.Context, params map[string]any) (any, error) {
			return ds.Create(ctx, "orders", map[string]any{"status": "new"})
		}},
	}
	metas := []*action.Registration{
		{Locations: []string{"toolbar"}, Shortcut: "ctrl+g"},
		nil,
	}
	if err := registry.RegisterMany(defs, metas); err != nil {
		return fmt.Errorf("register actions: %w", err)
	}

	// Shortcut dispatch.
	if res, ok := d.HandleShortcut(ctx, "ctrl+g", map[string]any{"who": "world"}); ok {
		logger.Info("shortcut result", "success", res.Success, "data", res.Data)
	}

	// A transaction whose second step fails, forcing rollback of the first.
	m := txn.NewManager(ds, txn.Options{
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
		Telemetry:  tel,
	})
	unsubscribe := m.OnProgress(func(p txn.Progress) {
		logger.Info("progress", "completed", p.Completed, "total", p.Total)
	})
	defer unsubscribe()

	result := m.ExecuteTransaction(ctx, txn.Descriptor{
		Name: "demo-order-flow",
		Actions: []*action.Def{
			{Name: "create-order"},
			{Name: "charge-card"},
		},
	}, func(ctx context.Context, tx *txn.Tx, act *action.Def) (action.Result, error) {
		switch act.Name {
		case "create-order":
			rec, err := ds.Create(ctx, "orders", map[string]any{"status": "new"})
			if err != nil {
				return action.Fail(err), nil
			}
			tx.RecordOperation(txn.OperationRecord{
				Type:     datasource.OpCreate,
				Resource: "orders",
				Result:   rec,
			})
			return action.OK(rec), nil
		default:
			return action.Failf("card declined"), nil
		}
	})

	logger.Info("transaction finished",
		"id", result.TransactionID,
		"success", result.Success,
		"rolledBack", result.RolledBack,
		"error", result.Error)

	found, err := ds.Find(ctx, "orders", nil)
	if err != nil {
		return err
	}
	logger.Info("orders after rollback", "count", len(found.Data))
	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
