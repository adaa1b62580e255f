package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/guilhermegouw/convtrack/internal/clock"
	"github.com/guilhermegouw/convtrack/internal/config"
	"github.com/guilhermegouw/convtrack/internal/engine"
	"github.com/guilhermegouw/convtrack/internal/events"
	"github.com/guilhermegouw/convtrack/internal/pubsub"
	"github.com/guilhermegouw/convtrack/internal/session"
)

// openStore returns the backend named by the configuration.
func openStore(cfg *config.Config, ephemeral bool) (session.Store, error) {
	backend := cfg.Storage.Backend
	if ephemeral {
		backend = config.BackendMemory
	}

	switch backend {
	case config.BackendSQLite:
		store, err := session.OpenSQLiteStore(cfg.StoragePath(), cfg.Storage.MaxPageCount)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendFile:
		return session.NewFileStore(cfg.StoragePath(), cfg.Storage.MaxBytes), nil
	case config.BackendMemory:
		return session.NewMemoryStore(cfg.Storage.MaxBytes), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

// withEngine opens the store, loads it, and runs fn against a ready
// engine. The engine is always closed; a failing close is reported even
// when fn succeeds.
func (a *app) withEngine(ctx context.Context, stderr io.Writer, fn func(*engine.Engine) error) (err error) {
	store, err := openStore(a.cfg, a.ephemeral)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	clk := clock.New()
	broker := pubsub.NewBroker("conversation", pubsub.WithClock[events.ConversationEvent](clk.Now))
	defer broker.Shutdown()

	svc := session.NewService(store,
		session.WithClock(clk),
		session.WithBroker(broker),
		session.WithRetain(a.cfg.Storage.RetainSessions),
		session.WithDebounce(a.cfg.Storage.Debounce.Std()),
	)
	report, err := svc.Load(ctx)
	if err != nil {
		_ = store.Close() //nolint:errcheck // already failing
		return err
	}
	reportLoad(stderr, report)

	eng := engine.New(svc, a.cfg.EngineConfig(), engine.WithClock(clk), engine.WithBroker(broker))
	defer func() {
		if closeErr := eng.Close(context.WithoutCancel(ctx)); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("closing store: %w", closeErr))
		}
	}()

	return fn(eng)
}

func reportLoad(w io.Writer, r session.DecodeReport) {
	if w == nil {
		w = os.Stderr
	}
	if r.Corrupted {
		fmt.Fprintln(w, "Warning: stored sessions were unreadable; starting with an empty history")
	}
	if r.Migrated {
		fmt.Fprintf(w, "Note: upgraded stored sessions from version %q to %q\n", r.FromVersion, session.CurrentVersion)
	}
	if len(r.Reset) > 0 {
		fmt.Fprintf(w, "Warning: %d damaged session(s) were reset: %v\n", len(r.Reset), r.Reset)
	}
	if r.DroppedCurrent {
		fmt.Fprintln(w, "Warning: the current session reference was invalid and has been cleared")
	}
}
