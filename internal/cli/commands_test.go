package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/paceline-project/paceline/internal/anchor"
	"github.com/paceline-project/paceline/internal/config"
	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/relay"
)

func newTestCLI(t *testing.T) (*CLI, *config.Config) {
	t.Helper()

	cfg, err := config.Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	bus := events.NewEventBus()
	t.Cleanup(bus.Stop)

	engine := anchor.NewEngine("autumn-7431", bus)
	client := relay.NewClient(cfg, engine, bus)

	return NewCLI(cfg, bus, client, engine, nil), cfg
}

func TestExecuteUnknownCommand(t *testing.T) {
	c, _ := newTestCLI(t)
	if err := c.execute(context.Background(), "bogus", nil); err != nil {
		t.Fatalf("unknown command should not error: %v", err)
	}
}

func TestExecuteArgValidation(t *testing.T) {
	c, _ := newTestCLI(t)
	ctx := context.Background()

	cases := []struct {
		cmd  string
		args []string
	}{
		{"reset", nil},
		{"reset", []string{"abc"}},
		{"message", []string{"3"}},
		{"requestsave", nil},
		{"anchor", nil},
		{"anchor", []string{"sideways"}},
		{"history", []string{"zero"}},
		{"set", nil},
		{"set", []string{"NOEQUALS"}},
	}
	for _, tc := range cases {
		if err := c.execute(ctx, tc.cmd, tc.args); err == nil {
			t.Errorf("%s %v: expected error", tc.cmd, tc.args)
		}
	}
}

func TestHistoryWithoutJournal(t *testing.T) {
	c, _ := newTestCLI(t)
	err := c.execute(context.Background(), "history", nil)
	if err == nil || !strings.Contains(err.Error(), "journal") {
		t.Fatalf("expected journal-disabled error, got %v", err)
	}
}

func TestSetUpdatesConfig(t *testing.T) {
	c, cfg := newTestCLI(t)

	if err := c.execute(context.Background(), "set", []string{"SEED=winter-11"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := cfg.GetRelayData().Seed; got != "winter-11" {
		t.Fatalf("expected seed override, got %q", got)
	}

	if err := c.execute(context.Background(), "set", []string{"turbo=1"}); err != nil {
		t.Fatalf("set cvar: %v", err)
	}
	if got := cfg.GetCVars()["turbo"]; got != "1" {
		t.Fatalf("expected cvar override, got %q", got)
	}
}

func TestResetWithoutSessionFails(t *testing.T) {
	c, _ := newTestCLI(t)

	// No relay session has been opened, so the send must fail rather than
	// silently vanish.
	if err := c.execute(context.Background(), "reset", []string{"4"}); err == nil {
		t.Fatal("expected error sending reset without a session")
	}
}
