package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/paceline-project/paceline/internal/events"
)

func openTestJournal(t *testing.T, bus *events.EventBus) *Journal {
	t.Helper()
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"), bus)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndTail(t *testing.T) {
	j := openTestJournal(t, nil)

	if err := j.BeginSession("summit", "autumn-7431", "KICKOFF"); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}

	j.Record("participant_joined", 3, "fileNum=255 seed=autumn-7431")
	j.Record("correction", 5, "save_loaded")
	j.Record("notice", 0, "hello")

	entries, err := j.Tail(10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	// Newest first.
	if entries[0].Event != "notice" || entries[2].Event != "participant_joined" {
		t.Fatalf("unexpected order: %s .. %s", entries[0].Event, entries[2].Event)
	}
	if entries[1].Participant != 5 || entries[1].Detail != "save_loaded" {
		t.Fatalf("unexpected entry: %+v", entries[1])
	}
	if entries[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to be populated")
	}
}

func TestJournalTailLimit(t *testing.T) {
	j := openTestJournal(t, nil)

	for i := 0; i < 10; i++ {
		j.Record("notice", i, "")
	}

	entries, err := j.Tail(4)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].Participant != 9 {
		t.Fatalf("expected newest entry first, got participant %d", entries[0].Participant)
	}
}

func TestJournalSessionLifecycle(t *testing.T) {
	j := openTestJournal(t, nil)

	if err := j.BeginSession("summit", "autumn-7431", "ONGOING"); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}
	if err := j.EndSession(); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	// Ending twice is harmless.
	if err := j.EndSession(); err != nil {
		t.Fatalf("second EndSession: %v", err)
	}

	sessions, err := j.Sessions(5)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.Room != "summit" || s.Seed != "autumn-7431" || s.Mode != "ONGOING" {
		t.Fatalf("unexpected session: %+v", s)
	}
	if s.StartedAt.IsZero() {
		t.Fatal("expected started_at to be populated")
	}
	if s.EndedAt == nil {
		t.Fatal("expected ended_at to be populated after EndSession")
	}
}

func TestJournalRecordWithoutSession(t *testing.T) {
	j := openTestJournal(t, nil)

	j.Record("anchor", 0, "disabled")

	entries, err := j.Tail(1)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Event != "anchor" || entries[0].Detail != "disabled" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestJournalPrune(t *testing.T) {
	j := openTestJournal(t, nil)

	// Backdated rows an aged journal would contain.
	old := time.Now().UTC().AddDate(0, 0, -40)
	if _, err := j.db.Exec(
		"INSERT INTO sessions (room, seed, mode, started_at, ended_at) VALUES (?, ?, ?, ?, ?)",
		"summit", "spring-2", "KICKOFF", old, old,
	); err != nil {
		t.Fatalf("insert old session: %v", err)
	}
	if _, err := j.db.Exec(
		"INSERT INTO entries (session_id, event, participant, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		1, "notice", 0, "stale", old,
	); err != nil {
		t.Fatalf("insert old entry: %v", err)
	}

	j.Record("notice", 0, "fresh")

	removed, err := j.Prune(30)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}

	entries, err := j.Tail(10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 1 || entries[0].Detail != "fresh" {
		t.Fatalf("expected only the fresh entry to survive, got %+v", entries)
	}

	sessions, err := j.Sessions(10)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected old session to be pruned, got %+v", sessions)
	}

	// Zero retention disables pruning entirely.
	if removed, err := j.Prune(0); err != nil || removed != 0 {
		t.Fatalf("Prune(0) = (%d, %v), want (0, nil)", removed, err)
	}
}

func TestJournalBusSubscriptions(t *testing.T) {
	bus := events.NewEventBus()
	defer bus.Stop()

	j := openTestJournal(t, bus)

	if err := j.BeginSession("summit", "autumn-7431", "KICKOFF"); err != nil {
		t.Fatalf("BeginSession: %v", err)
	}

	ctx := context.Background()
	if err := bus.EmitSync(ctx, events.Event{
		Type:   events.EventCorrectionIssued,
		Source: "anchor_engine",
		Payload: events.CorrectionPayload{
			ParticipantID: 7,
			Reason:        events.CorrectionSeedMismatch,
			Message:       "Wrong seed loaded, resetting",
		},
	}); err != nil {
		t.Fatalf("EmitSync: %v", err)
	}

	if err := bus.EmitSync(ctx, events.Event{
		Type:    events.EventRelayDisconnected,
		Source:  "relay_client",
		Payload: events.RelayDisconnectedPayload{Reason: "remote closed"},
	}); err != nil {
		t.Fatalf("EmitSync: %v", err)
	}

	entries, err := j.Tail(10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].Event != "correction" || entries[1].Participant != 7 || entries[1].Detail != "seed_mismatch" {
		t.Fatalf("unexpected correction entry: %+v", entries[1])
	}
	if entries[0].Event != "disconnected" || entries[0].Detail != "remote closed" {
		t.Fatalf("unexpected disconnect entry: %+v", entries[0])
	}

	// The disconnect handler also closes the session.
	sessions, err := j.Sessions(1)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].EndedAt == nil {
		t.Fatalf("expected session to be ended by disconnect event, got %+v", sessions)
	}
}
