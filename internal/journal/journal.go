package journal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/util"
)

// schema holds the journal database schema.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	room TEXT NOT NULL,
	seed TEXT NOT NULL,
	mode TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME
);

CREATE TABLE IF NOT EXISTS entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id INTEGER NOT NULL DEFAULT 0,
	event TEXT NOT NULL,
	participant INTEGER NOT NULL DEFAULT 0,
	detail TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id);
CREATE INDEX IF NOT EXISTS idx_entries_created ON entries(created_at);
`

// Entry is a single journal record.
type Entry struct {
	ID          int64     `json:"id"`
	Event       string    `json:"event"`
	Participant int       `json:"participant,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SessionInfo describes one relay session in the journal.
type SessionInfo struct {
	ID        int64      `json:"id"`
	Room      string     `json:"room"`
	Seed      string     `json:"seed"`
	Mode      string     `json:"mode"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Journal records relay sessions and reconciliation events to SQLite.
type Journal struct {
	db     *Database
	bus    *events.EventBus
	logger zerolog.Logger

	mu        sync.Mutex
	sessionID int64
}

// NewJournal opens the journal database at dbPath and runs migrations.
func NewJournal(dbPath string, bus *events.EventBus) (*Journal, error) {
	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		db:     db,
		bus:    bus,
		logger: util.ComponentLogger("journal"),
	}

	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate journal schema: %w", err)
	}

	j.subscribe()

	return j, nil
}

func (j *Journal) migrate() error {
	if _, err := j.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// subscribe wires the journal to the event bus. Participant updates are
// deliberately not journaled: they arrive many times per second and would
// drown the log in noise.
func (j *Journal) subscribe() {
	if j.bus == nil {
		return
	}

	j.bus.Subscribe(events.EventRelayConnected, "journal", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.RelayConnectedPayload); ok {
			j.Record("connected", 0, fmt.Sprintf("%s:%d room=%s", p.Host, p.Port, p.Room))
		}
		return nil
	})

	j.bus.Subscribe(events.EventRelayDisconnected, "journal", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.RelayDisconnectedPayload); ok {
			j.Record("disconnected", 0, p.Reason)
		}
		if err := j.EndSession(); err != nil {
			j.logger.Warn().Err(err).Msg("failed to close journal session")
		}
		return nil
	})

	j.bus.Subscribe(events.EventParticipantJoined, "journal", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.ParticipantPayload); ok {
			j.Record("participant_joined", p.ParticipantID, fmt.Sprintf("fileNum=%d seed=%s", p.FileNum, p.Seed))
		}
		return nil
	})

	j.bus.Subscribe(events.EventCorrectionIssued, "journal", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.CorrectionPayload); ok {
			j.Record("correction", p.ParticipantID, string(p.Reason))
		}
		return nil
	})

	j.bus.Subscribe(events.EventResetOrdered, "journal", func(ctx context.Context, e events.Event) error {
		switch p := e.Payload.(type) {
		case int:
			// Operator-ordered reset; the id is the target participant.
			j.Record("reset", p, "")
		case events.NoticePayload:
			j.Record("reset", p.From, "ordered by relay")
		}
		return nil
	})

	j.bus.Subscribe(events.EventServerNotice, "journal", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.NoticePayload); ok {
			j.Record("notice", p.From, p.Message)
		}
		return nil
	})

	j.bus.Subscribe(events.EventAnchorChanged, "journal", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.AnchorPayload); ok {
			detail := "disabled"
			if p.Enabled {
				detail = "enabled"
			}
			if p.Remote {
				detail += " (remote)"
			}
			j.Record("anchor", 0, detail)
		}
		return nil
	})

	j.bus.Subscribe(events.EventSaveStateRequested, "journal", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.SaveStatePayload); ok {
			j.Record("save_state_requested", p.From, "")
		}
		return nil
	})

	j.bus.Subscribe(events.EventSaveStatePushed, "journal", func(ctx context.Context, e events.Event) error {
		if p, ok := e.Payload.(events.SaveStatePayload); ok {
			j.Record("save_state_pushed", p.From, "")
		}
		return nil
	})
}

// BeginSession opens a new journal session for a relay connection.
func (j *Journal) BeginSession(room, seed, mode string) error {
	res, err := j.db.Exec(
		"INSERT INTO sessions (room, seed, mode, started_at) VALUES (?, ?, ?, ?)",
		room, seed, mode, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to begin journal session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read session id: %w", err)
	}

	j.mu.Lock()
	j.sessionID = id
	j.mu.Unlock()

	j.logger.Info().Int64("session", id).Str("room", room).Msg("journal session started")
	return nil
}

// EndSession marks the current session as ended.
func (j *Journal) EndSession() error {
	j.mu.Lock()
	id := j.sessionID
	j.sessionID = 0
	j.mu.Unlock()

	if id == 0 {
		return nil
	}

	_, err := j.db.Exec(
		"UPDATE sessions SET ended_at = ? WHERE id = ?",
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to end journal session: %w", err)
	}
	j.logger.Info().Int64("session", id).Msg("journal session ended")
	return nil
}

// Record writes a single event to the journal. Events recorded outside a
// session are attached to session 0.
func (j *Journal) Record(event string, participant int, detail string) {
	j.mu.Lock()
	id := j.sessionID
	j.mu.Unlock()

	_, err := j.db.Exec(
		"INSERT INTO entries (session_id, event, participant, detail, created_at) VALUES (?, ?, ?, ?, ?)",
		id, event, participant, detail, time.Now().UTC(),
	)
	if err != nil {
		j.logger.Warn().Err(err).Str("event", event).Msg("failed to record journal entry")
	}
}

// Tail returns the most recent n journal entries, newest first.
func (j *Journal) Tail(n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}

	rows, err := j.db.Query(
		"SELECT id, event, participant, detail, created_at FROM entries ORDER BY id DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Event, &e.Participant, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Sessions returns the most recent n sessions, newest first.
func (j *Journal) Sessions(n int) ([]SessionInfo, error) {
	if n <= 0 {
		n = 10
	}

	rows, err := j.db.Query(
		"SELECT id, room, seed, mode, started_at, ended_at FROM sessions ORDER BY id DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var s SessionInfo
		if err := rows.Scan(&s.ID, &s.Room, &s.Seed, &s.Mode, &s.StartedAt, &s.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes entries and completed sessions older than retentionDays.
// Entries belonging to the active session are kept regardless of age.
// It returns the number of entries removed.
func (j *Journal) Prune(retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	j.mu.Lock()
	current := j.sessionID
	j.mu.Unlock()

	res, err := j.db.Exec(
		"DELETE FROM entries WHERE created_at < ? AND session_id != ?",
		cutoff, current,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal entries: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := j.db.Exec(
		"DELETE FROM sessions WHERE ended_at IS NOT NULL AND ended_at < ?",
		cutoff,
	); err != nil {
		return removed, fmt.Errorf("failed to prune journal sessions: %w", err)
	}
	return removed, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
