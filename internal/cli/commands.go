// Package cli implements the interactive command-line interface for Paceline.
// It provides operator commands for inspecting the relay session, the
// participant registry, and the race journal, and for issuing corrective
// packets by hand.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/paceline-project/paceline/internal/anchor"
	"github.com/paceline-project/paceline/internal/config"
	"github.com/paceline-project/paceline/internal/events"
	"github.com/paceline-project/paceline/internal/journal"
	"github.com/paceline-project/paceline/internal/protocol"
	"github.com/paceline-project/paceline/internal/relay"
)

// CLI provides an interactive command-line interface.
type CLI struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   *relay.Client
	engine   *anchor.Engine
	journal  *journal.Journal
}

// NewCLI creates a new CLI handler. The journal may be nil when journaling
// is disabled.
func NewCLI(cfg *config.Config, eventBus *events.EventBus, client *relay.Client, engine *anchor.Engine, jnl *journal.Journal) *CLI {
	return &CLI{
		cfg:      cfg,
		eventBus: eventBus,
		client:   client,
		engine:   engine,
		journal:  jnl,
	}
}

// Start begins the interactive CLI loop.
func (c *CLI) Start(ctx context.Context) {
	fmt.Println("\nPaceline CLI ready. Type 'help' for available commands.")
	fmt.Println("─────────────────────────────────────────────────────")

	reader := newLineReader()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadLine("paceline> ")
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if err := c.execute(ctx, cmd, args); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "status", "s":
		c.printStatus()
	case "participants", "p":
		c.printParticipants()
	case "reset":
		return c.cmdReset(ctx, args)
	case "message", "msg":
		return c.cmdMessage(args)
	case "requestsave":
		return c.cmdRequestSave(args)
	case "pushsave":
		return c.cmdPushSave(args)
	case "anchor":
		return c.cmdAnchor(ctx, args)
	case "history":
		return c.cmdHistory(args)
	case "set":
		return c.cmdSet(ctx, args)
	case "quit", "exit", "q":
		fmt.Println("Shutting down Paceline...")
		c.eventBus.Emit(ctx, events.Event{
			Type:   events.EventShutdown,
			Source: "cli",
		})
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

// printHelp displays available commands.
func (c *CLI) printHelp() {
	border := strings.Repeat("═", 59)
	fmt.Println("\n╔" + border + "╗")
	fmt.Printf("║%s║\n", center("Paceline CLI Commands", 59))
	fmt.Println("╠" + border + "╣")

	rows := [][2]string{
		{"status", "Show relay session status"},
		{"participants", "List known participants"},
		{"reset <id>", "Order a participant to reset"},
		{"message <id> <text>", "Send a notice to a participant"},
		{"requestsave <id>", "Request a participant's save state"},
		{"pushsave <id>", "Announce a save-state push"},
		{"anchor on|off", "Toggle the synchronization role"},
		{"history [n]", "Show recent journal entries"},
		{"set KEY=VALUE", "Update a configuration value"},
		{"quit", "Shut down Paceline"},
		{"help", "Show this help message"},
	}
	for _, r := range rows {
		fmt.Printf("║  %-20s %-35s ║\n", r[0], r[1])
	}

	fmt.Println("╚" + border + "╝")
	fmt.Println()
}

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", width-len(s)-left)
}

// printStatus displays the relay session and race configuration.
func (c *CLI) printStatus() {
	rd := c.cfg.GetRelayData()

	fmt.Printf("\n  Relay:        %s\n", rd.Addr())
	fmt.Printf("  Session:      %s\n", c.client.State())
	fmt.Printf("  Room:         %s\n", rd.Room)
	fmt.Printf("  Seed:         %s\n", rd.Seed)
	fmt.Printf("  Mode:         %s\n", rd.Mode)
	fmt.Printf("  Client ID:    %d\n", rd.PeerClientID)
	fmt.Printf("  Anchored:     %v\n", c.engine.Anchored())
	fmt.Printf("  Participants: %d\n", c.engine.Count())
	fmt.Println()
}

// printParticipants displays the participant registry in a formatted table.
func (c *CLI) printParticipants() {
	participants := c.engine.Participants()
	if len(participants) == 0 {
		fmt.Println("No participants known yet.")
		return
	}

	ids := make([]int, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"ID", "Save File", "Seed", "Fields"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, id := range ids {
		data := participants[id]

		file := "-"
		if n := data.FileNum(); n != protocol.FileNumNoSave {
			file = strconv.Itoa(n)
		}

		tw.Append([]string{
			strconv.Itoa(id),
			file,
			data.Seed(),
			strconv.Itoa(len(data)),
		})
	}

	tw.Render()
	fmt.Println()
}

func (c *CLI) cmdReset(ctx context.Context, args []string) error {
	id, err := parseParticipantArg(args)
	if err != nil {
		return err
	}

	if err := c.client.Send(protocol.NewReset(id)); err != nil {
		return err
	}

	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventResetOrdered,
		Source:  "cli",
		Payload: id,
	})
	fmt.Printf("Reset sent to participant %d\n", id)
	return nil
}

func (c *CLI) cmdMessage(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: message <id> <text>")
	}

	id, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid participant id: %s", args[0])
	}

	text := strings.Join(args[1:], " ")
	if err := c.client.Send(protocol.NewServerMessage(id, text)); err != nil {
		return err
	}

	fmt.Printf("Message sent to participant %d: %s\n", id, text)
	return nil
}

func (c *CLI) cmdRequestSave(args []string) error {
	id, err := parseParticipantArg(args)
	if err != nil {
		return err
	}

	if err := c.client.Send(protocol.NewRequestSaveState(id)); err != nil {
		return err
	}

	fmt.Printf("Save state requested from participant %d\n", id)
	return nil
}

func (c *CLI) cmdPushSave(args []string) error {
	id, err := parseParticipantArg(args)
	if err != nil {
		return err
	}

	if err := c.client.Send(protocol.NewPushSaveState(id)); err != nil {
		return err
	}

	fmt.Printf("Save state push announced to participant %d\n", id)
	return nil
}

func (c *CLI) cmdAnchor(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: anchor on|off")
	}

	switch strings.ToLower(args[0]) {
	case "on":
		c.engine.SetAnchored(ctx, true)
		fmt.Println("Synchronization role enabled")
	case "off":
		c.engine.SetAnchored(ctx, false)
		// Tell the relay too, so it stops counting on us for corrections.
		if err := c.client.Send(protocol.NewDisableAnchor()); err != nil {
			fmt.Printf("Warning: relay not notified: %v\n", err)
		}
		fmt.Println("Synchronization role disabled")
	default:
		return fmt.Errorf("usage: anchor on|off")
	}
	return nil
}

func (c *CLI) cmdHistory(args []string) error {
	if c.journal == nil {
		return fmt.Errorf("journal is disabled")
	}

	n := 20
	if len(args) > 0 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 1 {
			return fmt.Errorf("invalid count: %s", args[0])
		}
		n = v
	}

	entries, err := c.journal.Tail(n)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Journal is empty.")
		return nil
	}

	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Time", "Event", "Participant", "Detail"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, e := range entries {
		participant := "-"
		if e.Participant != 0 {
			participant = strconv.Itoa(e.Participant)
		}
		tw.Append([]string{
			e.CreatedAt.Local().Format("15:04:05"),
			e.Event,
			participant,
			e.Detail,
		})
	}

	tw.Render()
	fmt.Println()
	return nil
}

func (c *CLI) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: set KEY=VALUE")
	}

	if err := c.cfg.ApplyOverrides(args); err != nil {
		return err
	}
	if err := c.cfg.Save(); err != nil {
		return err
	}

	c.eventBus.Emit(ctx, events.Event{
		Type:    events.EventConfigChanged,
		Source:  "cli",
		Payload: events.ConfigChangedPayload{Section: "overrides"},
	})
	fmt.Printf("Config updated: %s\n", strings.Join(args, " "))
	return nil
}

func parseParticipantArg(args []string) (int, error) {
	if len(args) < 1 {
		return 0, fmt.Errorf("participant id required")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid participant id: %s", args[0])
	}
	return id, nil
}

// lineReader is a simple cross-platform line reader.
type lineReader struct {
	scanner *bufio.Scanner
}

func newLineReader() *lineReader {
	return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
}

func (lr *lineReader) ReadLine(prompt string) (string, error) {
	fmt.Print(prompt)
	if !lr.scanner.Scan() {
		if err := lr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return lr.scanner.Text(), nil
}
