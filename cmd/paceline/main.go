// Paceline - Multiplayer Race Synchronization Client
//
// Paceline connects to a race relay over TCP, announces this client's
// configuration, mirrors the state of every participant in the race, and
// enforces save/seed consistency by resetting participants that join with
// stale progress. It exposes an interactive CLI, a local REST API with a
// websocket event feed, Prometheus metrics, a SQLite race journal, and
// optional MQTT telemetry.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paceline-project/paceline/internal/config"
)

const (
	AppName    = "Paceline"
	AppVersion = "1.0.0"
	Banner     = `
  ╔═╗┌─┐┌─┐┌─┐┬  ┬┌┐┌┌─┐
  ╠═╝├─┤│  ├┤ │  ││││├┤
  ╩  ┴ ┴└─┘└─┘┴─┘┴┘└┘└─┘  v%s
  Multiplayer Race Synchronization Client
`
)

func main() {
	var (
		configDir string
		host      string
		port      int
		room      string
		seed      string
		mode      string
		logLevel  string
	)

	rootCmd := &cobra.Command{
		Use:   "paceline [KEY=VALUE ...]",
		Short: "Multiplayer race synchronization client",
		Long: `Paceline keeps a multiplayer race in sync: it connects to a race relay,
publishes this client's state, and enforces save/seed consistency for
participants that join mid-race.

Positional KEY=VALUE arguments override configuration for this run
without being saved. Known keys (ROOM, SEED, MODE, HOST, PORT,
CLIENT_ID, LOG_LEVEL) map to settings; anything else is passed to the
relay as a cvar.

Examples:
  paceline
  paceline SEED=autumn-7431 ROOM=summit
  paceline --config-dir /etc/paceline MODE=ONGOING`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flags become overrides; positional pairs are applied
			// after them, so an explicit KEY=VALUE wins.
			overrides := make([]string, 0, len(args)+6)
			if cmd.Flags().Changed("host") {
				overrides = append(overrides, "HOST="+host)
			}
			if cmd.Flags().Changed("port") {
				overrides = append(overrides, fmt.Sprintf("PORT=%d", port))
			}
			if cmd.Flags().Changed("room") {
				overrides = append(overrides, "ROOM="+room)
			}
			if cmd.Flags().Changed("seed") {
				overrides = append(overrides, "SEED="+seed)
			}
			if cmd.Flags().Changed("mode") {
				overrides = append(overrides, "MODE="+mode)
			}
			if cmd.Flags().Changed("log-level") {
				overrides = append(overrides, "LOG_LEVEL="+logLevel)
			}
			overrides = append(overrides, args...)
			return runApp(configDir, overrides)
		},
	}

	rootCmd.Flags().StringVarP(&configDir, "config-dir", "c", config.DefaultConfigDir, "Directory containing config.json")
	rootCmd.Flags().StringVar(&host, "host", "", "Relay hostname (overrides config)")
	rootCmd.Flags().IntVar(&port, "port", 0, "Relay port (overrides config)")
	rootCmd.Flags().StringVar(&room, "room", "", "Race room (overrides config)")
	rootCmd.Flags().StringVar(&seed, "seed", "", "Race seed (overrides config)")
	rootCmd.Flags().StringVar(&mode, "mode", "", "Race mode: KICKOFF or ONGOING (overrides config)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn or error")

	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
