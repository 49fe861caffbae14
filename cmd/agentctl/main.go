// Command agentctl drives an agent CLI session from the shell.
package main

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bazelment/yoloswe/agentcore/internal/logging"
)

// v holds flag values, overridable with AGENTCTL_* environment variables.
var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "agentctl",
	Short: "Run queries against an agent CLI session",
	Long: `agentctl starts the agent CLI as a subprocess, answers its hook and
permission requests, and prints responses. It can also stream a reply
straight from the Messages API.`,
	SilenceUsage: true,
	// Each command binds its own flags so commands can share flag names.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return v.BindPFlags(cmd.Flags())
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("log-level", "warn", "Log level (debug, info, warn, error)")
	pf.Bool("log-pretty", true, "Human-readable logs on stderr")
	pf.StringSlice("skills-dir", nil, "Directory to discover skills in (repeatable)")

	v.SetEnvPrefix("AGENTCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger creates a logger at the configured level.
func newLogger() zerolog.Logger {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(v.GetString("log-level"))
	cfg.Pretty = v.GetBool("log-pretty")
	return logging.New(cfg).With().Str("cmd", "agentctl").Logger()
}
