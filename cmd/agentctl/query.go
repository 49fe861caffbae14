package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bazelment/yoloswe/agentcore/agent"
	"github.com/bazelment/yoloswe/agentcore/protocol"
	"github.com/bazelment/yoloswe/agentcore/skills"
)

// passthroughEnv is copied into the CLI's otherwise empty environment.
var passthroughEnv = []string{"PATH", "HOME", "ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN", "ANTHROPIC_BASE_URL"}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Send one query through the agent CLI and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		opts, err := sessionOptions(logger)
		if err != nil {
			return err
		}
		s, err := agent.NewSession(ctx, opts...)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		defer s.Close()

		// Settings rules answer permission checks; anything they do not
		// cover is denied.
		s.Permissions().SetHandler(agent.NewRuleHandler(s.Permissions(), nil))

		for _, name := range v.GetStringSlice("skill") {
			if s.Skills() == nil {
				return fmt.Errorf("--skill %s: %w", name, agent.ErrSkillsDisabled)
			}
			if err := s.Skills().Load(name); err != nil {
				return err
			}
		}

		resp, err := s.QueryString(strings.Join(args, " ")).Send(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message.Text())
		if resp.Message.Usage != nil {
			logger.Info().
				Int("input_tokens", resp.Message.Usage.InputTokens).
				Int("output_tokens", resp.Message.Usage.OutputTokens).
				Msg("usage")
		}
		return nil
	},
}

func sessionOptions(logger zerolog.Logger) ([]agent.SessionOption, error) {
	mode, err := protocol.ParsePermissionMode(v.GetString("permission-mode"))
	if err != nil {
		return nil, err
	}

	opts := []agent.SessionOption{
		agent.WithLogger(logger),
		agent.WithModel(v.GetString("model")),
		agent.WithMaxTokens(v.GetInt("max-tokens")),
		agent.WithPermissionMode(mode),
		agent.WithResponseTimeout(v.GetDuration("timeout")),
	}
	if p := v.GetString("cli-path"); p != "" {
		opts = append(opts, agent.WithCLIPath(p))
	}
	if p := v.GetString("system-prompt"); p != "" {
		opts = append(opts, agent.WithSystemPrompt(p))
	}
	if p := v.GetString("trace"); p != "" {
		opts = append(opts, agent.WithTrace(p))
	}
	if dir := v.GetString("work-dir"); dir != "" {
		opts = append(opts, agent.WithWorkDir(dir))
	}

	for _, key := range passthroughEnv {
		if val, ok := os.LookupEnv(key); ok {
			opts = append(opts, agent.WithEnv(key, val))
		}
	}
	for key, val := range v.GetStringMapString("env") {
		opts = append(opts, agent.WithEnv(key, val))
	}

	if path := v.GetString("settings"); path != "" {
		updates, err := agent.LoadPermissionSettings(path, protocol.PermissionDestLocalSettings)
		if err != nil {
			return nil, err
		}
		opts = append(opts, agent.WithPermissionUpdates(updates...))
	}

	if dirs := v.GetStringSlice("skills-dir"); len(dirs) > 0 {
		reg := skills.NewRegistry(dirs, skills.WithLogger(logger))
		report := reg.Discover()
		for _, err := range report.Errors {
			logger.Warn().Err(err).Msg("skipping skill")
		}
		opts = append(opts, agent.WithSkills(reg))
	}
	return opts, nil
}

func init() {
	rootCmd.AddCommand(queryCmd)
	f := queryCmd.Flags()
	f.String("cli-path", "", "Path to the agent CLI (default: claude on PATH)")
	f.String("model", agent.DefaultModel, "Model to use")
	f.String("permission-mode", string(protocol.PermissionModeDefault), "Permission mode (default, acceptEdits, bypassPermissions)")
	f.Int("max-tokens", agent.DefaultMaxTokens, "Maximum tokens in the reply")
	f.String("system-prompt", "", "System prompt")
	f.String("settings", "", "JSONC permission settings file")
	f.String("trace", "", "Append every envelope to this NDJSON file")
	f.String("work-dir", "", "Working directory of the CLI")
	f.StringSlice("skill", nil, "Skill to activate (repeatable)")
	f.StringToString("env", nil, "Extra CLI environment variables (KEY=VALUE)")
	f.Duration("timeout", 5*time.Minute, "How long to wait for the reply")
}

