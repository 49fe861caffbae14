package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/bazelment/yoloswe/agentcore/httpclient"
	"github.com/bazelment/yoloswe/agentcore/protocol"
	"github.com/bazelment/yoloswe/agentcore/retry"
	"github.com/bazelment/yoloswe/agentcore/skills"
	"github.com/bazelment/yoloswe/agentcore/transport"
)

const (
	DefaultModel                = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens            = 4096
	DefaultMaxConcurrentQueries = 1
	DefaultResponseTimeout      = 300 * time.Second
	DefaultServerInfoTTL        = 30 * time.Second
)

// TransportFactory starts a transport for a session. It is called once at
// creation and again on every reconnect.
type TransportFactory func(ctx context.Context, cfg transport.Config, logger zerolog.Logger) (transport.Transport, error)

// SpawnSubprocess is the default TransportFactory.
func SpawnSubprocess(ctx context.Context, cfg transport.Config, logger zerolog.Logger) (transport.Transport, error) {
	return transport.Spawn(ctx, cfg, transport.WithLogger(logger))
}

// SessionConfig holds session configuration.
type SessionConfig struct {
	// PermissionHandler decides tool permissions in default and acceptEdits modes.
	PermissionHandler PermissionHandler

	// TransportFactory starts the CLI. Defaults to SpawnSubprocess.
	TransportFactory TransportFactory

	// Skills, when set, attaches a SkillManager to the session.
	Skills *skills.Registry

	// HTTPClient is used by Stream.
	HTTPClient *httpclient.Client

	// Env is the complete environment of the CLI process.
	Env map[string]string

	// Hooks are registered before the session starts routing.
	Hooks map[protocol.HookEvent][]HookHandler

	// SystemPrompt is the default system prompt for QueryString.
	SystemPrompt string

	// Model is the initial model.
	Model string

	// CLIPath is the path to the CLI binary.
	CLIPath string

	// WorkDir is the working directory of the CLI process.
	WorkDir string

	// TracePath, when set, records every envelope to this file.
	TracePath string

	// PermissionMode is the initial permission mode.
	PermissionMode protocol.PermissionMode

	// CLIArgs are the arguments passed to the CLI.
	CLIArgs []string

	// PermissionUpdates are applied to the evaluator at creation.
	PermissionUpdates []protocol.PermissionUpdate

	// Reconnect is the respawn schedule used when the CLI dies.
	Reconnect retry.Policy

	Logger zerolog.Logger

	MaxConcurrentQueries int
	MaxTokens            int
	ResponseTimeout      time.Duration
	ServerInfoTTL        time.Duration
	MaxLineSize          int
}

// SessionOption is a functional option for configuring a Session.
type SessionOption func(*SessionConfig)

func defaultConfig() SessionConfig {
	tc := transport.DefaultConfig()
	return SessionConfig{
		Model:                DefaultModel,
		CLIPath:              tc.CLIPath,
		CLIArgs:              tc.Args,
		MaxLineSize:          tc.MaxLineSize,
		PermissionMode:       protocol.PermissionModeDefault,
		TransportFactory:     SpawnSubprocess,
		Logger:               zerolog.Nop(),
		MaxConcurrentQueries: DefaultMaxConcurrentQueries,
		MaxTokens:            DefaultMaxTokens,
		ResponseTimeout:      DefaultResponseTimeout,
		ServerInfoTTL:        DefaultServerInfoTTL,
		Reconnect: retry.Policy{
			MaxRetries:   4,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     60 * time.Second,
			Multiplier:   2,
		},
	}
}

func (c SessionConfig) transportConfig() transport.Config {
	return transport.Config{
		CLIPath:     c.CLIPath,
		Args:        append([]string(nil), c.CLIArgs...),
		Env:         c.Env,
		WorkDir:     c.WorkDir,
		MaxLineSize: c.MaxLineSize,
	}
}

// WithModel sets the initial model.
func WithModel(model string) SessionOption {
	return func(c *SessionConfig) {
		c.Model = model
	}
}

// WithSystemPrompt sets the default system prompt.
func WithSystemPrompt(prompt string) SessionOption {
	return func(c *SessionConfig) {
		c.SystemPrompt = prompt
	}
}

// WithMaxTokens sets the default max_tokens for QueryString.
func WithMaxTokens(n int) SessionOption {
	return func(c *SessionConfig) {
		c.MaxTokens = n
	}
}

// WithPermissionMode sets the initial permission mode.
func WithPermissionMode(mode protocol.PermissionMode) SessionOption {
	return func(c *SessionConfig) {
		c.PermissionMode = mode
	}
}

// WithPermissionHandler sets the permission handler.
func WithPermissionHandler(h PermissionHandler) SessionOption {
	return func(c *SessionConfig) {
		c.PermissionHandler = h
	}
}

// WithPermissionUpdates applies rule updates at session creation.
func WithPermissionUpdates(updates ...protocol.PermissionUpdate) SessionOption {
	return func(c *SessionConfig) {
		c.PermissionUpdates = append(c.PermissionUpdates, updates...)
	}
}

// WithHook registers a hook handler before the session starts.
func WithHook(event protocol.HookEvent, h HookHandler) SessionOption {
	return func(c *SessionConfig) {
		if c.Hooks == nil {
			c.Hooks = make(map[protocol.HookEvent][]HookHandler)
		}
		c.Hooks[event] = append(c.Hooks[event], h)
	}
}

// WithCLIPath sets a custom CLI binary path.
func WithCLIPath(path string) SessionOption {
	return func(c *SessionConfig) {
		c.CLIPath = path
	}
}

// WithCLIArgs replaces the CLI arguments.
func WithCLIArgs(args ...string) SessionOption {
	return func(c *SessionConfig) {
		c.CLIArgs = args
	}
}

// WithEnv sets one variable in the CLI environment.
func WithEnv(key, value string) SessionOption {
	return func(c *SessionConfig) {
		if c.Env == nil {
			c.Env = make(map[string]string)
		}
		c.Env[key] = value
	}
}

// WithWorkDir sets the working directory.
func WithWorkDir(dir string) SessionOption {
	return func(c *SessionConfig) {
		c.WorkDir = dir
	}
}

// WithMaxConcurrentQueries caps in-flight queries. Values below 1 become 1.
func WithMaxConcurrentQueries(n int) SessionOption {
	return func(c *SessionConfig) {
		c.MaxConcurrentQueries = max(n, 1)
	}
}

// WithResponseTimeout bounds the wait for a query response.
func WithResponseTimeout(d time.Duration) SessionOption {
	return func(c *SessionConfig) {
		c.ResponseTimeout = d
	}
}

// WithServerInfoTTL sets how long ServerInfo results are cached.
func WithServerInfoTTL(d time.Duration) SessionOption {
	return func(c *SessionConfig) {
		c.ServerInfoTTL = d
	}
}

// WithReconnectPolicy sets the respawn schedule.
func WithReconnectPolicy(p retry.Policy) SessionOption {
	return func(c *SessionConfig) {
		c.Reconnect = p
	}
}

// WithTransportFactory replaces how the CLI transport is started.
func WithTransportFactory(f TransportFactory) SessionOption {
	return func(c *SessionConfig) {
		c.TransportFactory = f
	}
}

// WithSkills attaches a skill registry.
func WithSkills(r *skills.Registry) SessionOption {
	return func(c *SessionConfig) {
		c.Skills = r
	}
}

// WithHTTPClient sets the client used by Stream.
func WithHTTPClient(hc *httpclient.Client) SessionOption {
	return func(c *SessionConfig) {
		c.HTTPClient = hc
	}
}

// WithTrace records every envelope to path.
func WithTrace(path string) SessionOption {
	return func(c *SessionConfig) {
		c.TracePath = path
	}
}

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) SessionOption {
	return func(c *SessionConfig) {
		c.Logger = l
	}
}
