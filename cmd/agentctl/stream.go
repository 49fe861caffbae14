package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bazelment/yoloswe/agentcore/agent"
	"github.com/bazelment/yoloswe/agentcore/httpclient"
	"github.com/bazelment/yoloswe/agentcore/protocol"
	"github.com/bazelment/yoloswe/agentcore/stream"
)

type streamBody struct {
	System    string             `json:"system,omitempty"`
	Model     string             `json:"model"`
	Messages  []protocol.Message `json:"messages"`
	MaxTokens int                `json:"max_tokens"`
	Stream    bool               `json:"stream"`
}

var streamCmd = &cobra.Command{
	Use:   "stream <text>",
	Short: "Stream a reply from the Messages API",
	Long: `stream posts the text to /v1/messages and prints text deltas as they
arrive. Credentials come from ANTHROPIC_* environment variables, optionally
loaded from --env-file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		cfg, err := httpclient.LoadConfig(v.GetStringSlice("env-file")...)
		if err != nil {
			return err
		}
		hc, err := httpclient.New(cfg, httpclient.WithLogger(logger))
		if err != nil {
			return err
		}

		body := streamBody{
			System:    v.GetString("system-prompt"),
			Model:     v.GetString("model"),
			MaxTokens: v.GetInt("max-tokens"),
			Messages:  []protocol.Message{protocol.NewUserMessage(strings.Join(args, " "))},
			Stream:    true,
		}
		bs, err := hc.NewRequest(http.MethodPost, "/v1/messages").JSON(body).SendStreaming(ctx)
		if err != nil {
			return err
		}
		st := stream.NewStream(bs.Response)
		defer st.Close()
		logger.Debug().Str("request_id", bs.RequestID()).Msg("stream opened")

		out := cmd.OutOrStdout()
		text := st.Text()
		for {
			frag, err := text.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			fmt.Fprint(out, frag)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)
	f := streamCmd.Flags()
	f.String("model", agent.DefaultModel, "Model to use")
	f.Int("max-tokens", agent.DefaultMaxTokens, "Maximum tokens in the reply")
	f.String("system-prompt", "", "System prompt")
	f.StringSlice("env-file", nil, "dotenv file to load before reading ANTHROPIC_* variables (repeatable)")
}
