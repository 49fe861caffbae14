package agent

import (
	"context"
	"net/http"

	"github.com/bazelment/yoloswe/agentcore/protocol"
	"github.com/bazelment/yoloswe/agentcore/stream"
)

// QueryBuilder builds a query from session defaults.
type QueryBuilder struct {
	session      *Session
	systemPrompt *string
	model        string
	query        string
	tools        []protocol.ToolDefinition
	messages     []protocol.Message
	maxTokens    int
}

// QueryString starts a query for q using the session's current model, the
// configured max tokens and system prompt.
func (s *Session) QueryString(q string) *QueryBuilder {
	return &QueryBuilder{session: s, query: q}
}

// Model overrides the model.
func (b *QueryBuilder) Model(m string) *QueryBuilder {
	b.model = m
	return b
}

// MaxTokens overrides max_tokens.
func (b *QueryBuilder) MaxTokens(n int) *QueryBuilder {
	b.maxTokens = n
	return b
}

// SystemPrompt overrides the system prompt.
func (b *QueryBuilder) SystemPrompt(p string) *QueryBuilder {
	b.systemPrompt = &p
	return b
}

// Tools sets the tools offered to the model.
func (b *QueryBuilder) Tools(tools ...protocol.ToolDefinition) *QueryBuilder {
	b.tools = append(b.tools, tools...)
	return b
}

// Messages sets prior conversation turns.
func (b *QueryBuilder) Messages(msgs ...protocol.Message) *QueryBuilder {
	b.messages = append(b.messages, msgs...)
	return b
}

// Request returns the query that Send would issue, including skill context.
func (b *QueryBuilder) Request() protocol.QueryRequest {
	s := b.session
	req := protocol.QueryRequest{
		Query:     b.query,
		Model:     b.model,
		MaxTokens: b.maxTokens,
		Tools:     b.tools,
		Messages:  b.messages,
	}
	if req.Model == "" {
		req.Model = s.Model()
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = s.cfg.MaxTokens
	}
	if req.Tools == nil {
		req.Tools = []protocol.ToolDefinition{}
	}
	if req.Messages == nil {
		req.Messages = []protocol.Message{}
	}

	prompt := s.cfg.SystemPrompt
	if b.systemPrompt != nil {
		prompt = *b.systemPrompt
	}
	if s.skills != nil {
		prompt += s.skills.BuildContext()
	}
	if prompt != "" {
		req.SystemPrompt = &prompt
	}
	return req
}

// Send issues the query. Active skills have their usage counted.
func (b *QueryBuilder) Send(ctx context.Context) (*protocol.QueryResponse, error) {
	req := b.Request()
	if b.session.skills != nil {
		b.session.skills.IncrementUsage()
	}
	return b.session.Query(ctx, req)
}

// messagesRequest is the body of a streaming /v1/messages call.
type messagesRequest struct {
	System    *string                   `json:"system,omitempty"`
	Model     string                    `json:"model"`
	Messages  []protocol.Message        `json:"messages"`
	Tools     []protocol.ToolDefinition `json:"tools,omitempty"`
	MaxTokens int                       `json:"max_tokens"`
	Stream    bool                      `json:"stream"`
}

// Stream sends req directly to the Messages API and returns the event
// stream. The query text is appended to req.Messages as the final user
// turn. The caller must Close the stream.
func (s *Session) Stream(ctx context.Context, req protocol.QueryRequest) (*stream.Stream, error) {
	if s.cfg.HTTPClient == nil {
		return nil, &ConfigError{Message: "streaming requires an HTTP client"}
	}
	if err := req.Validate(); err != nil {
		return nil, &ConfigError{Message: "invalid query", Cause: err}
	}
	if req.Model == "" {
		req.Model = s.Model()
	}

	body := messagesRequest{
		System:    req.SystemPrompt,
		Model:     req.Model,
		Messages:  append(append([]protocol.Message{}, req.Messages...), protocol.NewUserMessage(req.Query)),
		Tools:     req.Tools,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
	bs, err := s.cfg.HTTPClient.NewRequest(http.MethodPost, "/v1/messages").JSON(body).SendStreaming(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("request_id", bs.RequestID()).Str("model", req.Model).Msg("stream opened")
	return stream.NewStream(bs.Response), nil
}
