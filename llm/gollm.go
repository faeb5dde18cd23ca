package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmClient backs the Client interface with a gollm.LLM instance.
// gollm speaks a flattened text protocol, so multi-turn conversations
// are folded into a single prompt and tool calls are extracted from
// the response text and re-emitted as fragments.
type GollmClient struct {
	provider string
	llm      gollm.LLM
	model    string
}

// GollmOption configures a GollmClient.
type GollmOption func(*gollmConfig)

type gollmConfig struct {
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	extraOpts   []gollm.ConfigOption
}

// WithAPIKey sets the API key. When empty, gollm reads it from the
// provider's environment variable.
func WithAPIKey(key string) GollmOption {
	return func(c *gollmConfig) { c.apiKey = key }
}

// WithModel sets the default model.
func WithModel(model string) GollmOption {
	return func(c *gollmConfig) { c.model = model }
}

// WithMaxTokens sets the default max output tokens.
func WithMaxTokens(n int) GollmOption {
	return func(c *gollmConfig) { c.maxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) GollmOption {
	return func(c *gollmConfig) { c.temperature = t }
}

// WithGollmOptions appends raw gollm configuration options.
func WithGollmOptions(opts ...gollm.ConfigOption) GollmOption {
	return func(c *gollmConfig) { c.extraOpts = append(c.extraOpts, opts...) }
}

// NewGollmClient creates a GollmClient for the given provider.
func NewGollmClient(provider string, opts ...GollmOption) (*GollmClient, error) {
	cfg := &gollmConfig{
		maxTokens:   4096,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	model := cfg.model
	if model == "" {
		if info := DefaultModel(provider); info != nil {
			model = info.ID
		} else {
			model = "gpt-5.2-mini"
		}
	}

	gollmOpts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxTokens(cfg.maxTokens),
		gollm.SetTemperature(cfg.temperature),
		gollm.SetMaxRetries(0), // retries belong to the fallback chain
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if cfg.apiKey != "" {
		gollmOpts = append(gollmOpts, gollm.SetAPIKey(cfg.apiKey))
	}
	gollmOpts = append(gollmOpts, cfg.extraOpts...)

	backend, err := gollm.NewLLM(gollmOpts...)
	if err != nil {
		return nil, fmt.Errorf("gollm init for provider %s: %w", provider, err)
	}

	return &GollmClient{provider: provider, llm: backend, model: model}, nil
}

// NewGollmClientFromLLM wraps an existing gollm.LLM instance.
func NewGollmClientFromLLM(provider string, backend gollm.LLM) *GollmClient {
	return &GollmClient{provider: provider, llm: backend}
}

// Name returns the provider identifier.
func (c *GollmClient) Name() string {
	return c.provider
}

// StreamComplete sends a request and returns a channel of stream events.
func (c *GollmClient) StreamComplete(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt, err := c.translateRequest(req)
	if err != nil {
		return nil, err
	}
	c.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !c.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			text, err := c.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: c.translateError(err)}
				return
			}
			c.emitAssembled(ch, req, text)
		}()
		return ch, nil
	}

	stream, err := c.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, c.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		var full strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Type: StreamError, Err: c.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			// Tool-call JSON is buffered, not streamed as visible text.
			full.WriteString(token.Text)
			if !looksLikeToolCallPrefix(full.String()) {
				ch <- StreamEvent{Type: StreamTextDelta, Delta: token.Text}
			}
		}
		c.emitAssembled(ch, req, full.String())
	}()

	return ch, nil
}

// emitAssembled extracts tool calls from the final text, emits one
// fragment per call, and closes the stream with a finish event.
func (c *GollmClient) emitAssembled(ch chan<- StreamEvent, req Request, text string) {
	calls := parseToolCalls(text)
	cleaned := stripToolCallJSON(text, calls)

	for i, tc := range calls {
		ch <- StreamEvent{Type: StreamToolFragment, Fragment: &ToolCallFragment{
			Index:          i,
			ID:             tc.ID,
			Name:           tc.Name,
			ArgumentsDelta: string(tc.Arguments),
		}}
	}

	resp := c.buildResponse(req, cleaned, calls)
	ch <- StreamEvent{Type: StreamFinish, Response: resp}
}

func (c *GollmClient) buildResponse(req Request, text string, calls []ToolCall) *Response {
	model := req.Model
	if model == "" {
		model = c.model
	}
	reason := FinishStop
	if len(calls) > 0 {
		reason = FinishToolCalls
	}
	inTok := 0
	for _, m := range req.Messages {
		inTok += len(m.Content) / 4
	}
	return &Response{
		ID:           "resp_" + uuid.New().String()[:8],
		Model:        model,
		Provider:     c.provider,
		Text:         text,
		ToolCalls:    calls,
		FinishReason: reason,
		// gollm does not surface provider usage; estimate from length.
		Usage: Usage{
			InputTokens:  inTok,
			OutputTokens: len(text) / 4,
			TotalTokens:  inTok + len(text)/4,
		},
		CreatedAt: time.Now(),
	}
}

// translateRequest folds the message history into a gollm Prompt.
func (c *GollmClient) translateRequest(req Request) (*gollm.Prompt, error) {
	var systemPrompt string
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt += msg.Content + "\n"
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Assistant called %s]: %s", tc.Name, tc.Arguments))
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if msg.IsError {
				prefix = "[Tool Error]"
			}
			parts = append(parts, prefix+": "+msg.Content)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	promptOpts := []gollm.PromptOption{}
	if systemPrompt != "" {
		promptOpts = append(promptOpts, gollm.WithSystemPrompt(strings.TrimSpace(systemPrompt), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		promptOpts = append(promptOpts, gollm.WithMaxLength(*req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		promptOpts = append(promptOpts, gollm.WithTools(tools))
	}
	if req.ToolChoice != "" {
		promptOpts = append(promptOpts, gollm.WithToolChoice(req.ToolChoice))
	}

	return gollm.NewPrompt(promptText, promptOpts...), nil
}

func (c *GollmClient) applyRequestOptions(req Request) {
	if req.Model != "" {
		c.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		c.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		c.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// toolCallMarkers are the prefixes under which gollm providers embed
// tool calls in response text.
var toolCallMarkers = []string{`{"tool_calls"`, `[{"name"`}

func looksLikeToolCallPrefix(text string) bool {
	for _, m := range toolCallMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// parseToolCalls extracts tool calls embedded as JSON in response text.
func parseToolCalls(text string) []ToolCall {
	start := -1
	for _, m := range toolCallMarkers {
		if idx := strings.Index(text, m); idx != -1 {
			start = idx
			break
		}
	}
	if start == -1 {
		return nil
	}

	var rawCalls []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &rawCalls); err != nil {
		return nil
	}

	var calls []ToolCall
	for _, rc := range rawCalls {
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: rc.Arguments,
		})
	}
	return calls
}

// stripToolCallJSON removes parsed tool call JSON from the visible text.
func stripToolCallJSON(text string, calls []ToolCall) string {
	if len(calls) == 0 {
		return text
	}
	result := text
	for _, m := range toolCallMarkers {
		if idx := strings.Index(result, m); idx != -1 {
			result = strings.TrimSpace(result[:idx])
		}
	}
	return result
}

// translateError classifies a gollm error into the typed hierarchy.
// gollm surfaces provider failures as opaque strings, so this matches
// on message content.
func (c *GollmClient) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)

	pe := func(status int, retryable bool) ProviderError {
		return ProviderError{
			ClientError: ClientError{Message: msg, Cause: err},
			Provider:    c.provider,
			StatusCode:  status,
			Retryable:   retryable,
		}
	}

	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		return &AuthenticationError{ProviderError: pe(401, false)}
	case strings.Contains(lower, "403") || strings.Contains(lower, "forbidden"):
		return &AccessDeniedError{ProviderError: pe(403, false)}
	case strings.Contains(lower, "404") || strings.Contains(lower, "not found"):
		return &NotFoundError{ProviderError: pe(404, false)}
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit"):
		return &RateLimitError{ProviderError: pe(429, true)}
	case strings.Contains(lower, "context length") || strings.Contains(lower, "too many tokens"):
		return &ContextLengthError{ProviderError: pe(413, false)}
	case strings.Contains(lower, "500") || strings.Contains(lower, "internal server"):
		return &ServerError{ProviderError: pe(500, true)}
	case strings.Contains(lower, "timeout"):
		return &RequestTimeoutError{ClientError: ClientError{Message: msg, Cause: err}}
	case strings.Contains(lower, "content filter") || strings.Contains(lower, "safety"):
		return &ContentFilterError{ProviderError: pe(0, false)}
	default:
		generic := pe(0, true)
		return &generic
	}
}
