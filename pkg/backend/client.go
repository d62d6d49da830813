package backend

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/quiltfox/fablebot/pkg/logger"
)

// Message is one entry of a chat-completion transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Fault classifies why a completion did not succeed.
type Fault int

const (
	FaultNone Fault = iota
	FaultUnreachable
	FaultTimeout
	FaultBadResponse
	FaultUnexpected
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultUnreachable:
		return "unreachable"
	case FaultTimeout:
		return "timeout"
	case FaultBadResponse:
		return "bad_response"
	default:
		return "unexpected"
	}
}

// Completion is the outcome of a Complete call. Text is always deliverable:
// on any fault it carries a fixed user-safe message instead of the model
// output, so callers never need to special-case failures before replying.
type Completion struct {
	Text  string
	Fault Fault
}

func (c Completion) OK() bool { return c.Fault == FaultNone }

var faultMessages = map[Fault]string{
	FaultUnreachable: "I'm having trouble connecting to the AI model right now. Please ensure the inference server is running correctly.",
	FaultTimeout:     "I'm sorry, my thinking process timed out. The AI model might be very busy. Please try again in a moment.",
	FaultBadResponse: "The AI model returned something I couldn't make sense of. Please try again in a moment.",
	FaultUnexpected:  "A critical error occurred while I was thinking.",
}

func faulted(f Fault) Completion {
	return Completion{Text: faultMessages[f], Fault: f}
}

// Client issues chat-completion requests against one OpenAI-compatible
// inference server. It is safe for concurrent use, although the dispatcher
// only ever runs one request at a time.
type Client struct {
	api          openai.Client
	baseURL      string
	model        string
	maxTokens    int64
	timeout      time.Duration
	probeTimeout time.Duration
	probeClient  *http.Client
}

type Options struct {
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 2 * time.Second
	}
	return &Client{
		api: openai.NewClient(
			option.WithBaseURL(opts.BaseURL),
			option.WithAPIKey(opts.APIKey),
		),
		baseURL:      opts.BaseURL,
		model:        opts.Model,
		maxTokens:    int64(opts.MaxTokens),
		timeout:      opts.Timeout,
		probeTimeout: opts.ProbeTimeout,
		probeClient:  &http.Client{Timeout: opts.ProbeTimeout},
	}
}

// Complete runs one blocking chat-completion request. stop sequences are
// passed through to the backend so the model cannot speak for the user.
func (c *Client) Complete(ctx context.Context, messages []Message, stop []string) Completion {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: toParams(messages),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(c.maxTokens)
	}
	if len(stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: stop}
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		fault := classify(err)
		logger.WarnCF("backend", "Completion request failed", map[string]interface{}{
			"fault": fault.String(),
			"error": err.Error(),
		})
		return faulted(fault)
	}

	if len(resp.Choices) == 0 {
		logger.WarnC("backend", "Completion response carried no choices")
		return faulted(FaultBadResponse)
	}
	return Completion{Text: strings.TrimSpace(resp.Choices[0].Message.Content)}
}

// IsReachable probes the backend with a cheap HEAD request. Producers use it
// to reject new chat jobs up front when the server is plainly off; jobs
// already enqueued still run through Complete and get a fault message.
func (c *Client) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.probeClient.Do(req)
	if err != nil {
		logger.WarnC("backend", "Inference server is offline")
		return false
	}
	resp.Body.Close()
	return true
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func classify(err error) Fault {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return FaultBadResponse
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FaultTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FaultTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FaultUnreachable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return FaultUnreachable
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return FaultUnreachable
	}
	return FaultUnexpected
}
