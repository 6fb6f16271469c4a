package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/furisto/dispatch/shared/resilience"
	"github.com/prometheus/client_golang/prometheus"
)

// ToolSpec is what a model needs to know about an installed tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

type InvokeModelOptions struct {
	Tools     []ToolSpec
	MaxTokens int64
}

type InvokeModelOption func(*InvokeModelOptions)

func WithTools(tools ...ToolSpec) InvokeModelOption {
	return func(o *InvokeModelOptions) {
		o.Tools = tools
	}
}

func WithMaxTokens(maxTokens int64) InvokeModelOption {
	return func(o *InvokeModelOptions) {
		if maxTokens > 0 {
			o.MaxTokens = maxTokens
		}
	}
}

type ProviderOptions struct {
	URL            string
	CircuitBreaker *resilience.CircuitBreaker
	Metrics        *prometheus.Registry
}

type ProviderOption func(*ProviderOptions)

func WithURL(url string) ProviderOption {
	return func(options *ProviderOptions) {
		options.URL = url
	}
}

func WithCircuitBreaker(circuitBreaker *resilience.CircuitBreaker) ProviderOption {
	return func(options *ProviderOptions) {
		options.CircuitBreaker = circuitBreaker
	}
}

func WithMetrics(metrics *prometheus.Registry) ProviderOption {
	return func(o *ProviderOptions) {
		o.Metrics = metrics
	}
}

func DefaultProviderOptions(name string) *ProviderOptions {
	return &ProviderOptions{
		CircuitBreaker: resilience.NewCircuitBreaker(name, 5, 10*time.Second),
	}
}

// ModelProvider is the language model backend. Implementations never retry a
// failed call; the agent loop decides what a failure means.
type ModelProvider interface {
	InvokeModel(ctx context.Context, model, systemPrompt string, messages []*Message, opts ...InvokeModelOption) (*Message, error)
}

type MessageSource string

const (
	MessageSourceUser   MessageSource = "user"
	MessageSourceModel  MessageSource = "model"
	MessageSourceSystem MessageSource = "system"
)

type Message struct {
	Source  MessageSource  `json:"source"`
	Content []ContentBlock `json:"content"`
	Usage   Usage          `json:"usage"`
	Time    time.Time      `json:"time"`
}

func NewModelMessage(content []ContentBlock, usage Usage) *Message {
	return &Message{
		Source:  MessageSourceModel,
		Content: content,
		Usage:   usage,
		Time:    time.Now(),
	}
}

func NewUserMessage(text string) *Message {
	return &Message{
		Source:  MessageSourceUser,
		Content: []ContentBlock{&TextBlock{Text: text}},
		Time:    time.Now(),
	}
}

func NewToolResultMessage(results ...*ToolResultBlock) *Message {
	content := make([]ContentBlock, len(results))
	for i, result := range results {
		content[i] = result
	}
	return &Message{
		Source:  MessageSourceUser,
		Content: content,
		Time:    time.Now(),
	}
}

// Text concatenates the text blocks of the message.
func (m *Message) Text() string {
	var parts []string
	for _, block := range m.Content {
		if text, ok := block.(*TextBlock); ok && text.Text != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (m *Message) ToolCalls() []*ToolCallBlock {
	var calls []*ToolCallBlock
	for _, block := range m.Content {
		if call, ok := block.(*ToolCallBlock); ok {
			calls = append(calls, call)
		}
	}
	return calls
}

// HasToolResults reports whether the message answers tool calls of the
// preceding model message.
func (m *Message) HasToolResults() bool {
	for _, block := range m.Content {
		if block.Type() == ContentBlockTypeToolResult {
			return true
		}
	}
	return false
}

type ContentBlockType string

const (
	ContentBlockTypeText        ContentBlockType = "text"
	ContentBlockTypeToolRequest ContentBlockType = "tool_request"
	ContentBlockTypeToolResult  ContentBlockType = "tool_result"
)

type ContentBlock interface {
	Type() ContentBlockType
}

type TextBlock struct {
	Text string `json:"text"`
}

func (t *TextBlock) Type() ContentBlockType {
	return ContentBlockTypeText
}

type ToolCallBlock struct {
	ID   string          `json:"id"`
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

func (t *ToolCallBlock) Type() ContentBlockType {
	return ContentBlockTypeToolRequest
}

type ToolResultBlock struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Result    string `json:"result"`
	Succeeded bool   `json:"succeeded"`
}

func (t *ToolResultBlock) Type() ContentBlockType {
	return ContentBlockTypeToolResult
}

type Usage struct {
	InputTokens      int64 `json:"input_tokens"`
	OutputTokens     int64 `json:"output_tokens"`
	CacheWriteTokens int64 `json:"cache_write_tokens"`
	CacheReadTokens  int64 `json:"cache_read_tokens"`
}

type ProviderError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
	Kind       ProviderErrorKind
}

func NewProviderError(provider string, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Err:      err,
	}
}

// Message describes the failure in terms a user can act on.
func (pe *ProviderError) Message() string {
	switch pe.Kind {
	case ProviderErrorKindInvalidRequest:
		return "Invalid request format or content"
	case ProviderErrorKindAuthentication:
		return "The model provider rejected the API key"
	case ProviderErrorKindRateLimitExceeded:
		if pe.RetryAfter > 0 {
			return fmt.Sprintf("Rate limit exceeded, retry after %s", pe.RetryAfter)
		}
		return "Rate limit exceeded"
	case ProviderErrorKindOverloaded:
		return "API temporarily overloaded"
	case ProviderErrorKindInternal:
		return "Internal server error"
	case ProviderErrorKindUnavailable:
		return "The model provider is unreachable"
	case ProviderErrorKindTimeout:
		return "Request timeout"
	case ProviderErrorKindCanceled:
		return "Request canceled"
	default:
		return "Unknown error"
	}
}

func (pe *ProviderError) Error() string {
	if pe.Err != nil {
		return fmt.Sprintf("%s: %s: %s", pe.Provider, pe.Message(), pe.Err.Error())
	}
	return fmt.Sprintf("%s: %s", pe.Provider, pe.Message())
}

func (pe *ProviderError) Unwrap() error {
	return pe.Err
}

type ProviderErrorKind string

const (
	ProviderErrorKindInvalidRequest    ProviderErrorKind = "invalid_request"
	ProviderErrorKindAuthentication    ProviderErrorKind = "authentication"
	ProviderErrorKindRateLimitExceeded ProviderErrorKind = "rate_limit_exceeded"
	ProviderErrorKindOverloaded        ProviderErrorKind = "overloaded"
	ProviderErrorKindInternal          ProviderErrorKind = "internal"
	ProviderErrorKindUnavailable       ProviderErrorKind = "unavailable"
	ProviderErrorKindTimeout           ProviderErrorKind = "timeout"
	ProviderErrorKindCanceled          ProviderErrorKind = "canceled"
	ProviderErrorKindUnknown           ProviderErrorKind = "unknown"
)
