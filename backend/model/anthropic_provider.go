package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/furisto/dispatch/shared/resilience"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	anthropicProviderName  = "anthropic"
	defaultAnthropicTokens = 8192
	defaultOverloadedWait  = 10 * time.Second
)

var tracer = otel.Tracer("github.com/furisto/dispatch/backend/model")

type AnthropicProvider struct {
	client         anthropic.Client
	circuitBreaker *resilience.CircuitBreaker
	metrics        *modelMetricsProvider
}

var _ ModelProvider = (*AnthropicProvider)(nil)

func NewAnthropicProvider(apiKey string, opts ...ProviderOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	providerOptions := DefaultProviderOptions(anthropicProviderName)
	for _, opt := range opts {
		opt(providerOptions)
	}

	clientOptions := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if providerOptions.URL != "" {
		clientOptions = append(clientOptions, option.WithBaseURL(providerOptions.URL))
	}

	return &AnthropicProvider{
		client:         anthropic.NewClient(clientOptions...),
		circuitBreaker: providerOptions.CircuitBreaker,
		metrics:        newModelMetricsProvider(providerOptions.Metrics),
	}, nil
}

func (p *AnthropicProvider) InvokeModel(ctx context.Context, model, systemPrompt string, messages []*Message, opts ...InvokeModelOption) (*Message, error) {
	if err := p.validateInput(model, systemPrompt, messages); err != nil {
		return nil, err
	}

	options := &InvokeModelOptions{MaxTokens: defaultAnthropicTokens}
	for _, opt := range opts {
		opt(options)
	}

	ctx, span := tracer.Start(ctx, "model.InvokeModel")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.provider", anthropicProviderName),
		attribute.String("model.name", model),
		attribute.Int("model.messages", len(messages)),
	)

	anthropicMessages, err := p.transformMessages(messages)
	if err != nil {
		return nil, err
	}

	request := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: options.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: anthropicMessages,
		Tools:    p.transformTools(options.Tools),
	}

	if p.circuitBreaker != nil && !p.circuitBreaker.Allow() {
		err := NewProviderError(anthropicProviderName, ProviderErrorKindUnavailable,
			fmt.Errorf("circuit breaker %s is open", p.circuitBreaker.Name()))
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	response, err := p.client.Messages.New(ctx, request)
	if err != nil {
		providerErr := p.parseError(err)
		p.recordResult(providerErr)
		p.metrics.ObserveCall(model, string(providerErr.Kind), time.Since(start))
		span.SetStatus(codes.Error, providerErr.Error())
		slog.WarnContext(ctx, "model invocation failed", "provider", anthropicProviderName, "model", model, "kind", providerErr.Kind, "error", err)
		return nil, providerErr
	}
	p.recordResult(nil)

	content := make([]ContentBlock, 0, len(response.Content))
	for _, block := range response.Content {
		switch block := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, &TextBlock{Text: block.Text})
		case anthropic.ToolUseBlock:
			content = append(content, &ToolCallBlock{
				ID:   block.ID,
				Tool: block.Name,
				Args: json.RawMessage(block.Input),
			})
		}
	}

	usage := Usage{
		InputTokens:      response.Usage.InputTokens,
		OutputTokens:     response.Usage.OutputTokens,
		CacheWriteTokens: response.Usage.CacheCreationInputTokens,
		CacheReadTokens:  response.Usage.CacheReadInputTokens,
	}
	p.metrics.ObserveCall(model, "ok", time.Since(start))
	p.metrics.AddTokens(model, usage)
	span.SetAttributes(
		attribute.Int64("model.input_tokens", usage.InputTokens),
		attribute.Int64("model.output_tokens", usage.OutputTokens),
	)

	return NewModelMessage(content, usage), nil
}

// recordResult feeds the circuit breaker. Failures caused by the caller do not
// say anything about the health of the provider.
func (p *AnthropicProvider) recordResult(err *ProviderError) {
	if p.circuitBreaker == nil {
		return
	}
	if err == nil {
		p.circuitBreaker.RecordResult(nil)
		return
	}

	switch err.Kind {
	case ProviderErrorKindCanceled, ProviderErrorKindInvalidRequest, ProviderErrorKindAuthentication:
		p.circuitBreaker.RecordResult(nil)
	default:
		p.circuitBreaker.RecordResult(err)
	}
}

func (p *AnthropicProvider) parseError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.Canceled):
		return NewProviderError(anthropicProviderName, ProviderErrorKindCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(anthropicProviderName, ProviderErrorKindTimeout, err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := NewProviderError(anthropicProviderName, kindForStatus(apiErr.StatusCode), err)
		providerErr.StatusCode = apiErr.StatusCode

		if apiErr.Response != nil {
			if retryAfter := apiErr.Response.Header.Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					providerErr.RetryAfter = time.Duration(seconds) * time.Second
				}
			}
		}
		if providerErr.Kind == ProviderErrorKindOverloaded && providerErr.RetryAfter == 0 {
			providerErr.RetryAfter = defaultOverloadedWait
		}
		return providerErr
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewProviderError(anthropicProviderName, ProviderErrorKindTimeout, err)
		}
		return NewProviderError(anthropicProviderName, ProviderErrorKindUnavailable, err)
	}

	return NewProviderError(anthropicProviderName, ProviderErrorKindUnknown, err)
}

func kindForStatus(status int) ProviderErrorKind {
	switch status {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return ProviderErrorKindInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		return ProviderErrorKindAuthentication
	case http.StatusTooManyRequests:
		return ProviderErrorKindRateLimitExceeded
	case 529:
		return ProviderErrorKindOverloaded
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return ProviderErrorKindUnavailable
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		return ProviderErrorKindTimeout
	default:
		if status >= 500 {
			return ProviderErrorKindInternal
		}
		return ProviderErrorKindUnknown
	}
}

func (p *AnthropicProvider) transformMessages(messages []*Message) ([]anthropic.MessageParam, error) {
	messages = dropOrphanedPrefix(messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages left after dropping orphaned tool results")
	}

	anthropicMessages := make([]anthropic.MessageParam, 0, len(messages))
	for _, message := range messages {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(message.Content))
		for _, b := range message.Content {
			switch block := b.(type) {
			case *TextBlock:
				if block.Text == "" {
					continue
				}
				blocks = append(blocks, anthropic.NewTextBlock(block.Text))
			case *ToolCallBlock:
				var input any = map[string]any{}
				if len(block.Args) > 0 {
					input = block.Args
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(block.ID, input, block.Tool))
			case *ToolResultBlock:
				blocks = append(blocks, anthropic.NewToolResultBlock(block.ID, block.Result, !block.Succeeded))
			default:
				return nil, fmt.Errorf("unsupported content block %T", b)
			}
		}
		if len(blocks) == 0 {
			continue
		}

		switch message.Source {
		case MessageSourceModel:
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
		default:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(blocks...))
		}
	}

	return anthropicMessages, nil
}

// dropOrphanedPrefix removes leading messages that cannot open a
// conversation. History eviction can cut between a tool call and its result,
// and the API rejects results whose call is gone.
func dropOrphanedPrefix(messages []*Message) []*Message {
	for len(messages) > 0 {
		first := messages[0]
		if first.Source != MessageSourceModel && !first.HasToolResults() {
			break
		}
		messages = messages[1:]
	}
	return messages
}

func (p *AnthropicProvider) transformTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	anthropicTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		schema := anthropic.ToolInputSchemaParam{
			Properties: tool.Schema["properties"],
		}
		if required, ok := tool.Schema["required"].([]string); ok {
			schema.Required = required
		}

		anthropicTools = append(anthropicTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: schema,
			},
		})
	}
	return anthropicTools
}

func (p *AnthropicProvider) validateInput(model, systemPrompt string, messages []*Message) error {
	if model == "" {
		return fmt.Errorf("model is required")
	}

	if systemPrompt == "" {
		return fmt.Errorf("system prompt is required")
	}

	if len(messages) == 0 {
		return fmt.Errorf("at least one message is required")
	}

	return nil
}
