package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/previdia/case-pipeline/internal/resilience"
)

// sdkClient implements Client using the official anthropic-sdk-go. Every
// call waits on a shared rate limiter and carries a bounded timeout so one
// slow gateway call cannot block a whole pipeline stage.
type sdkClient struct {
	client  sdk.Client
	limiter *rate.Limiter
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// Options tunes the SDK-backed client.
type Options struct {
	// RequestsPerMin caps outgoing request rate. Zero disables limiting.
	RequestsPerMin float64
	// Timeout bounds each CreateMessage call. Zero means 120s.
	Timeout time.Duration
}

// NewClient creates a new Anthropic client backed by the SDK.
func NewClient(apiKey string, opts Options) Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMin > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMin/60.0), 1)
	}
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		limiter: limiter,
		breaker: resilience.NewCircuitBreaker("anthropic", resilience.CircuitBreakerConfig{}),
		timeout: timeout,
	}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "anthropic: rate limiter")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  toSDKMessages(req.Messages),
	}
	if len(req.System) > 0 {
		params.System = toSDKSystemBlocks(req.System)
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	// The breaker sees classified errors, so only transient gateway
	// failures count toward opening the circuit.
	msg, err := resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (*sdk.Message, error) {
		m, err := c.client.Messages.New(ctx, params)
		if err != nil {
			return nil, classifyError(err)
		}
		return m, nil
	})
	if err != nil {
		return nil, err
	}

	return fromSDKMessage(msg), nil
}

// classifyError maps SDK/transport failures onto the gateway error taxonomy
// so callers can distinguish rate-limit, quota-exhausted and timeout.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.NewGatewayError(err, resilience.KindTimeout, 0)
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := resilience.KindForHTTPStatus(apiErr.StatusCode)
		return resilience.NewGatewayError(err, kind, apiErr.StatusCode)
	}
	if resilience.IsTransient(err) {
		return resilience.NewGatewayError(err, resilience.KindServer, 0)
	}
	return eris.Wrap(err, "anthropic: create message")
}

// --- SDK type conversion helpers ---

func toSDKMessages(msgs []Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, len(msgs))
	for i, m := range msgs {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Documents)+1)
		for _, d := range m.Documents {
			blocks = append(blocks, toSDKDocumentBlock(d))
		}
		blocks = append(blocks, sdk.NewTextBlock(m.Content))
		switch m.Role {
		case "assistant":
			out[i] = sdk.NewAssistantMessage(blocks...)
		default:
			out[i] = sdk.NewUserMessage(blocks...)
		}
	}
	return out
}

func toSDKDocumentBlock(d DocumentPayload) sdk.ContentBlockParamUnion {
	encoded := base64.StdEncoding.EncodeToString(d.Data)
	if d.MediaType == "application/pdf" {
		return sdk.NewDocumentBlock(sdk.Base64PDFSourceParam{Data: encoded})
	}
	return sdk.NewImageBlockBase64(d.MediaType, encoded)
}

func toSDKSystemBlocks(blocks []SystemBlock) []sdk.TextBlockParam {
	out := make([]sdk.TextBlockParam, len(blocks))
	for i, b := range blocks {
		out[i] = sdk.TextBlockParam{
			Text: b.Text,
		}
		if b.CacheControl != nil {
			cc := sdk.NewCacheControlEphemeralParam()
			if b.CacheControl.TTL != "" {
				cc.TTL = sdk.CacheControlEphemeralTTL(b.CacheControl.TTL)
			}
			out[i].CacheControl = cc
		}
	}
	return out
}

func fromSDKMessage(msg *sdk.Message) *MessageResponse {
	blocks := make([]ContentBlock, 0, len(msg.Content))
	for _, b := range msg.Content {
		blocks = append(blocks, ContentBlock{
			Type: b.Type,
			Text: b.Text,
		})
	}

	return &MessageResponse{
		ID:           msg.ID,
		Model:        string(msg.Model),
		Content:      blocks,
		StopReason:   string(msg.StopReason),
		StopSequence: msg.StopSequence,
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}
