package coinrank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/pkoukk/tiktoken-go"
)

const (
	defaultEncoding    = "o200k_base"
	defaultTokenLimit  = 4096
	llmMaxAttempts     = 5
	llmCallTimeout     = 15 * time.Second
	llmInitialBackoff  = time.Second
	defaultTemperature = 1.0
)

// LLMConfig describes a coin whose outcome is a chat model's yes/no answer to
// a question. Repeated answers at a non-zero temperature make it a noisy
// binary source like any other coin.
type LLMConfig struct {
	Prompt       string           `json:"prompt" yaml:"prompt"`
	OpenAIModel  openai.ChatModel `json:"openai_model" yaml:"openai_model"`
	OpenAIKey    string           `json:"-" yaml:"-"`
	OpenAIAPIURL string           `json:"openai_api_url" yaml:"openai_api_url"`
	Encoding     string           `json:"encoding" yaml:"encoding"`
	TokenLimit   int              `json:"token_limit" yaml:"token_limit"`
	Temperature  float64          `json:"temperature" yaml:"temperature"`
	DryRun       bool             `json:"dry_run" yaml:"dry_run"` // answer from a seeded fair coin instead of the API
	Seed         uint64           `json:"seed" yaml:"seed"`
	Logger       *slog.Logger     `json:"-" yaml:"-"`
}

func (c *LLMConfig) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" {
		return fmt.Errorf("prompt cannot be empty")
	}
	if c.TokenLimit <= 0 {
		return fmt.Errorf("token limit must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %v", c.Temperature)
	}
	// Only require API key if not using a custom endpoint
	if !c.DryRun && c.OpenAIAPIURL == "" && c.OpenAIKey == "" {
		return fmt.Errorf("openai key cannot be empty")
	}
	return nil
}

// withDefaults fills unset fields the way the CLI flags would.
func (c LLMConfig) withDefaults() LLMConfig {
	if c.OpenAIModel == "" {
		c.OpenAIModel = openai.ChatModelGPT4oMini
	}
	if c.Encoding == "" {
		c.Encoding = defaultEncoding
	}
	if c.TokenLimit == 0 {
		c.TokenLimit = defaultTokenLimit
	}
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.OpenAIKey == "" {
		c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	return c
}

type coinResponse struct {
	Outcome string `json:"outcome" jsonschema:"enum=heads,enum=tails" jsonschema_description:"heads for yes, tails for no"`
}

func generateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

var coinResponseSchema = generateSchema[coinResponse]()

// ResultSchema is the JSON schema of a search result as printed by the CLI.
func ResultSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	return reflector.Reflect(&Result{})
}

const promptDisclaimer = "\n\nREMEMBER to:\n" +
	"- Answer the question above with a single yes or no\n" +
	"- Respond with \"heads\" for yes and \"tails\" for no\n" +
	"- Respond in JSON format, with the following schema:\n  {\"outcome\": \"heads\" | \"tails\"}\n" +
	"- NEVER include a written reason/justification in your response!\n"

const invalidOutcomeStr = "Your last response was not valid JSON with an outcome of \"heads\" or \"tails\". Try again!"

// LLMSource asks a chat model the configured question once per observation.
type LLMSource struct {
	cfg       LLMConfig
	client    openai.Client
	transport *customTransport
	encoding  *tiktoken.Tiktoken
	dryRun    *BernoulliSource
	calls     int
}

func NewLLMSource(config LLMConfig) (*LLMSource, error) {
	cfg := config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, nil)).With("component", "coinrank-llm")
	}

	s := &LLMSource{cfg: cfg}
	if cfg.DryRun {
		s.dryRun = NewBernoulliSource(neutralEstimate, cfg.Seed)
	}

	// Use tiktoken for OpenAI endpoints, simple approximation for custom endpoints
	if cfg.OpenAIAPIURL == "" && !cfg.DryRun {
		encoding, err := tiktoken.GetEncoding(cfg.Encoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
		}
		s.encoding = encoding
	}

	if tokens := s.estimateTokens(s.prompt()); tokens > cfg.TokenLimit {
		return nil, fmt.Errorf("prompt needs %d tokens, more than the limit of %d", tokens, cfg.TokenLimit)
	}

	s.transport = &customTransport{Transport: http.DefaultTransport}
	clientOptions := []option.RequestOption{
		option.WithAPIKey(cfg.OpenAIKey),
		option.WithHTTPClient(&http.Client{Transport: s.transport}),
		option.WithMaxRetries(2),
	}

	// Add base URL option if specified
	if cfg.OpenAIAPIURL != "" {
		// Ensure the URL ends with a trailing slash
		baseURL := cfg.OpenAIAPIURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		clientOptions = append(clientOptions, option.WithBaseURL(baseURL))
	}
	s.client = openai.NewClient(clientOptions...)

	return s, nil
}

func (s *LLMSource) prompt() string {
	return s.cfg.Prompt + promptDisclaimer
}

func (s *LLMSource) estimateTokens(text string) int {
	if s.encoding != nil {
		return len(s.encoding.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// Calls reports how many observations the source has answered.
func (s *LLMSource) Calls() int {
	return s.calls
}

func (s *LLMSource) Observe(ctx context.Context) (Outcome, error) {
	s.calls++
	if s.dryRun != nil {
		s.cfg.Logger.Debug("Dry run API call", "call", s.calls)
		return s.dryRun.Observe(ctx)
	}
	return s.callOpenAI(ctx)
}

func (s *LLMSource) callOpenAI(ctx context.Context) (Outcome, error) {
	conversationHistory := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(s.prompt()),
	}
	backoff := llmInitialBackoff

	var lastErr error
	for attempt := 1; attempt <= llmMaxAttempts; attempt++ {
		s.transport.reset()
		callCtx, cancel := context.WithTimeout(ctx, llmCallTimeout)
		completion, err := s.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
			Messages: conversationHistory,
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
					JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:        "coin_response",
						Description: openai.String("A yes/no answer expressed as heads or tails"),
						Schema:      coinResponseSchema,
						Strict:      openai.Bool(true),
					},
				},
			},
			Model:       s.cfg.OpenAIModel,
			Temperature: openai.Float(s.cfg.Temperature),
		})
		cancel()

		if err == nil {
			if len(completion.Choices) == 0 {
				lastErr = fmt.Errorf("response has no choices")
				continue
			}
			content := strings.TrimSpace(completion.Choices[0].Message.Content)
			outcome, err := parseCoinResponse(content)
			if err == nil {
				s.cfg.Logger.Debug("LLM answered", "call", s.calls, "outcome", outcome.String(),
					"prompt_tokens", completion.Usage.PromptTokens, "completion_tokens", completion.Usage.CompletionTokens)
				return outcome, nil
			}
			lastErr = err
			s.cfg.Logger.Debug("Invalid LLM response", "attempt", attempt, "content", content, "error", err)
			conversationHistory = append(conversationHistory,
				openai.AssistantMessage(content),
				openai.UserMessage(invalidOutcomeStr),
			)
			continue
		}
		lastErr = err

		if ctx.Err() != nil {
			return Tails, ctx.Err()
		}

		if errors.Is(err, context.DeadlineExceeded) {
			s.cfg.Logger.Warn("Context deadline exceeded, retrying...", "attempt", attempt, "backoff", backoff)
			if err := sleepContext(ctx, backoff); err != nil {
				return Tails, err
			}
			backoff *= 2
			continue
		}

		if isRateLimited(err) {
			wait := backoff
			resetTokensStr := s.transport.Headers.Get("X-Ratelimit-Reset-Tokens")
			if resetDuration, perr := time.ParseDuration(resetTokensStr); perr == nil && resetDuration > 0 {
				wait = resetDuration
			} else {
				backoff *= 2
			}
			remainingTokens, _ := strconv.Atoi(s.transport.Headers.Get("X-Ratelimit-Remaining-Tokens"))
			s.cfg.Logger.Warn("Rate limit exceeded", "attempt", attempt, "wait", wait, "remaining_tokens", remainingTokens)
			if err := sleepContext(ctx, wait); err != nil {
				return Tails, err
			}
			continue
		}

		return Tails, fmt.Errorf("unexpected error: %w", err)
	}
	return Tails, fmt.Errorf("no valid answer after %d attempts: %w", llmMaxAttempts, lastErr)
}

// isRateLimited reports whether err is an API response with status 429.
func isRateLimited(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func parseCoinResponse(content string) (Outcome, error) {
	var resp coinResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return Tails, fmt.Errorf("error unmarshalling response: %w", err)
	}
	return ParseOutcome(resp.Outcome)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// customTransport keeps the status, headers and body of the last response so
// rate limit hints can be read after the SDK returns an error.
type customTransport struct {
	Transport  http.RoundTripper
	Headers    http.Header
	StatusCode int
	Body       []byte
}

func (t *customTransport) reset() {
	t.Headers = http.Header{}
	t.StatusCode = 0
	t.Body = nil
}

func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	t.Headers = resp.Header
	t.StatusCode = resp.StatusCode

	t.Body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	resp.Body = io.NopCloser(bytes.NewBuffer(t.Body))

	return resp, nil
}
