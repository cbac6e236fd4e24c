package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/sharkyai/sharky/internal/apitypes"
	"github.com/sharkyai/sharky/internal/store"
)

const (
	// HistoryLimit bounds how many prior messages are sent as context.
	HistoryLimit = apitypes.HistoryLimit

	defaultModelName = "gemini-2.0-flash"
	defaultTimeout   = 60 * time.Second
)

// Completer turns a prompt into generated text. Errors are one of
// ErrAIConfiguration, ErrAIRateLimited or ErrAIUnavailable (possibly wrapped).
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// BuildPrompt flattens the trailing HistoryLimit messages into
// "role: content" lines and appends the new user turn.
func BuildPrompt(history []store.Message, message string) string {
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}

	var b strings.Builder
	for _, m := range history {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString(store.RoleUser)
	b.WriteString(": ")
	b.WriteString(message)
	return b.String()
}

type GeminiConfig struct {
	APIKey       string
	Model        string
	SystemPrompt string
	Timeout      time.Duration
}

// GeminiCompleter calls the Gemini API. The client is created on the first
// request, so a missing key surfaces per request instead of at startup.
type GeminiCompleter struct {
	cfg    GeminiConfig
	logger *zap.Logger

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiCompleter(cfg GeminiConfig, logger *zap.Logger) *GeminiCompleter {
	if cfg.Model == "" {
		cfg.Model = defaultModelName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &GeminiCompleter{cfg: cfg, logger: logger}
}

func (c *GeminiCompleter) getClient() (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not set", ErrAIConfiguration)
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(c.cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("%w: create genai client: %v", ErrAIConfiguration, err)
	}
	c.client = client
	return client, nil
}

func (c *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	client, err := c.getClient()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	model := client.GenerativeModel(c.cfg.Model)
	if c.cfg.SystemPrompt != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(c.cfg.SystemPrompt)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classifyError(err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		c.logger.Warn("gemini response had no candidates", zap.String("model", c.cfg.Model))
		return "", nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			text.WriteString(string(txt))
		} else {
			c.logger.Debug("skipping non-text response part", zap.String("type", fmt.Sprintf("%T", part)))
		}
	}
	return text.String(), nil
}

func (c *GeminiCompleter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// classifyError maps an upstream failure onto the three AI error kinds.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: request timed out: %v", ErrAIUnavailable, err)
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrAIRateLimited, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAIConfiguration, err)
		}
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if strings.HasPrefix(aerr.Reason(), "API_KEY") {
			return fmt.Errorf("%w: %v", ErrAIConfiguration, err)
		}
		switch aerr.HTTPCode() {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrAIRateLimited, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAIConfiguration, err)
		}
		if st := aerr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.ResourceExhausted:
				return fmt.Errorf("%w: %v", ErrAIRateLimited, err)
			case codes.Unauthenticated, codes.PermissionDenied:
				return fmt.Errorf("%w: %v", ErrAIConfiguration, err)
			}
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api_key"), strings.Contains(msg, "api key"):
		return fmt.Errorf("%w: %v", ErrAIConfiguration, err)
	case strings.Contains(msg, "quota"), strings.Contains(msg, "rate limit"), strings.Contains(msg, "resource_exhausted"):
		return fmt.Errorf("%w: %v", ErrAIRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrAIUnavailable, err)
}
