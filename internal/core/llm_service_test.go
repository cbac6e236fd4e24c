package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	"github.com/sharkyai/sharky/internal/store"
)

func TestBuildPrompt(t *testing.T) {
	var long []store.Message
	for i := 0; i < 12; i++ {
		long = append(long, store.Message{Role: store.RoleUser, Content: strconv.Itoa(i)})
	}

	tests := []struct {
		name    string
		history []store.Message
		message string
		want    string
	}{
		{
			name:    "no history",
			message: "hello",
			want:    "user: hello",
		},
		{
			name: "short history",
			history: []store.Message{
				{Role: store.RoleUser, Content: "hi"},
				{Role: store.RoleAssistant, Content: "hello!"},
			},
			message: "how are you",
			want:    "user: hi\nassistant: hello!\nuser: how are you",
		},
		{
			name:    "truncated to last ten",
			history: long,
			message: "next",
			want:    "user: 2\nuser: 3\nuser: 4\nuser: 5\nuser: 6\nuser: 7\nuser: 8\nuser: 9\nuser: 10\nuser: 11\nuser: next",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BuildPrompt(tt.history, tt.message); got != tt.want {
				t.Errorf("BuildPrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"http 429", &googleapi.Error{Code: http.StatusTooManyRequests}, ErrAIRateLimited},
		{"http 403", &googleapi.Error{Code: http.StatusForbidden}, ErrAIConfiguration},
		{"invalid key text", errors.New("API key not valid. Please pass a valid API key."), ErrAIConfiguration},
		{"quota text", errors.New("You exceeded your current quota"), ErrAIRateLimited},
		{"rate limit text", fmt.Errorf("rpc: %w", errors.New("rate limit reached")), ErrAIRateLimited},
		{"deadline", context.DeadlineExceeded, ErrAIUnavailable},
		{"other", errors.New("connection reset by peer"), ErrAIUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); !errors.Is(got, tt.want) {
				t.Errorf("classifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGeminiCompleter_MissingKeyIsConfigurationError(t *testing.T) {
	c := NewGeminiCompleter(GeminiConfig{}, zap.NewNop())

	_, err := c.Complete(context.Background(), "user: hi")
	if !errors.Is(err, ErrAIConfiguration) {
		t.Fatalf("err = %v, want ErrAIConfiguration", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close on unused completer: %v", err)
	}
}
