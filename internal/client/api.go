package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sharkyai/sharky/internal/apitypes"
	"github.com/sharkyai/sharky/internal/store"
)

// APIError is a failure reported by the chat API itself, as opposed to a
// transport error.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Session supplies the signed-in user. UserID is empty when nobody is
// signed in.
type Session interface {
	UserID() string
	Token(ctx context.Context) (string, error)
}

// StaticSession is a Session with a fixed user and bearer token.
type StaticSession struct {
	ID          string
	BearerToken string
}

func (s StaticSession) UserID() string                        { return s.ID }
func (s StaticSession) Token(context.Context) (string, error) { return s.BearerToken, nil }

// API is an HTTP client for the chat endpoints.
type API struct {
	baseURL    string
	session    Session
	httpClient *http.Client
}

func NewAPI(baseURL string, session Session, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    session,
		httpClient: httpClient,
	}
}

func (a *API) CreateChat(ctx context.Context) (*store.Chat, error) {
	var resp apitypes.CreateChatResponse
	if err := a.do(ctx, http.MethodPost, "/api/chat/create", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (a *API) ListChats(ctx context.Context) ([]store.Chat, error) {
	var resp apitypes.ListChatsResponse
	if err := a.do(ctx, http.MethodGet, "/api/chat/get", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (a *API) GetChat(ctx context.Context, chatID string) (*store.Chat, error) {
	var resp apitypes.GetChatResponse
	if err := a.do(ctx, http.MethodGet, "/api/chat/get?chatId="+url.QueryEscape(chatID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chat, nil
}

func (a *API) RenameChat(ctx context.Context, chatID, name string) error {
	return a.do(ctx, http.MethodPost, "/api/chat/rename", apitypes.RenameChatRequest{ChatID: chatID, Name: name}, nil)
}

func (a *API) DeleteChat(ctx context.Context, chatID string) error {
	return a.do(ctx, http.MethodPost, "/api/chat/delete", apitypes.DeleteChatRequest{ChatID: chatID}, nil)
}

func (a *API) SendMessage(ctx context.Context, req apitypes.SendMessageRequest) (*apitypes.SendMessageResponse, error) {
	var resp apitypes.SendMessageResponse
	if err := a.do(ctx, http.MethodPost, "/api/chat/ai", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	token, err := a.session.Token(ctx)
	if err != nil {
		return fmt.Errorf("get session token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var envelope apitypes.Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if res.StatusCode >= http.StatusBadRequest {
			return &APIError{Status: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if res.StatusCode >= http.StatusBadRequest || !envelope.Success {
		message := envelope.Reason()
		if message == "" {
			message = http.StatusText(res.StatusCode)
		}
		return &APIError{Status: res.StatusCode, Message: message}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// userMessage picks the text to show for a failed call.
func userMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "Request timed out. Please try again."
	}
	return fallback
}
