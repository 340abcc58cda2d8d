package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/confchat/internal/model"
)

// ErrNotFound reports that the requested resource does not exist on the
// server. For conversations this is a normal state, not a failure.
var ErrNotFound = errors.New("not found")

// API is the HTTP client for the chat backend.
type API struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

func NewAPI(baseURL string, tokens TokenSource) *API {
	return &API{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Login exchanges an email (and optional display name) for a session token.
func (a *API) Login(ctx context.Context, email, name string) (string, model.User, error) {
	body := struct {
		Email string `json:"email"`
		Name  string `json:"name,omitempty"`
	}{Email: email, Name: name}
	var out struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return "", model.User{}, fmt.Errorf("API.Login: %w", err)
	}
	return out.Token, out.User, nil
}

// Users lists every registered user, including the caller.
func (a *API) Users(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := a.do(ctx, http.MethodGet, "/api/users", nil, &users); err != nil {
		return nil, fmt.Errorf("API.Users: %w", err)
	}
	return users, nil
}

// Chats lists the caller's conversation summaries.
func (a *API) Chats(ctx context.Context) ([]model.ConversationSummary, error) {
	var summaries []model.ConversationSummary
	if err := a.do(ctx, http.MethodGet, "/api/chats", nil, &summaries); err != nil {
		return nil, fmt.Errorf("API.Chats: %w", err)
	}
	return summaries, nil
}

// ChatWith fetches the full personal conversation with the given user,
// messages included. Returns ErrNotFound when no conversation exists yet.
func (a *API) ChatWith(ctx context.Context, userID int64) (*model.Conversation, error) {
	var conv model.Conversation
	path := "/api/chats/" + strconv.FormatInt(userID, 10)
	if err := a.do(ctx, http.MethodGet, path, nil, &conv); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("API.ChatWith: %w", err)
	}
	return &conv, nil
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, err := a.tokens.Token(ctx); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		var e struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
