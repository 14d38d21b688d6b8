package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Rod082213/teams-clone/models"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Title   string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Title, e.Message)
	}
	return fmt.Sprintf("%s (status %d)", e.Title, e.Status)
}

// HTTPAPI talks to the server's REST endpoints.
type HTTPAPI struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPAPI(baseURL string) *HTTPAPI {
	return &HTTPAPI{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns the bearer token obtained by Login or Register.
func (a *HTTPAPI) Token() string { return a.token }

type authResult struct {
	Token string         `json:"token"`
	User  models.Profile `json:"user"`
}

func (a *HTTPAPI) Login(ctx context.Context, username, password string) (models.Profile, error) {
	return a.authenticate(ctx, "/api/login", username, password)
}

func (a *HTTPAPI) Register(ctx context.Context, username, password string) (models.Profile, error) {
	return a.authenticate(ctx, "/api/register", username, password)
}

func (a *HTTPAPI) authenticate(ctx context.Context, path, username, password string) (models.Profile, error) {
	var res authResult
	body := map[string]string{"username": username, "password": password}
	if err := a.doJSON(ctx, http.MethodPost, path, body, &res); err != nil {
		return models.Profile{}, err
	}
	a.token = res.Token
	return res.User, nil
}

func (a *HTTPAPI) Lookup(ctx context.Context, username string) (models.Profile, error) {
	var p models.Profile
	err := a.doJSON(ctx, http.MethodPost, "/api/users/lookup", map[string]string{"username": username}, &p)
	return p, err
}

func (a *HTTPAPI) CreateChat(ctx context.Context, name string, isGroup bool, participantIDs []string) (models.Chat, error) {
	var chat models.Chat
	body := map[string]any{"name": name, "is_group": isGroup, "participant_ids": participantIDs}
	err := a.doJSON(ctx, http.MethodPost, "/api/chats", body, &chat)
	return chat, err
}

func (a *HTTPAPI) ListChats(ctx context.Context) ([]models.Chat, error) {
	var chats []models.Chat
	err := a.doJSON(ctx, http.MethodGet, "/api/chats", nil, &chats)
	return chats, err
}

func (a *HTTPAPI) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	err := a.doJSON(ctx, http.MethodGet, "/api/chats/"+chatID+"/messages", nil, &msgs)
	return msgs, err
}

func (a *HTTPAPI) DeleteChat(ctx context.Context, chatID string) error {
	return a.doJSON(ctx, http.MethodDelete, "/api/chats/"+chatID, nil, nil)
}

func (a *HTTPAPI) Block(ctx context.Context, userID string) error {
	return a.doJSON(ctx, http.MethodPost, "/api/users/block", map[string]string{"user_id": userID}, nil)
}

func (a *HTTPAPI) Unblock(ctx context.Context, userID string) error {
	return a.doJSON(ctx, http.MethodDelete, "/api/users/block/"+userID, nil, nil)
}

// UpdateProfile changes the username and/or avatar. The token is replaced
// with the one the server issues for the updated profile.
func (a *HTTPAPI) UpdateProfile(ctx context.Context, username, avatarName string, avatar []byte) (models.Profile, error) {
	var fields map[string]string
	if username != "" {
		fields = map[string]string{"username": username}
	}
	req, err := a.multipart(ctx, http.MethodPut, "/api/profile", fields, "avatar", avatarName, avatar)
	if err != nil {
		return models.Profile{}, err
	}
	var res authResult
	if err := a.do(req, &res); err != nil {
		return models.Profile{}, err
	}
	a.token = res.Token
	return res.User, nil
}

func (a *HTTPAPI) UploadImage(ctx context.Context, filename string, data []byte) (string, error) {
	req, err := a.multipart(ctx, http.MethodPost, "/api/upload-image", nil, "image", filename, data)
	if err != nil {
		return "", err
	}

	var res struct {
		ImageURL string `json:"image_url"`
	}
	if err := a.do(req, &res); err != nil {
		return "", err
	}
	return res.ImageURL, nil
}

// multipart builds a form request. The file part is left out when data is nil.
func (a *HTTPAPI) multipart(ctx context.Context, method, path string, fields map[string]string, fileField, filename string, data []byte) (*http.Request, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if data != nil {
		part, err := mw.CreateFormFile(fileField, filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

func (a *HTTPAPI) doJSON(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.do(req, out)
}

func (a *HTTPAPI) do(req *http.Request, out any) error {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Title: e.Error, Message: e.Message}
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
