package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shadowcam/internal/services"
)

// Login exchanges credentials for an access token at {baseURL}/login.
func Login(ctx context.Context, client *http.Client, baseURL, username, password string) (Token, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Token{}, services.Wrap(services.ErrAuthRequired, "auth", "login", "username and password required", nil)
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	endpoint := strings.TrimRight(baseURL, "/") + "/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, services.Wrap(services.ErrUnreachable, "auth", "login", "invalid login endpoint", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Token{}, services.Wrap(services.ErrUnreachable, "auth", "login", "analysis service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Token{}, services.Wrap(services.ErrUnreachable, "auth", "login", "failed to read login response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Detail string `json:"detail"`
			Error  string `json:"error"`
		}
		msg := "login failed"
		if json.Unmarshal(body, &failure) == nil {
			if failure.Detail != "" {
				msg = failure.Detail
			} else if failure.Error != "" {
				msg = failure.Error
			}
		}
		return Token{}, services.Wrap(services.ErrAuthRequired, "auth", "login", msg, nil)
	}

	var tok Token
	if err := json.Unmarshal(body, &tok); err != nil || tok.Empty() {
		return Token{}, services.Wrap(services.ErrRemoteRejected, "auth", "login", "malformed login response", err)
	}
	tok.Username = username
	tok.ObtainedAt = time.Now().UTC()
	return tok, nil
}
