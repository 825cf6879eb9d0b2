package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// UserInfo is the profile returned by the enrichment endpoint.
type UserInfo struct {
	DisplayName       string   `json:"displayName"`
	Mail              string   `json:"mail"`
	UserPrincipalName string   `json:"userPrincipalName"`
	Roles             []string `json:"roles"`
}

// Email prefers the mail attribute and falls back to the principal name.
func (u UserInfo) Email() string {
	if u.Mail != "" {
		return u.Mail
	}
	return u.UserPrincipalName
}

// UserInfoClient fetches the signed-in user's profile with their access token.
type UserInfoClient struct {
	client  *http.Client
	baseURL string
}

// NewUserInfoClient creates a client for the profile endpoint at url.
func NewUserInfoClient(client *http.Client, url string) *UserInfoClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &UserInfoClient{client: client, baseURL: url}
}

// Fetch retrieves the profile for accessToken.
func (c *UserInfoClient) Fetch(ctx context.Context, accessToken string) (UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return UserInfo{}, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return UserInfo{}, fmt.Errorf("call user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return UserInfo{}, fmt.Errorf("user info: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return UserInfo{}, fmt.Errorf("decode user info: %w", err)
	}
	return info, nil
}
