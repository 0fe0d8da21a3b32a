// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTokenTTL is assumed when the server's token carries no usable
// expiry claim.
const defaultTokenTTL = 45 * time.Minute

// tokenRefreshMargin is how far ahead of expiry a fresh token is fetched.
const tokenRefreshMargin = 30 * time.Second

// tokenManager exchanges a key/secret pair for a server token and caches it
// until shortly before expiry. The expiry is read from the JWT exp claim;
// the signature is the server's concern and is not verified here.
type tokenManager struct {
	tokenURL  string
	keyID     string
	keySecret string
	http      *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenManager(tokenURL, keyID, keySecret string, httpClient *http.Client) *tokenManager {
	return &tokenManager{
		tokenURL:  tokenURL,
		keyID:     keyID,
		keySecret: keySecret,
		http:      httpClient,
	}
}

// Token returns a valid token, fetching a new one when the cached token is
// missing or within the refresh margin of expiry.
func (m *tokenManager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" && time.Now().Before(m.expires.Add(-tokenRefreshMargin)) {
		return m.token, nil
	}

	token, expires, err := m.fetch(ctx)
	if err != nil {
		return "", err
	}
	m.token = token
	m.expires = expires
	return token, nil
}

// Invalidate drops the cached token so the next call fetches a fresh one.
// Called after a request is rejected as unauthorized.
func (m *tokenManager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.expires = time.Time{}
}

func (m *tokenManager) fetch(ctx context.Context) (string, time.Time, error) {
	payload, err := json.Marshal(map[string]string{
		"keyId":     m.keyID,
		"keySecret": m.keySecret,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.http.Do(req)
	if err != nil {
		return "", time.Time{}, &Error{Op: "token", Server: m.tokenURL, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", time.Time{}, &Error{
			Op:         "token",
			Server:     m.tokenURL,
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var tokenResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", time.Time{}, &Error{Op: "token", Server: m.tokenURL, Cause: err}
	}
	if tokenResp.Token == "" {
		return "", time.Time{}, &Error{Op: "token", Server: m.tokenURL, Message: "empty token in response"}
	}

	return tokenResp.Token, tokenExpiry(tokenResp.Token), nil
}

// tokenExpiry extracts the exp claim from the token. Falls back to a fixed
// TTL when the token is not a parseable JWT or has no expiry.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Now().Add(defaultTokenTTL)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Now().Add(defaultTokenTTL)
	}
	return exp.Time
}
