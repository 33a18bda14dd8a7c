package upstream

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"erp-sync-service/internal/logger"
	"erp-sync-service/internal/store"
)

// expirySafetyMargin is how far in the future a token expiry must be for the
// cached token to still be handed out.
const expirySafetyMargin = 60 * time.Second

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
}

// TokenSource exchanges a stored long-lived refresh credential for short-lived
// bearer tokens, caching the current one with its expiry.
type TokenSource struct {
	store        store.Store
	tokenURL     string
	clientID     string
	clientSecret string
	httpc        *http.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewTokenSource(st store.Store, tokenURL, clientID, clientSecret string, httpc *http.Client) *TokenSource {
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenSource{
		store:        st,
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpc:        httpc,
	}
}

// Token returns a bearer token valid for at least the safety margin,
// refreshing through the token endpoint when needed.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := time.Now()
	if ts.token != "" && ts.expires.After(now.Add(expirySafetyMargin)) {
		return ts.token, nil
	}

	creds, err := ts.store.GetCredentials(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read upstream credentials: %w", err)
	}

	if creds != nil && creds.AccessToken.Valid && creds.ExpiresAt.Valid &&
		creds.ExpiresAt.Time.After(now.Add(expirySafetyMargin)) {
		ts.token = creds.AccessToken.String
		ts.expires = creds.ExpiresAt.Time
		return ts.token, nil
	}

	return ts.refreshLocked(ctx, creds)
}

// ForceRefresh discards the cached token and performs one refresh exchange.
// Callers invoke it after an unauthorized response from a normal call.
func (ts *TokenSource) ForceRefresh(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.token = ""
	ts.expires = time.Time{}

	creds, err := ts.store.GetCredentials(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read upstream credentials: %w", err)
	}
	return ts.refreshLocked(ctx, creds)
}

func (ts *TokenSource) refreshLocked(ctx context.Context, creds *store.Credentials) (string, error) {
	if creds == nil || !creds.RefreshToken.Valid || creds.RefreshToken.String == "" {
		return "", ErrNoCredentials
	}
	if ts.clientID == "" || ts.clientSecret == "" {
		return "", fmt.Errorf("upstream client credentials not configured")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", ts.clientID)
	form.Set("client_secret", ts.clientSecret)
	form.Set("refresh_token", creds.RefreshToken.String)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := ts.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		logger.Log.Error("Token refresh rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return "", &APIError{Status: resp.StatusCode, Endpoint: "token", Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", fmt.Errorf("invalid token endpoint response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access token")
	}

	expires := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)

	// The upstream may rotate the refresh token; keep the old one otherwise.
	refresh := tr.RefreshToken
	if refresh == "" {
		refresh = creds.RefreshToken.String
	}

	saved := &store.Credentials{
		AccessToken:  sql.NullString{String: tr.AccessToken, Valid: true},
		RefreshToken: sql.NullString{String: refresh, Valid: true},
		ExpiresAt:    sql.NullTime{Time: expires, Valid: true},
		Scope:        sql.NullString{String: tr.Scope, Valid: tr.Scope != ""},
		TokenType:    sql.NullString{String: tr.TokenType, Valid: tr.TokenType != ""},
	}
	if err := ts.store.SaveCredentials(ctx, saved); err != nil {
		// Cache is still updated; the next process restart re-refreshes.
		logger.Log.Error("Failed to persist refreshed credentials", zap.Error(err))
	}

	ts.token = tr.AccessToken
	ts.expires = expires
	return ts.token, nil
}
