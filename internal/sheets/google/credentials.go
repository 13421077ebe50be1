package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	goauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var errNoCredentials = errors.New("missing Google credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_APPLICATION_CREDENTIALS, or GOOGLE_OAUTH_CLIENT_JSON/FILE with a token from envelopes-oauth-init)")

// newSheetsService builds a Sheets service whose requests go through the
// pooled transport with tokens attached by oauth2.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	ts, err := tokenSource(ctx)
	if err != nil {
		return nil, err
	}

	pooled := newHTTPClientWithPooling()
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, pooled), ts)
	client.Timeout = pooled.Timeout

	service, err := gsheet.NewService(ctx, goption.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// tokenSource prefers service account credentials and falls back to a
// user OAuth token.
func tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	saJSON, err := readSecret("GOOGLE_SERVICE_ACCOUNT_JSON", "GOOGLE_SERVICE_ACCOUNT_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	if saJSON != nil {
		slog.InfoContext(ctx, "Using service account credentials", "scope", gsheet.SpreadsheetsScope)
		jwtCfg, err := goauth.JWTConfigFromJSON(saJSON, gsheet.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("service account credentials: %w", err)
		}
		return jwtCfg.TokenSource(ctx), nil
	}

	clientJSON, err := readSecret("GOOGLE_OAUTH_CLIENT_JSON", "GOOGLE_OAUTH_CLIENT_FILE")
	if err != nil {
		return nil, fmt.Errorf("read oauth client file: %w", err)
	}
	if clientJSON == nil {
		return nil, errNoCredentials
	}
	oauthCfg, err := OAuthConfig(clientJSON)
	if err != nil {
		return nil, err
	}

	tokenJSON, err := readSecret("GOOGLE_OAUTH_TOKEN_JSON", "GOOGLE_OAUTH_TOKEN_FILE")
	if err != nil {
		return nil, fmt.Errorf("read oauth token file: %w", err)
	}
	if tokenJSON == nil {
		return nil, errors.New("missing oauth token (set GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE)")
	}
	tok, err := ParseToken(tokenJSON)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Using OAuth user credentials", "scope", gsheet.SpreadsheetsScope)
	return oauthCfg.TokenSource(ctx, tok), nil
}

// OAuthConfig parses an installed-app client secret for the Sheets scope.
func OAuthConfig(clientJSON []byte) (*oauth2.Config, error) {
	cfg, err := goauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	return cfg, nil
}

// ParseToken decodes a token saved by envelopes-oauth-init. Only a token
// with a refresh token can outlive its first hour.
func ParseToken(tokenJSON []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("parse oauth token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("parse oauth token: token has neither access nor refresh token")
	}
	return &tok, nil
}

// readSecret returns the inline value of jsonKey, or the content of the
// first non-empty file key. Nil means none is set.
func readSecret(jsonKey string, fileKeys ...string) ([]byte, error) {
	if v := strings.TrimSpace(os.Getenv(jsonKey)); v != "" {
		return []byte(v), nil
	}
	for _, key := range fileKeys {
		path := strings.TrimSpace(os.Getenv(key))
		if path == "" {
			continue
		}
		return os.ReadFile(path)
	}
	return nil, nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API
// with connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}
