package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/config"

	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// tokenEarlyExpiry refreshes the access token this long before it expires.
const tokenEarlyExpiry = 5 * time.Minute

type cachedToken struct {
	AccessToken  string    `yaml:"access_token"`
	RefreshToken string    `yaml:"refresh_token,omitempty"`
	Expiry       time.Time `yaml:"expiry,omitempty"`
}

func loadTokenFile(filename string) (*cachedToken, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var tok cachedToken
	if err := yaml.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return &tok, nil
}

func saveTokenFile(filename string, tok *oauth2.Token) error {
	data, err := yaml.Marshal(&cachedToken{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o700); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o600)
}

// refreshSource trades the current refresh token for a new access token and
// persists the result to the token file.
type refreshSource struct {
	ctx       context.Context
	conf      *oauth2.Config
	tokenFile string

	mu           sync.Mutex
	refreshToken string
}

func (s *refreshSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, err := s.conf.TokenSource(s.ctx, &oauth2.Token{RefreshToken: s.refreshToken}).Token()
	if err != nil {
		return nil, err
	}
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	} else {
		tok.RefreshToken = s.refreshToken
	}

	if s.tokenFile != "" {
		if err := saveTokenFile(s.tokenFile, tok); err != nil {
			slog.Warn("Failed to cache cloud drive token", "file", s.tokenFile, "error", err)
		}
	}
	slog.Info("Refreshed cloud drive access token", "expiry", tok.Expiry)
	return tok, nil
}

// newDriveTokenSource prefers a cached token file over the configured tokens.
// Without a refresh token and client credentials the access token is used as
// is until the server rejects it.
func newDriveTokenSource(cfg config.CloudDriveConfig, client *http.Client) (oauth2.TokenSource, error) {
	tok := &oauth2.Token{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken}
	if cfg.TokenFile != "" {
		cached, err := loadTokenFile(cfg.TokenFile)
		switch {
		case err == nil:
			tok.AccessToken = cached.AccessToken
			tok.Expiry = cached.Expiry
			if cached.RefreshToken != "" {
				tok.RefreshToken = cached.RefreshToken
			}
		case !errors.Is(err, os.ErrNotExist):
			slog.Warn("Ignoring unreadable cloud drive token file", "file", cfg.TokenFile, "error", err)
		}
	}

	canRefresh := tok.RefreshToken != "" && cfg.ClientID != ""
	if tok.AccessToken == "" && !canRefresh {
		return nil, apperr.New(apperr.KindConfig, "init clouddrive",
			"cloud drive access token is required (or refresh_token with client_id)")
	}
	if !canRefresh {
		return oauth2.StaticTokenSource(tok), nil
	}

	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultDriveAPI
	}
	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  strings.TrimRight(apiURL, "/") + "/oauth/2.0/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	src := &refreshSource{
		ctx:          context.WithValue(context.Background(), oauth2.HTTPClient, client),
		conf:         conf,
		tokenFile:    cfg.TokenFile,
		refreshToken: tok.RefreshToken,
	}
	return oauth2.ReuseTokenSourceWithExpiry(tok, src, tokenEarlyExpiry), nil
}
