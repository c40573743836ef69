package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const tokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// Tokens are refreshed shortly before they expire.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client

	once sync.Once
	src  oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	ts.once.Do(func() {
		cfg := clientcredentials.Config{
			ClientID:     ts.ClientID,
			ClientSecret: ts.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		// The token source outlives any single request, so it must not capture ctx.
		base := context.WithoutCancel(ctx)
		base = context.WithValue(base, oauth2.HTTPClient, httpClient(ts.HTTPClient))
		ts.src = cfg.TokenSource(base)
	})
	tok, err := ts.src.Token()
	if err != nil {
		return "", fmt.Errorf("twitch token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	return tok.AccessToken, nil
}
