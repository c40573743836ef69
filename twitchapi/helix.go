// Package twitchapi contains the upstream collaborators of the collection pipeline: Helix for
// broadcast metadata (with an app access token), the public GQL endpoint for chat transcripts
// and chapter markers, and the third-party emote providers.
package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/onnwee/chatlens/models"
)

const helixVideosURL = "https://api.twitch.tv/helix/videos"

// HelixClient provides the metadata lookups needed for collection.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

// GetVideo fetches metadata for one archived broadcast. It returns ErrNotFound when
// the broadcast does not exist or is no longer available.
func (hc *HelixClient) GetVideo(ctx context.Context, id string) (*models.BroadcastInfo, error) {
	if id == "" {
		return nil, fmt.Errorf("video id empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	var body struct {
		Data []struct {
			ID        string    `json:"id"`
			UserID    string    `json:"user_id"`
			UserLogin string    `json:"user_login"`
			UserName  string    `json:"user_name"`
			Title     string    `json:"title"`
			URL       string    `json:"url"`
			ViewCount int       `json:"view_count"`
			CreatedAt time.Time `json:"created_at"`
			Duration  string    `json:"duration"`
		} `json:"data"`
	}
	err = doJSON(ctx, hc.HTTPClient, "helix", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixVideosURL+"?"+url.Values{"id": {id}}.Encode(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		return req, nil
	}, &body)
	if err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, ErrNotFound
	}
	v := body.Data[0]
	return &models.BroadcastInfo{
		ID:              v.ID,
		UserID:          v.UserID,
		UserLogin:       v.UserLogin,
		UserName:        v.UserName,
		Title:           v.Title,
		URL:             v.URL,
		ViewCount:       v.ViewCount,
		CreatedAt:       v.CreatedAt,
		Duration:        v.Duration,
		DurationSeconds: ParseDuration(v.Duration),
	}, nil
}

// ParseDuration converts Helix durations like "3h15m42s" to seconds.
func ParseDuration(s string) int {
	var total, n int
	digits := false
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
			digits = true
			continue
		}
		if !digits {
			continue
		}
		switch r {
		case 'h':
			total += n * 3600
		case 'm':
			total += n * 60
		case 's':
			total += n
		}
		n, digits = 0, false
	}
	return total
}

var (
	videoIDPattern  = regexp.MustCompile(`^\d+$`)
	videoURLPattern = regexp.MustCompile(`^(?:https?://)?(?:www\.|m\.)?twitch\.tv/videos/(\d+)(?:[/?#].*)?$`)
)

// ParseVideoID accepts a bare numeric broadcast id or a twitch.tv/videos/<id> URL.
func ParseVideoID(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if videoIDPattern.MatchString(ref) {
		return ref, nil
	}
	if m := videoURLPattern.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("not a twitch video reference: %q", ref)
}
