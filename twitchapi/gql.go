package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/onnwee/chatlens/models"
)

const gqlURL = "https://gql.twitch.tv/gql"

// maxCommentPages guards against an upstream that never stops paginating.
const maxCommentPages = 100000

// GQLClient reads chat transcripts and chapter markers from the public GQL endpoint.
type GQLClient struct {
	ClientID   string
	SHA256Hash string
	HTTPClient *http.Client
}

type gqlRequest struct {
	OperationName string         `json:"operationName,omitempty"`
	Query         string         `json:"query,omitempty"`
	Variables     map[string]any `json:"variables"`
	Extensions    *gqlExtensions `json:"extensions,omitempty"`
}

type gqlExtensions struct {
	PersistedQuery struct {
		Version    int    `json:"version"`
		SHA256Hash string `json:"sha256Hash"`
	} `json:"persistedQuery"`
}

type commentsResponse struct {
	Data struct {
		Video *struct {
			Comments struct {
				Edges []struct {
					Cursor string `json:"cursor"`
					Node   struct {
						ID                   string    `json:"id"`
						CreatedAt            time.Time `json:"createdAt"`
						ContentOffsetSeconds int       `json:"contentOffsetSeconds"`
						Commenter            *struct {
							ID          string `json:"id"`
							Login       string `json:"login"`
							DisplayName string `json:"displayName"`
						} `json:"commenter"`
						Message struct {
							Fragments []struct {
								Text string `json:"text"`
							} `json:"fragments"`
							UserColor  string `json:"userColor"`
							UserBadges []struct {
								SetID   string `json:"setID"`
								Version string `json:"version"`
							} `json:"userBadges"`
						} `json:"message"`
					} `json:"node"`
				} `json:"edges"`
				PageInfo struct {
					HasNextPage bool `json:"hasNextPage"`
				} `json:"pageInfo"`
			} `json:"comments"`
		} `json:"video"`
	} `json:"data"`
}

func (c *GQLClient) post(ctx context.Context, source string, body gqlRequest, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return doJSON(ctx, c.HTTPClient, source, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, gqlURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Client-ID", c.ClientID)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, out)
}

// DownloadTranscript pages through every chat comment of a broadcast. Comments without
// commenter information are skipped and duplicate ids are kept once, first occurrence wins.
func (c *GQLClient) DownloadTranscript(ctx context.Context, videoID string) ([]models.Message, error) {
	if c.ClientID == "" || c.SHA256Hash == "" {
		return nil, errors.New("missing chat client id or persisted query hash")
	}
	logger := slog.Default().With(slog.String("component", "gql"), slog.String("video_id", videoID))

	var (
		out    []models.Message
		seen   = make(map[string]struct{})
		cursor string
	)
	for page := 0; page < maxCommentPages; page++ {
		req := gqlRequest{
			OperationName: "VideoCommentsByOffsetOrCursor",
			Variables:     map[string]any{"videoID": videoID},
			Extensions:    &gqlExtensions{},
		}
		req.Extensions.PersistedQuery.Version = 1
		req.Extensions.PersistedQuery.SHA256Hash = c.SHA256Hash
		if cursor != "" {
			req.Variables["cursor"] = cursor
		} else {
			req.Variables["contentOffsetSeconds"] = 0
		}

		var resp commentsResponse
		if err := c.post(ctx, "gql_comments", req, &resp); err != nil {
			return nil, err
		}
		if resp.Data.Video == nil {
			if page == 0 {
				return nil, ErrNotFound
			}
			break
		}
		comments := resp.Data.Video.Comments
		if len(comments.Edges) == 0 {
			break
		}
		for _, e := range comments.Edges {
			n := e.Node
			if n.Commenter == nil {
				logger.Debug("skipping comment without commenter", slog.String("comment_id", n.ID))
				continue
			}
			if _, dup := seen[n.ID]; dup {
				continue
			}
			seen[n.ID] = struct{}{}

			var body strings.Builder
			for _, f := range n.Message.Fragments {
				body.WriteString(f.Text)
			}
			badges := make([]models.Badge, 0, len(n.Message.UserBadges))
			for _, b := range n.Message.UserBadges {
				badges = append(badges, models.Badge{SetID: b.SetID, Version: b.Version})
			}
			out = append(out, models.Message{
				ID:            n.ID,
				CreatedAt:     n.CreatedAt,
				OffsetSeconds: n.ContentOffsetSeconds,
				Commenter: models.Commenter{
					ID:          n.Commenter.ID,
					Login:       n.Commenter.Login,
					DisplayName: strings.TrimSpace(n.Commenter.DisplayName),
				},
				Content: models.MessageContent{
					Body:      body.String(),
					UserColor: n.Message.UserColor,
					Badges:    badges,
				},
			})
		}
		if !comments.PageInfo.HasNextPage {
			break
		}
		next := comments.Edges[len(comments.Edges)-1].Cursor
		if next == "" || next == cursor {
			logger.Warn("comment cursor did not advance, stopping", slog.Int("page", page))
			break
		}
		cursor = next
	}
	logger.Info("transcript downloaded", slog.Int("messages", len(out)))
	return out, nil
}

const chaptersQuery = `query($id: ID!) {
  video(id: $id) {
    moments(first: 100, momentRequestType: VIDEO_CHAPTER_MARKERS) {
      edges { node {
        positionMilliseconds
        durationMilliseconds
        description
        details { ... on GameChangeMomentDetails { game { displayName } } }
      } }
    }
  }
}`

// Chapters returns the broadcast's chapter markers as cumulative category segments.
// A broadcast without chapters yields nil.
func (c *GQLClient) Chapters(ctx context.Context, videoID string) ([]models.CategorySegment, error) {
	if c.ClientID == "" {
		return nil, errors.New("missing chat client id")
	}
	var resp struct {
		Data struct {
			Video *struct {
				Moments struct {
					Edges []struct {
						Node struct {
							PositionMilliseconds int    `json:"positionMilliseconds"`
							DurationMilliseconds int    `json:"durationMilliseconds"`
							Description          string `json:"description"`
							Details              struct {
								Game *struct {
									DisplayName string `json:"displayName"`
								} `json:"game"`
							} `json:"details"`
						} `json:"node"`
					} `json:"edges"`
				} `json:"moments"`
			} `json:"video"`
		} `json:"data"`
	}
	req := gqlRequest{Query: chaptersQuery, Variables: map[string]any{"id": videoID}}
	if err := c.post(ctx, "gql_chapters", req, &resp); err != nil {
		return nil, err
	}
	if resp.Data.Video == nil {
		return nil, fmt.Errorf("chapters for %s: %w", videoID, ErrNotFound)
	}
	edges := resp.Data.Video.Moments.Edges
	if len(edges) == 0 {
		return nil, nil
	}
	sort.SliceStable(edges, func(i, j int) bool {
		return edges[i].Node.PositionMilliseconds < edges[j].Node.PositionMilliseconds
	})

	segs := make([]models.CategorySegment, 0, len(edges))
	prevEnd := 0
	for _, e := range edges {
		name := e.Node.Description
		if e.Node.Details.Game != nil && e.Node.Details.Game.DisplayName != "" {
			name = e.Node.Details.Game.DisplayName
		}
		end := (e.Node.PositionMilliseconds + e.Node.DurationMilliseconds) / 1000
		if end < prevEnd {
			end = prevEnd
		}
		segs = append(segs, models.CategorySegment{Category: name, EndTime: end, Duration: end - prevEnd})
		prevEnd = end
	}
	return segs, nil
}
