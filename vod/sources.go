package vod

import (
	"context"
	"errors"

	"github.com/onnwee/chatlens/models"
	"github.com/onnwee/chatlens/twitchapi"
)

// Sources are the upstream collaborators of the collect stage.
type Sources interface {
	GetBroadcastInfo(ctx context.Context, id string) (*models.BroadcastInfo, error)
	GetStreamerID(ctx context.Context, id string) (string, error)
	// GetEmotes never fails; unavailable providers yield empty lists.
	GetEmotes(ctx context.Context, streamerID string) models.EmoteCatalog
	DownloadTranscript(ctx context.Context, id string) ([]models.Message, error)
	// GetCategorySegments returns nil when no segment data exists.
	GetCategorySegments(ctx context.Context, id string) ([]models.CategorySegment, error)
}

// TwitchSources implements Sources with the Twitch and emote provider clients.
type TwitchSources struct {
	Helix  *twitchapi.HelixClient
	GQL    *twitchapi.GQLClient
	Emotes *twitchapi.EmoteClient
}

func (s *TwitchSources) GetBroadcastInfo(ctx context.Context, id string) (*models.BroadcastInfo, error) {
	return s.Helix.GetVideo(ctx, id)
}

func (s *TwitchSources) GetStreamerID(ctx context.Context, id string) (string, error) {
	info, err := s.Helix.GetVideo(ctx, id)
	if err != nil {
		return "", err
	}
	if info.UserID == "" {
		return "", errors.New("broadcast has no owner")
	}
	return info.UserID, nil
}

func (s *TwitchSources) GetEmotes(ctx context.Context, streamerID string) models.EmoteCatalog {
	return s.Emotes.Load(ctx, streamerID)
}

func (s *TwitchSources) DownloadTranscript(ctx context.Context, id string) ([]models.Message, error) {
	return s.GQL.DownloadTranscript(ctx, id)
}

func (s *TwitchSources) GetCategorySegments(ctx context.Context, id string) ([]models.CategorySegment, error) {
	return s.GQL.Chapters(ctx, id)
}
