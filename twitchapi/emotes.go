package twitchapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/chatlens/models"
)

var (
	ffzRoomURL      = "https://api.frankerfacez.com/v1/room/id/%s"
	bttvUserURL     = "https://api.betterttv.net/3/cached/users/twitch/%s"
	sevenTVURL      = "https://7tv.io/v3/users/twitch/%s"
	bttvEmoteCDN    = "https://cdn.betterttv.net/emote/%s/1x"
	sevenTVEmoteCDN = "https://cdn.7tv.app/emote/%s/1x"
)

// EmoteClient loads a channel's third-party emotes.
type EmoteClient struct {
	HTTPClient *http.Client
}

// Load fetches the FFZ, BTTV and 7TV emotes of a channel concurrently. A provider that
// fails contributes an empty list; Load itself never fails.
func (c *EmoteClient) Load(ctx context.Context, channelID string) models.EmoteCatalog {
	logger := slog.Default().With(slog.String("component", "emotes"), slog.String("channel_id", channelID))
	fetchers := map[string]func(context.Context, string) ([]models.Emote, error){
		models.PlatformFFZ:     c.ffz,
		models.PlatformBTTV:    c.bttv,
		models.PlatformSevenTV: c.sevenTV,
	}
	results := make([][]models.Emote, len(models.Platforms))

	var g errgroup.Group
	for i, platform := range models.Platforms {
		fetch := fetchers[platform]
		g.Go(func() error {
			emotes, err := fetch(ctx, channelID)
			if err != nil {
				logger.Warn("emote provider unavailable", slog.String("platform", platform), slog.Any("err", err))
				emotes = nil
			}
			results[i] = emotes
			return nil
		})
	}
	_ = g.Wait()

	catalog := make(models.EmoteCatalog, len(models.Platforms))
	for i, platform := range models.Platforms {
		if results[i] == nil {
			results[i] = []models.Emote{}
		}
		catalog[platform] = results[i]
	}
	logger.Info("emotes loaded",
		slog.Int(models.PlatformFFZ, len(catalog[models.PlatformFFZ])),
		slog.Int(models.PlatformBTTV, len(catalog[models.PlatformBTTV])),
		slog.Int(models.PlatformSevenTV, len(catalog[models.PlatformSevenTV])))
	return catalog
}

func (c *EmoteClient) get(ctx context.Context, source, u string, out any) error {
	return doJSON(ctx, c.HTTPClient, source, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}, out)
}

func (c *EmoteClient) ffz(ctx context.Context, channelID string) ([]models.Emote, error) {
	var body struct {
		Sets map[string]struct {
			Emoticons []struct {
				Name string            `json:"name"`
				URLs map[string]string `json:"urls"`
			} `json:"emoticons"`
		} `json:"sets"`
	}
	if err := c.get(ctx, "ffz", fmt.Sprintf(ffzRoomURL, channelID), &body); err != nil {
		return nil, err
	}
	setIDs := make([]string, 0, len(body.Sets))
	for id := range body.Sets {
		setIDs = append(setIDs, id)
	}
	sort.Strings(setIDs)

	var out []models.Emote
	for _, id := range setIDs {
		for _, e := range body.Sets[id].Emoticons {
			u, ok := e.URLs["1"]
			if !ok {
				// Fall back to the smallest available scale.
				keys := make([]string, 0, len(e.URLs))
				for k := range e.URLs {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				if len(keys) > 0 {
					u = e.URLs[keys[0]]
				}
			}
			out = append(out, models.Emote{Name: e.Name, URL: u})
		}
	}
	return out, nil
}

func (c *EmoteClient) bttv(ctx context.Context, channelID string) ([]models.Emote, error) {
	type emote struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}
	var body struct {
		ChannelEmotes []emote `json:"channelEmotes"`
		SharedEmotes  []emote `json:"sharedEmotes"`
	}
	if err := c.get(ctx, "bttv", fmt.Sprintf(bttvUserURL, channelID), &body); err != nil {
		return nil, err
	}
	out := make([]models.Emote, 0, len(body.ChannelEmotes)+len(body.SharedEmotes))
	for _, e := range append(body.ChannelEmotes, body.SharedEmotes...) {
		out = append(out, models.Emote{Name: e.Code, URL: fmt.Sprintf(bttvEmoteCDN, e.ID)})
	}
	return out, nil
}

func (c *EmoteClient) sevenTV(ctx context.Context, channelID string) ([]models.Emote, error) {
	var body struct {
		EmoteSet struct {
			Emotes []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"emotes"`
		} `json:"emote_set"`
	}
	if err := c.get(ctx, "7tv", fmt.Sprintf(sevenTVURL, channelID), &body); err != nil {
		return nil, err
	}
	out := make([]models.Emote, 0, len(body.EmoteSet.Emotes))
	for _, e := range body.EmoteSet.Emotes {
		out = append(out, models.Emote{Name: e.Name, URL: fmt.Sprintf(sevenTVEmoteCDN, e.ID)})
	}
	return out, nil
}
