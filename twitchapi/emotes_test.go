package twitchapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/onnwee/chatlens/models"
	"github.com/onnwee/chatlens/testutil"
)

func TestEmoteClient_Load(t *testing.T) {
	fastBackOff(t)
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/v1/room/id/42"] = func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, map[string]any{"sets": map[string]any{
			"1": map[string]any{"emoticons": []map[string]any{
				{"name": "OMEGALUL", "urls": map[string]string{"1": "https://cdn.ffz/1", "2": "https://cdn.ffz/2"}},
				{"name": "monkaS", "urls": map[string]string{"4": "https://cdn.ffz/4"}},
			}},
		}})
	}
	m.Handlers["/3/cached/users/twitch/42"] = func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, map[string]any{
			"channelEmotes": []map[string]string{{"id": "a1", "code": "catJAM"}},
			"sharedEmotes":  []map[string]string{{"id": "b2", "code": "PepeLaugh"}},
		})
	}
	// 7TV is left unmocked and answers 404.

	c := &EmoteClient{HTTPClient: m.Client()}
	catalog := c.Load(context.Background(), "42")

	ffz := catalog[models.PlatformFFZ]
	if len(ffz) != 2 || ffz[0].URL != "https://cdn.ffz/1" || ffz[1].URL != "https://cdn.ffz/4" {
		t.Errorf("ffz = %+v", ffz)
	}
	bttv := catalog[models.PlatformBTTV]
	if len(bttv) != 2 || bttv[0].Name != "catJAM" || bttv[0].URL != "https://cdn.betterttv.net/emote/a1/1x" {
		t.Errorf("bttv = %+v", bttv)
	}
	seven, ok := catalog[models.PlatformSevenTV]
	if !ok || len(seven) != 0 {
		t.Errorf("7tv should be present and empty, got %+v (present=%v)", seven, ok)
	}
	if catalog.Len() != 4 {
		t.Errorf("Len() = %d, want 4", catalog.Len())
	}
}

func TestEmoteClient_SevenTV(t *testing.T) {
	fastBackOff(t)
	m := testutil.NewMockTwitchServer(t)
	m.Handlers["/v3/users/twitch/7"] = func(w http.ResponseWriter, r *http.Request) {
		testutil.WriteJSON(w, map[string]any{"emote_set": map[string]any{
			"emotes": []map[string]string{{"id": "z9", "name": "EZ"}},
		}})
	}
	catalog := (&EmoteClient{HTTPClient: m.Client()}).Load(context.Background(), "7")
	got := catalog[models.PlatformSevenTV]
	if len(got) != 1 || got[0].Name != "EZ" || got[0].URL != "https://cdn.7tv.app/emote/z9/1x" {
		t.Errorf("7tv = %+v", got)
	}
}
