package analytics

import (
	"sort"

	"github.com/onnwee/chatlens/models"
)

// ChatterCount is the number of messages one user posted.
type ChatterCount struct {
	Login       string `json:"name"`
	DisplayName string `json:"display_name"`
	Count       int    `json:"count"`
}

// TopChatters ranks users by message count. Ties keep the order in which users first spoke.
// n <= 0 returns every user.
func TopChatters(msgs []models.Message, n int) []ChatterCount {
	index := make(map[string]int)
	out := make([]ChatterCount, 0)
	for _, m := range msgs {
		login := m.Commenter.Login
		if i, ok := index[login]; ok {
			out[i].Count++
			continue
		}
		index[login] = len(out)
		out = append(out, ChatterCount{Login: login, DisplayName: m.Commenter.DisplayName, Count: 1})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
