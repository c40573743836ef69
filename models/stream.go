// Package models holds the broadcast data shapes shared by the collectors, the artifact
// store and the analytics. JSON tags define the on-disk layout of stored artifacts.
package models

import "time"

// StreamRecord is the composed artifact for one broadcast. It is written once and never modified.
type StreamRecord struct {
	VideoID    string            `json:"video_id"`
	UserID     string            `json:"user_id"`
	VODInfo    BroadcastInfo     `json:"vod_info"`
	Emotes     EmoteCatalog      `json:"emotes"`
	Chat       []Message         `json:"chat"`
	Categories []CategorySegment `json:"categories"`
}

// BroadcastInfo is the subset of broadcast metadata the pipeline keeps.
type BroadcastInfo struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	UserLogin       string    `json:"user_login"`
	UserName        string    `json:"user_name"`
	Title           string    `json:"title"`
	Category        string    `json:"category,omitempty"`
	URL             string    `json:"url"`
	ViewCount       int       `json:"view_count"`
	CreatedAt       time.Time `json:"created_at"`
	Duration        string    `json:"duration"`
	DurationSeconds int       `json:"duration_seconds"`
}

// Message is one chat comment as delivered by the transcript source.
type Message struct {
	ID            string         `json:"_id"`
	CreatedAt     time.Time      `json:"created_at"`
	OffsetSeconds int            `json:"content_offset_seconds"`
	Commenter     Commenter      `json:"commenter"`
	Content       MessageContent `json:"message"`
}

// Commenter identifies the author of a message.
type Commenter struct {
	ID          string `json:"_id"`
	Login       string `json:"name"`
	DisplayName string `json:"display_name"`
}

// MessageContent is the rendered body of a message.
type MessageContent struct {
	Body      string  `json:"body"`
	UserColor string  `json:"user_color"`
	Badges    []Badge `json:"badges"`
}

// Badge is a chat badge reference.
type Badge struct {
	SetID   string `json:"set_id"`
	Version string `json:"version"`
}

// CategorySegment covers the part of a broadcast spent in one category.
// EndTime is the cumulative offset in seconds at which the segment ends.
type CategorySegment struct {
	Category string `json:"category"`
	EndTime  int    `json:"end_time"`
	Duration int    `json:"duration"`
}

// Start returns the offset in seconds at which the segment begins.
func (c CategorySegment) Start() int { return c.EndTime - c.Duration }

// Emote is one third-party emote available in a channel.
type Emote struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Emote platforms in the order they are fetched and ranked.
const (
	PlatformFFZ     = "ffz"
	PlatformBTTV    = "bttv"
	PlatformSevenTV = "7tv"
)

// Platforms lists the known emote platforms in their canonical order.
var Platforms = []string{PlatformFFZ, PlatformBTTV, PlatformSevenTV}

// EmoteCatalog maps a platform name to the channel's emotes on it.
type EmoteCatalog map[string][]Emote

// Len returns the total number of emotes across platforms.
func (c EmoteCatalog) Len() int {
	n := 0
	for _, e := range c {
		n += len(e)
	}
	return n
}
