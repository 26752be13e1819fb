package utils

import (
	"sort"
	"time"
)

type channelHit struct {
	at        time.Time
	channelID string
}

// ChannelWindow records (time, channel) hits over a trailing window. It is not
// safe for concurrent use; owners guard it.
type ChannelWindow struct {
	window time.Duration
	hits   []channelHit
}

func NewChannelWindow(window time.Duration) *ChannelWindow {
	return &ChannelWindow{window: window}
}

// Add prunes hits older than the window and records a new one.
func (w *ChannelWindow) Add(now time.Time, channelID string) {
	w.prune(now)
	w.hits = append(w.hits, channelHit{at: now, channelID: channelID})
}

// Count returns the number of hits still inside the window.
func (w *ChannelWindow) Count(now time.Time) int {
	w.prune(now)
	return len(w.hits)
}

// Channels returns the distinct channel ids in the window, sorted.
func (w *ChannelWindow) Channels(now time.Time) []string {
	w.prune(now)
	seen := make(map[string]struct{}, len(w.hits))
	channels := make([]string, 0, len(w.hits))
	for _, hit := range w.hits {
		if _, ok := seen[hit.channelID]; ok {
			continue
		}
		seen[hit.channelID] = struct{}{}
		channels = append(channels, hit.channelID)
	}
	sort.Strings(channels)
	return channels
}

func (w *ChannelWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	idx := 0
	for _, hit := range w.hits {
		if hit.at.After(cutoff) {
			break
		}
		idx++
	}
	w.hits = w.hits[idx:]
}
