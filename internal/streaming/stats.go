// ABOUTME: Per-session streaming metrics: latency, volume, and delta burstiness
// ABOUTME: Logged when a reply completes and written to the conversation log

package streaming

import (
	"encoding/json"
	"log/slog"
	"time"
	"unicode/utf8"
)

// burstThreshold separates deltas arriving in a burst from those after a gap.
const burstThreshold = 50 * time.Millisecond

// Stats describes one reply.
// TTFT is negative when no content arrived.
type Stats struct {
	TTFT            time.Duration
	Total           time.Duration
	Lines           int
	ContentChunks   int
	ContentChars    int
	ReasoningChunks int
	ReasoningChars  int
	BurstChunks     int
	GapChunks       int
	MaxGap          time.Duration
	Patches         int
}

type meter struct {
	start        time.Time
	firstContent time.Time
	lastChunk    time.Time
	stats        Stats
}

func newMeter(start time.Time) *meter {
	return &meter{start: start, stats: Stats{TTFT: -1}}
}

func (m *meter) reasoning(delta string) {
	m.stats.ReasoningChunks++
	m.stats.ReasoningChars += utf8.RuneCountInString(delta)
}

// content records a content delta and reports whether it was the first.
func (m *meter) content(delta string, now time.Time) bool {
	m.stats.ContentChunks++
	m.stats.ContentChars += utf8.RuneCountInString(delta)

	if !m.lastChunk.IsZero() {
		gap := now.Sub(m.lastChunk)
		if gap < burstThreshold {
			m.stats.BurstChunks++
		} else {
			m.stats.GapChunks++
			m.stats.MaxGap = max(m.stats.MaxGap, gap)
		}
	}
	m.lastChunk = now

	if m.firstContent.IsZero() {
		m.firstContent = now
		m.stats.TTFT = now.Sub(m.start)
		return true
	}
	return false
}

func (m *meter) finish(now time.Time, patches int) Stats {
	m.stats.Total = now.Sub(m.start)
	m.stats.Patches = patches
	return m.stats
}

// charsPerSecond is the output rate since the first content delta.
func (m *meter) charsPerSecond(now time.Time) float64 {
	if m.firstContent.IsZero() {
		return 0
	}
	elapsed := now.Sub(m.firstContent).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.stats.ContentChars) / elapsed
}

// LogValue renders the stats as a log group.
func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("ttft_ms", s.TTFT.Milliseconds()),
		slog.Int64("total_ms", s.Total.Milliseconds()),
		slog.Int("lines", s.Lines),
		slog.Int("content_chunks", s.ContentChunks),
		slog.Int("content_chars", s.ContentChars),
		slog.Int("reasoning_chunks", s.ReasoningChunks),
		slog.Int("reasoning_chars", s.ReasoningChars),
		slog.Int("burst_chunks", s.BurstChunks),
		slog.Int("gap_chunks", s.GapChunks),
		slog.Int64("max_gap_ms", s.MaxGap.Milliseconds()),
		slog.Int("patches", s.Patches),
	)
}

// MarshalJSON writes durations as whole milliseconds.
func (s Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TTFTMillis      int64 `json:"ttft_ms"`
		TotalMillis     int64 `json:"total_ms"`
		Lines           int   `json:"lines"`
		ContentChunks   int   `json:"content_chunks"`
		ContentChars    int   `json:"content_chars"`
		ReasoningChunks int   `json:"reasoning_chunks"`
		ReasoningChars  int   `json:"reasoning_chars"`
		BurstChunks     int   `json:"burst_chunks"`
		GapChunks       int   `json:"gap_chunks"`
		MaxGapMillis    int64 `json:"max_gap_ms"`
		Patches         int   `json:"patches"`
	}{
		TTFTMillis:      s.TTFT.Milliseconds(),
		TotalMillis:     s.Total.Milliseconds(),
		Lines:           s.Lines,
		ContentChunks:   s.ContentChunks,
		ContentChars:    s.ContentChars,
		ReasoningChunks: s.ReasoningChunks,
		ReasoningChars:  s.ReasoningChars,
		BurstChunks:     s.BurstChunks,
		GapChunks:       s.GapChunks,
		MaxGapMillis:    s.MaxGap.Milliseconds(),
		Patches:         s.Patches,
	})
}
