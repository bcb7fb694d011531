package telemetry

import (
	"fmt"
	"log/slog"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkEscapeSurge       BookmarkType = "escape_surge"
	BookmarkIdentityCollision BookmarkType = "identity_collision"
	BookmarkPopulationCrash   BookmarkType = "population_crash"
	BookmarkSteadyState       BookmarkType = "steady_state"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type" json:"type"`
	Step        int          `csv:"step" json:"step"`
	Description string       `csv:"description" json:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"step", b.Step,
		"description", b.Description,
	)
}

// BookmarkDetector detects notable steps in a run.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []StepStats
	historySize int
	historyIdx  int
	historyFull bool

	// State tracking
	recentLivePeak   int // peak live count in recent history
	steadyStepsCount int // consecutive steps with a stable population
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5 // minimum for steady state detection
	}
	return &BookmarkDetector{
		history:     make([]StepStats, historySize),
		historySize: historySize,
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats StepStats) []Bookmark {
	var bookmarks []Bookmark

	if b := bd.checkIdentityCollision(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	if bd.historyFull || bd.historyIdx > 0 {
		// Escape surge: escapes > 2x rolling average
		if b := bd.checkEscapeSurge(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Population crash: dropped >30% from recent peak
		if b := bd.checkPopulationCrash(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}

		// Steady state: low variance in live count over 5+ steps
		if b := bd.checkSteadyState(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}

	bd.addToHistory(stats)

	if stats.Live > bd.recentLivePeak {
		bd.recentLivePeak = stats.Live
	}

	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats StepStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []StepStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

func (bd *BookmarkDetector) checkIdentityCollision(stats StepStats) *Bookmark {
	if stats.Fallbacks == 0 {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkIdentityCollision,
		Step:        stats.Step,
		Description: fmt.Sprintf("%d lines matched an already claimed particle", stats.Fallbacks),
	}
}

func (bd *BookmarkDetector) checkEscapeSurge(stats StepStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}

	var total int
	for _, h := range history {
		total += h.Escape
	}
	avg := float64(total) / float64(len(history))

	if stats.Escape >= 3 && float64(stats.Escape) > avg*2.0 {
		return &Bookmark{
			Type:        BookmarkEscapeSurge,
			Step:        stats.Step,
			Description: fmt.Sprintf("%d escapes against a rolling average of %.1f", stats.Escape, avg),
		}
	}

	return nil
}

func (bd *BookmarkDetector) checkPopulationCrash(stats StepStats) *Bookmark {
	if bd.recentLivePeak == 0 {
		return nil
	}

	dropPercent := 1.0 - float64(stats.Live)/float64(bd.recentLivePeak)
	if dropPercent > 0.30 && stats.Live < bd.recentLivePeak-10 {
		// Reset peak after crash
		oldPeak := bd.recentLivePeak
		bd.recentLivePeak = stats.Live

		return &Bookmark{
			Type:        BookmarkPopulationCrash,
			Step:        stats.Step,
			Description: fmt.Sprintf("Live particles dropped %.0f%% from peak %d to %d", dropPercent*100, oldPeak, stats.Live),
		}
	}

	return nil
}

func (bd *BookmarkDetector) checkSteadyState(stats StepStats) *Bookmark {
	if stats.Live < 10 {
		bd.steadyStepsCount = 0
		return nil
	}

	history := bd.getHistory()
	if len(history) < 4 {
		return nil
	}

	var sum float64
	recent := history[len(history)-4:]
	for _, h := range recent {
		sum += float64(h.Live)
	}
	mean := sum / 4

	var variance float64
	for _, h := range recent {
		d := float64(h.Live) - mean
		variance += d * d
	}
	variance /= 4

	if mean > 0 && variance/(mean*mean) < 0.04 { // CV^2 < 0.04 means CV < 0.2
		bd.steadyStepsCount++
	} else {
		bd.steadyStepsCount = 0
	}

	if bd.steadyStepsCount == 5 { // trigger exactly once at 5 steps
		return &Bookmark{
			Type:        BookmarkSteadyState,
			Step:        stats.Step,
			Description: fmt.Sprintf("Steady population of %d particles over 5+ steps", stats.Live),
		}
	}

	return nil
}
