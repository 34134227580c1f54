package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/example/face-match/internal/comparison"
)

// RenderResults writes result into the results panel and makes it visible.
// Each call fully replaces the previous rendering; the progress bar and the
// scroll follow after their configured delays.
func (c *Controller) RenderResults(result comparison.Result, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelAnimationsLocked()
	c.renderGen++

	pct := formatPercent(result.MatchPercentage)
	level := result.MatchLevel
	if result.Model != "" {
		level = fmt.Sprintf("%s (%s)", level, result.Model)
	}
	confidence, tone := Classify(result.MatchPercentage)

	c.view.Results = Results{
		Visible:         true,
		PercentageText:  pct,
		PercentageColor: result.MatchColor,
		LevelText:       level,
		LevelColor:      result.MatchColor,
		TimeNote:        fmt.Sprintf("Processed in %.1fs", elapsed.Seconds()),
		ProgressWidth:   c.view.Results.ProgressWidth,
		DetailScore:     pct,
		DetailDistance:  strconv.FormatFloat(result.Distance, 'f', -1, 64),
		Confidence:      confidence,
		ConfidenceTone:  tone,
		Verified:        result.Verified,
	}

	c.animations = append(c.animations,
		c.opts.Scheduler.AfterFunc(c.opts.ProgressDelay, c.animation(func(r *Results) {
			r.ProgressWidth = pct
		})),
		c.opts.Scheduler.AfterFunc(c.opts.ScrollDelay, c.animation(func(r *Results) {
			r.ScrolledIntoView = true
		})),
	)
}

// animation binds a deferred update to the rendering that scheduled it, so a
// timer that fires after a newer rendering is ignored.
func (c *Controller) animation(apply func(*Results)) func() {
	generation := c.renderGen
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.renderGen != generation {
			return
		}
		apply(&c.view.Results)
	}
}

func (c *Controller) cancelAnimationsLocked() {
	for _, timer := range c.animations {
		timer.Stop()
	}
	c.animations = nil
}

func formatPercent(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64) + "%"
}
