// Package status drives the loading messages shown on the compare button
// while a comparison is in flight. The messages carry no state of their own.
package status

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ModelDownloadMessage is shown once the request has taken long enough to
// suggest the backend is fetching its model.
const ModelDownloadMessage = "Downloading AI model (first time only)..."

// DefaultMessages is the rotation shown during the first seconds of a request.
var DefaultMessages = []string{
	"Analyzing faces...",
	"Processing facial features...",
	"Comparing face encodings...",
	"Calculating similarity...",
}

// Config controls the cadence of the cycle.
type Config struct {
	Interval             time.Duration
	ModelDownloadAfter   time.Duration
	StillProcessingAfter time.Duration
	Messages             []string
}

// DefaultConfig returns the cadence used by the page: a new message every
// three seconds, the model-download hint past 15s and an elapsed counter past 30s.
func DefaultConfig() Config {
	return Config{
		Interval:             3 * time.Second,
		ModelDownloadAfter:   15 * time.Second,
		StillProcessingAfter: 30 * time.Second,
		Messages:             DefaultMessages,
	}
}

// Message returns the text for the given tick; tick 0 is the initial message.
func Message(cfg Config, tick int) string {
	messages := cfg.Messages
	if len(messages) == 0 {
		messages = DefaultMessages
	}
	if tick <= 0 {
		return messages[0]
	}
	elapsed := time.Duration(tick) * cfg.Interval
	switch {
	case elapsed <= cfg.ModelDownloadAfter:
		return messages[tick%len(messages)]
	case elapsed <= cfg.StillProcessingAfter:
		return ModelDownloadMessage
	default:
		return fmt.Sprintf("Still processing... (%ds)", int(elapsed/time.Second))
	}
}

// Start publishes the initial message synchronously and then one message per
// interval until ctx ends or stop is called. stop blocks until the cycle has
// exited, so update is never called after stop returns. stop is idempotent.
func Start(ctx context.Context, cfg Config, update func(string)) (stop func()) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	update(Message(cfg, 0))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for tick := 1; ; tick++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			if ctx.Err() != nil {
				return
			}
			update(Message(cfg, tick))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
