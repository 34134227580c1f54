package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-match/internal/comparison"
	"github.com/example/face-match/internal/logging"
	"github.com/example/face-match/internal/status"
	"github.com/example/face-match/internal/upload"
)

const (
	missingImagesMessage = "Please upload both images"
	readFailedMessage    = "Failed to read the selected file"
)

var (
	// ErrImagesMissing is returned by Compare when a slot is empty.
	ErrImagesMissing = errors.New("both images are required")
	// ErrComparisonPending is returned by Compare while another comparison is in flight.
	ErrComparisonPending = errors.New("comparison already in progress")
)

// Options tunes a Controller. Zero fields fall back to DefaultOptions.
type Options struct {
	MaxFileSize   int64
	StatusCycle   status.Config
	ProgressDelay time.Duration
	ScrollDelay   time.Duration
	Scheduler     Scheduler
	Now           func() time.Time
	// OnStatus observes every loading message, in addition to the button label.
	OnStatus func(string)
}

// DefaultOptions returns the page defaults.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:   upload.MaxFileSize,
		StatusCycle:   status.DefaultConfig(),
		ProgressDelay: 100 * time.Millisecond,
		ScrollDelay:   200 * time.Millisecond,
		Scheduler:     realScheduler{},
		Now:           time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = def.MaxFileSize
	}
	if o.StatusCycle.Interval <= 0 {
		o.StatusCycle = def.StatusCycle
	}
	if o.ProgressDelay <= 0 {
		o.ProgressDelay = def.ProgressDelay
	}
	if o.ScrollDelay <= 0 {
		o.ScrollDelay = def.ScrollDelay
	}
	if o.Scheduler == nil {
		o.Scheduler = def.Scheduler
	}
	if o.Now == nil {
		o.Now = def.Now
	}
	return o
}

// Controller owns the two image slots of one session and the view rendered
// from them. All methods are safe for concurrent use; at most one comparison
// runs at a time.
type Controller struct {
	sessionID string
	client    comparison.Client
	store     SlotStore
	logger    *zap.Logger
	opts      Options

	mu         sync.Mutex
	slots      [2]*upload.Image
	view       View
	pending    bool
	animations []Timer
	renderGen  uint64
}

// NewController builds a controller with empty slots. store may be nil.
func NewController(sessionID string, client comparison.Client, store SlotStore, logger *zap.Logger, opts Options) *Controller {
	return &Controller{
		sessionID: sessionID,
		client:    client,
		store:     store,
		logger:    logger.Named("session").With(zap.String("session_id", sessionID)),
		opts:      opts.withDefaults(),
		view:      newView(),
	}
}

// SessionID returns the identifier of the owning session.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// View returns a snapshot of the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.clone()
}

// Upload validates f and, when accepted, stores it in slot and shows its preview.
// Rejections show the error banner and leave every slot untouched.
func (c *Controller) Upload(ctx context.Context, slot Slot, f upload.File) error {
	idx, err := slot.index()
	if err != nil {
		return err
	}
	opLogger := logging.WithOperation(c.logger, "session.upload", "").With(zap.Stringer("slot", slot))

	if upload.NeedsSniffing(f.ContentType) {
		if rs, ok := f.Body.(io.ReadSeeker); ok {
			if sniffed, err := upload.Sniff(rs); err == nil {
				f.ContentType = sniffed
			}
		}
	}

	if err := upload.Validate(f, c.opts.MaxFileSize); err != nil {
		opLogger.Info("upload rejected",
			zap.String("reason", err.Error()),
			zap.Int64("size", f.Size),
			zap.String("content_type", f.ContentType))
		c.ShowError(err.Error())
		return err
	}

	img, err := upload.Decode(ctx, f, c.opts.MaxFileSize)
	if err != nil {
		if errors.Is(err, upload.ErrFileTooLarge) {
			opLogger.Info("upload rejected after read", zap.Int64("declared_size", f.Size))
			c.ShowError(err.Error())
			return err
		}
		wrapped := logging.NewOperationError("session.upload", c.sessionID, err)
		opLogger.Warn("failed to decode upload", zap.Error(wrapped))
		c.ShowError(readFailedMessage)
		return wrapped
	}

	c.mu.Lock()
	c.setSlotLocked(idx, &img)
	c.view.Error.Visible = false
	c.mu.Unlock()

	opLogger.Info("image accepted",
		zap.String("source", string(f.Source)),
		zap.String("mime_type", img.MIMEType),
		zap.Int64("size", img.Size))

	if c.store != nil {
		if err := c.store.Save(ctx, c.sessionID, slot, img); err != nil {
			opLogger.Warn("failed to persist slot", zap.Error(err))
		}
	}
	return nil
}

// Remove clears slot, restores its upload zone and hides any results.
func (c *Controller) Remove(ctx context.Context, slot Slot) error {
	idx, err := slot.index()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.setSlotLocked(idx, nil)
	c.hideResultsLocked()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(ctx, c.sessionID, slot); err != nil {
			logging.WithOperation(c.logger, "session.remove", "").Warn("failed to delete persisted slot",
				zap.Stringer("slot", slot), zap.Error(err))
		}
	}
	return nil
}

// Restore repopulates empty slots from the store. Slots filled in the
// meantime keep their upload, and entries that are not image data URIs are
// skipped.
func (c *Controller) Restore(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	images, err := c.store.Load(ctx, c.sessionID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for slot, img := range images {
		idx, err := slot.index()
		if err != nil || c.slots[idx] != nil {
			continue
		}
		mediaType, data, err := upload.ParseDataURI(img.DataURI)
		if err != nil || !upload.IsImageType(mediaType) || int64(len(data)) > c.opts.MaxFileSize {
			c.logger.Warn("skipping invalid persisted slot", zap.Stringer("slot", slot))
			continue
		}
		c.setSlotLocked(idx, &img)
	}
	return nil
}

// Compare sends both slot images to the comparison service and renders the
// outcome. Failures are shown in the error banner and returned.
func (c *Controller) Compare(ctx context.Context) error {
	c.mu.Lock()
	if c.pending {
		c.mu.Unlock()
		return ErrComparisonPending
	}
	first, second := c.slots[0], c.slots[1]
	if first == nil || second == nil {
		c.showErrorLocked(missingImagesMessage)
		c.mu.Unlock()
		return ErrImagesMissing
	}
	c.pending = true
	c.view.Compare.Disabled = true
	c.view.Compare.Loading = true
	c.view.Error.Visible = false
	c.hideResultsLocked()
	c.mu.Unlock()

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(c.logger, "session.compare", "").With(zap.String("request_id", requestID))

	stop := status.Start(ctx, c.opts.StatusCycle, c.setStatus)
	defer func() {
		stop()
		c.finishCompare()
	}()

	start := c.opts.Now()
	result, err := c.client.Compare(ctx, first.DataURI, second.DataURI)
	elapsed := c.opts.Now().Sub(start)
	if err != nil {
		message := comparison.UserMessage(err)
		opLogger.Error("comparison failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		c.ShowError(message)
		return logging.NewOperationError("session.compare", c.sessionID, err)
	}

	opLogger.Info("comparison completed",
		zap.Float64("match_percentage", result.MatchPercentage),
		zap.Duration("elapsed", elapsed))
	c.RenderResults(*result, elapsed)
	return nil
}

// ProbeHealth checks the comparison service once. The outcome is only logged.
func (c *Controller) ProbeHealth(ctx context.Context) error {
	opLogger := logging.WithOperation(c.logger, "session.health", "")
	if err := c.client.Health(ctx); err != nil {
		opLogger.Warn("comparison backend is not reachable", zap.Error(err))
		return err
	}
	opLogger.Info("comparison backend is running")
	return nil
}

// ShowError displays message in the error banner.
func (c *Controller) ShowError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.showErrorLocked(message)
}

// HideError hides the error banner.
func (c *Controller) HideError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Error.Visible = false
}

// ShowResults reveals the results panel with whatever it last rendered.
func (c *Controller) ShowResults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Results.Visible = true
}

// HideResults hides the results panel.
func (c *Controller) HideResults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hideResultsLocked()
}

// Close cancels pending animations. The controller stays readable.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelAnimationsLocked()
	c.renderGen++
}

func (c *Controller) setSlotLocked(idx int, img *upload.Image) {
	c.slots[idx] = img
	if img == nil {
		c.view.Zones[idx] = UploadZone{ZoneVisible: true}
	} else {
		c.view.Zones[idx] = UploadZone{
			PreviewActive: true,
			PreviewSrc:    img.DataURI,
			FileName:      img.Name,
			Width:         img.Width,
			Height:        img.Height,
		}
	}
	c.updateCompareLocked()
}

// updateCompareLocked enforces that the trigger is enabled iff both slots are
// filled and nothing is in flight.
func (c *Controller) updateCompareLocked() {
	c.view.Compare.Disabled = c.pending || c.slots[0] == nil || c.slots[1] == nil
}

func (c *Controller) showErrorLocked(message string) {
	c.view.Error = Banner{Visible: true, Text: message}
}

func (c *Controller) hideResultsLocked() {
	c.view.Results.Visible = false
}

func (c *Controller) setStatus(message string) {
	c.mu.Lock()
	if c.pending {
		c.view.Compare.Label = message
	}
	c.mu.Unlock()
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(message)
	}
}

func (c *Controller) finishCompare() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = false
	c.view.Compare.Loading = false
	c.view.Compare.Label = DefaultCompareLabel
	c.updateCompareLocked()
}
