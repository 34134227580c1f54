package session

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/face-match/internal/comparison"
	"github.com/example/face-match/internal/status"
	"github.com/example/face-match/internal/upload"
)

type stubClient struct {
	mu          sync.Mutex
	result      *comparison.Result
	err         error
	calls       int
	healthCalls int
	healthErr   error
	started     chan struct{}
	release     chan struct{}
}

func (s *stubClient) Compare(ctx context.Context, image1, image2 string) (*comparison.Result, error) {
	s.mu.Lock()
	s.calls++
	started, release := s.started, s.release
	s.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		<-release
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubClient) Health(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthCalls++
	return s.healthErr
}

func (s *stubClient) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, timer)
	return timer
}

// fireAll runs every pending timer, the way the clock would once all delays pass.
func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	pending := append([]*fakeTimer(nil), s.timers...)
	s.mu.Unlock()
	for _, timer := range pending {
		if timer.stopped || timer.fired {
			continue
		}
		timer.fired = true
		timer.fn()
	}
}

func newTestController(t *testing.T, client *stubClient) (*Controller, *fakeScheduler) {
	t.Helper()
	scheduler := &fakeScheduler{}
	ctrl := NewController("sess-1", client, nil, zap.NewNop(), Options{
		Scheduler: scheduler,
		StatusCycle: status.Config{
			Interval:             time.Hour,
			ModelDownloadAfter:   15 * time.Hour,
			StillProcessingAfter: 30 * time.Hour,
		},
	})
	return ctrl, scheduler
}

func pngFile(t *testing.T) upload.File {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return upload.File{
		Name:        "face.png",
		ContentType: "image/png",
		Size:        int64(buf.Len()),
		Source:      upload.SourceBrowse,
		Body:        bytes.NewReader(buf.Bytes()),
	}
}

func fillBoth(t *testing.T, ctrl *Controller) {
	t.Helper()
	for _, slot := range []Slot{SlotA, SlotB} {
		if err := ctrl.Upload(context.Background(), slot, pngFile(t)); err != nil {
			t.Fatalf("upload into %s failed: %v", slot, err)
		}
	}
}

func TestUploadRejectsOversizedFileWithoutChangingState(t *testing.T) {
	ctrl, _ := newTestController(t, &stubClient{})
	if err := ctrl.Upload(context.Background(), SlotA, pngFile(t)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	before := ctrl.View()

	huge := pngFile(t)
	huge.Size = upload.MaxFileSize + 1
	err := ctrl.Upload(context.Background(), SlotB, huge)
	if !errors.Is(err, upload.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}

	view := ctrl.View()
	if view.Zones != before.Zones {
		t.Fatalf("expected zones untouched, got %+v", view.Zones)
	}
	if !view.Compare.Disabled {
		t.Fatal("expected compare to stay disabled")
	}
	if !view.Error.Visible || view.Error.Text != "File size must be less than 10MB" {
		t.Fatalf("unexpected banner: %+v", view.Error)
	}

	fillBoth(t, ctrl)
	err = ctrl.Upload(context.Background(), SlotA, huge)
	if !errors.Is(err, upload.ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
	if view := ctrl.View(); view.Compare.Disabled || !view.Zones[0].PreviewActive {
		t.Fatalf("expected enabled compare and kept preview, got %+v", view)
	}
}

func TestUploadRejectsNonImageLikeOversizedFile(t *testing.T) {
	ctrl, _ := newTestController(t, &stubClient{})
	file := pngFile(t)
	file.ContentType = "text/plain"
	file.Source = upload.SourceDrop

	err := ctrl.Upload(context.Background(), SlotA, file)
	if !errors.Is(err, upload.ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	view := ctrl.View()
	if !view.Zones[0].ZoneVisible || view.Zones[0].PreviewActive {
		t.Fatalf("expected empty slot, got %+v", view.Zones[0])
	}
	if view.Error.Text != "Please upload a valid image file" {
		t.Fatalf("unexpected banner text %q", view.Error.Text)
	}
}

func TestUploadSniffsUndeclaredType(t *testing.T) {
	ctrl, _ := newTestController(t, &stubClient{})
	file := pngFile(t)
	file.ContentType = "application/octet-stream"

	if err := ctrl.Upload(context.Background(), SlotA, file); err != nil {
		t.Fatalf("expected sniffed png to be accepted, got %v", err)
	}
	if zone := ctrl.View().Zones[0]; zone.Width != 2 || zone.Height != 2 {
		t.Fatalf("expected decoded dimensions, got %+v", zone)
	}
}

func TestUploadHidesErrorAndShowsPreview(t *testing.T) {
	ctrl, _ := newTestController(t, &stubClient{})
	ctrl.ShowError("earlier failure")

	if err := ctrl.Upload(context.Background(), SlotB, pngFile(t)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	view := ctrl.View()
	if view.Error.Visible {
		t.Fatal("expected error banner to be hidden")
	}
	zone := view.Zones[1]
	if zone.ZoneVisible || !zone.PreviewActive || zone.FileName != "face.png" {
		t.Fatalf("unexpected zone: %+v", zone)
	}
	if len(zone.PreviewSrc) < len("data:image/png;base64,") || zone.PreviewSrc[:22] != "data:image/png;base64," {
		t.Fatalf("unexpected preview source %.30s", zone.PreviewSrc)
	}
}

func TestCompareEnabledOnlyWithBothSlots(t *testing.T) {
	ctrl, _ := newTestController(t, &stubClient{})
	ctx := context.Background()

	steps := []struct {
		action  func() error
		enabled bool
	}{
		{func() error { return nil }, false},
		{func() error { return ctrl.Upload(ctx, SlotA, pngFile(t)) }, false},
		{func() error { return ctrl.Upload(ctx, SlotB, pngFile(t)) }, true},
		{func() error { return ctrl.Remove(ctx, SlotA) }, false},
		{func() error { return ctrl.Upload(ctx, SlotA, pngFile(t)) }, true},
		{func() error { return ctrl.Remove(ctx, SlotB) }, false},
		{func() error { return ctrl.Remove(ctx, SlotA) }, false},
	}
	for i, step := range steps {
		if err := step.action(); err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		if enabled := !ctrl.View().Compare.Disabled; enabled != step.enabled {
			t.Fatalf("step %d: expected enabled=%t, got %t", i, step.enabled, enabled)
		}
	}
}

func TestRemoveHidesResultsAndRestoresZone(t *testing.T) {
	ctrl, _ := newTestController(t, &stubClient{})
	fillBoth(t, ctrl)
	ctrl.RenderResults(comparison.Result{MatchPercentage: 90}, time.Second)

	if err := ctrl.Remove(context.Background(), SlotB); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	view := ctrl.View()
	if view.Results.Visible {
		t.Fatal("expected results to be hidden")
	}
	if view.Zones[1] != (UploadZone{ZoneVisible: true}) {
		t.Fatalf("expected reset zone, got %+v", view.Zones[1])
	}
}

func TestRenderResultsStrongMatch(t *testing.T) {
	ctrl, scheduler := newTestController(t, &stubClient{})
	ctrl.RenderResults(comparison.Result{
		MatchPercentage: 83,
		MatchColor:      "#00ff00",
		MatchLevel:      "Strong Match",
		Distance:        0.42,
	}, 1234*time.Millisecond)

	results := ctrl.View().Results
	if !results.Visible {
		t.Fatal("expected results to be visible")
	}
	if results.PercentageText != "83%" || results.DetailScore != "83%" {
		t.Fatalf("unexpected percentage: %+v", results)
	}
	if results.Confidence != ConfidenceHigh || results.ConfidenceTone != ToneSuccess {
		t.Fatalf("unexpected confidence: %s/%s", results.Confidence, results.ConfidenceTone)
	}
	if results.LevelText != "Strong Match" || results.LevelColor != "#00ff00" || results.PercentageColor != "#00ff00" {
		t.Fatalf("unexpected level rendering: %+v", results)
	}
	if results.DetailDistance != "0.42" {
		t.Fatalf("unexpected distance %q", results.DetailDistance)
	}
	if results.TimeNote != "Processed in 1.2s" {
		t.Fatalf("unexpected time note %q", results.TimeNote)
	}
	if results.ProgressWidth != "0%" || results.ScrolledIntoView {
		t.Fatalf("expected animations to wait for their delay, got %+v", results)
	}

	scheduler.fireAll()
	results = ctrl.View().Results
	if results.ProgressWidth != "83%" {
		t.Fatalf("expected progress 83%%, got %s", results.ProgressWidth)
	}
	if !results.ScrolledIntoView {
		t.Fatal("expected results to be scrolled into view")
	}

	delays := []time.Duration{scheduler.timers[0].delay, scheduler.timers[1].delay}
	if delays[0] != 100*time.Millisecond || delays[1] != 200*time.Millisecond {
		t.Fatalf("unexpected animation delays %v", delays)
	}
}

func TestRenderResultsConfidenceBands(t *testing.T) {
	cases := []struct {
		pct  float64
		want Confidence
		tone Tone
	}{
		{70, ConfidenceHigh, ToneSuccess},
		{69.99, ConfidenceMedium, ToneWarning},
		{55, ConfidenceMedium, ToneWarning},
		{50, ConfidenceMedium, ToneWarning},
		{30, ConfidenceLow, ToneDanger},
		{0, ConfidenceLow, ToneDanger},
	}
	ctrl, _ := newTestController(t, &stubClient{})
	for _, tc := range cases {
		ctrl.RenderResults(comparison.Result{MatchPercentage: tc.pct}, 0)
		results := ctrl.View().Results
		if results.Confidence != tc.want || results.ConfidenceTone != tc.tone {
			t.Fatalf("%v%%: expected %s/%s, got %s/%s", tc.pct, tc.want, tc.tone, results.Confidence, results.ConfidenceTone)
		}
	}
}

func TestRenderResultsReplacesPreviousRendering(t *testing.T) {
	ctrl, scheduler := newTestController(t, &stubClient{})
	ctrl.RenderResults(comparison.Result{MatchPercentage: 40, MatchLevel: "Moderate Match"}, 5*time.Second)
	ctrl.RenderResults(comparison.Result{MatchPercentage: 72.5, MatchLevel: "Excellent Match", Model: "Facenet512"}, 700*time.Millisecond)

	scheduler.fireAll()
	results := ctrl.View().Results
	if results.TimeNote != "Processed in 0.7s" {
		t.Fatalf("expected only the latest time note, got %q", results.TimeNote)
	}
	if results.LevelText != "Excellent Match (Facenet512)" {
		t.Fatalf("unexpected level text %q", results.LevelText)
	}
	if results.ProgressWidth != "72.5%" {
		t.Fatalf("expected stale animation to be dropped, got %s", results.ProgressWidth)
	}
	for _, timer := range scheduler.timers[:2] {
		if !timer.stopped || timer.fired {
			t.Fatalf("expected first rendering's timers to be cancelled: %+v", timer)
		}
	}
}

func TestVisibilityFlagsAreIndependent(t *testing.T) {
	ctrl, _ := newTestController(t, &stubClient{})
	ctrl.ShowResults()
	ctrl.ShowError("boom")

	view := ctrl.View()
	if !view.Results.Visible || !view.Error.Visible {
		t.Fatalf("expected both regions visible, got %+v", view)
	}
	ctrl.HideError()
	if view := ctrl.View(); !view.Results.Visible || view.Error.Visible {
		t.Fatalf("expected only the banner hidden, got %+v", view)
	}
	ctrl.HideResults()
	if ctrl.View().Results.Visible {
		t.Fatal("expected results hidden")
	}
}

func TestCompareWithoutImagesShowsError(t *testing.T) {
	client := &stubClient{}
	ctrl, _ := newTestController(t, client)
	if err := ctrl.Upload(context.Background(), SlotA, pngFile(t)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	err := ctrl.Compare(context.Background())
	if !errors.Is(err, ErrImagesMissing) {
		t.Fatalf("expected ErrImagesMissing, got %v", err)
	}
	if text := ctrl.View().Error.Text; text != "Please upload both images" {
		t.Fatalf("unexpected banner text %q", text)
	}
	if client.callCount() != 0 {
		t.Fatal("expected no request")
	}
}

func TestCompareRendersSuccess(t *testing.T) {
	client := &stubClient{result: &comparison.Result{MatchPercentage: 83, MatchColor: "#00ff00", MatchLevel: "Strong Match", Distance: 0.42}}
	ctrl, _ := newTestController(t, client)
	fillBoth(t, ctrl)
	ctrl.ShowError("stale")

	if err := ctrl.Compare(context.Background()); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	view := ctrl.View()
	if view.Error.Visible {
		t.Fatal("expected the stale error to be cleared")
	}
	if !view.Results.Visible || view.Results.PercentageText != "83%" {
		t.Fatalf("unexpected results: %+v", view.Results)
	}
	if view.Results.TimeNote == "" {
		t.Fatal("expected an elapsed time note")
	}
	if view.Compare != (CompareButton{Label: DefaultCompareLabel}) {
		t.Fatalf("expected idle, enabled trigger, got %+v", view.Compare)
	}
}

func TestCompareShowsServerErrorText(t *testing.T) {
	client := &stubClient{err: &comparison.APIError{StatusCode: 400, Message: "bad image"}}
	ctrl, _ := newTestController(t, client)
	fillBoth(t, ctrl)

	err := ctrl.Compare(context.Background())
	var apiErr *comparison.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	view := ctrl.View()
	if !view.Error.Visible || view.Error.Text != "bad image" {
		t.Fatalf("unexpected banner: %+v", view.Error)
	}
	if view.Results.Visible {
		t.Fatal("expected results to stay hidden")
	}
	if view.Compare.Disabled || view.Compare.Loading || view.Compare.Label != DefaultCompareLabel {
		t.Fatalf("expected trigger restored, got %+v", view.Compare)
	}
}

func TestCompareFallsBackToGenericMessage(t *testing.T) {
	client := &stubClient{err: &comparison.APIError{StatusCode: 500}}
	ctrl, _ := newTestController(t, client)
	fillBoth(t, ctrl)

	_ = ctrl.Compare(context.Background())
	if text := ctrl.View().Error.Text; text != comparison.FallbackCompareMessage {
		t.Fatalf("expected fallback message, got %q", text)
	}
}

func TestCompareSettlementStopsStatusCycle(t *testing.T) {
	var (
		mu       sync.Mutex
		messages []string
	)
	client := &stubClient{
		result:  &comparison.Result{MatchPercentage: 10},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	ctrl := NewController("sess-2", client, nil, zap.NewNop(), Options{
		Scheduler: &fakeScheduler{},
		StatusCycle: status.Config{
			Interval:             time.Millisecond,
			ModelDownloadAfter:   time.Hour,
			StillProcessingAfter: time.Hour,
		},
		OnStatus: func(msg string) {
			mu.Lock()
			defer mu.Unlock()
			messages = append(messages, msg)
		},
	})
	fillBoth(t, ctrl)

	done := make(chan error, 1)
	go func() { done <- ctrl.Compare(context.Background()) }()
	<-client.started

	view := ctrl.View()
	if !view.Compare.Disabled || !view.Compare.Loading {
		t.Fatalf("expected loading trigger, got %+v", view.Compare)
	}
	time.Sleep(20 * time.Millisecond)
	close(client.release)
	if err := <-done; err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	mu.Lock()
	settled := len(messages)
	mu.Unlock()
	if settled < 2 {
		t.Fatalf("expected the status cycle to tick while pending, got %d messages", settled)
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	after := len(messages)
	mu.Unlock()
	if after != settled {
		t.Fatalf("expected no status updates after settlement, got %d more", after-settled)
	}
	if compare := ctrl.View().Compare; compare != (CompareButton{Label: DefaultCompareLabel}) {
		t.Fatalf("expected default trigger, got %+v", compare)
	}
}

func TestCompareWhilePendingIsNoOp(t *testing.T) {
	client := &stubClient{
		result:  &comparison.Result{MatchPercentage: 60},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	ctrl, _ := newTestController(t, client)
	fillBoth(t, ctrl)

	done := make(chan error, 1)
	go func() { done <- ctrl.Compare(context.Background()) }()
	<-client.started

	if err := ctrl.Compare(context.Background()); !errors.Is(err, ErrComparisonPending) {
		t.Fatalf("expected ErrComparisonPending, got %v", err)
	}
	if label := ctrl.View().Compare.Label; label != "Analyzing faces..." {
		t.Fatalf("expected loading label, got %q", label)
	}

	close(client.release)
	if err := <-done; err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls := client.callCount(); calls != 1 {
		t.Fatalf("expected exactly one request, got %d", calls)
	}
}

func TestUploadDuringComparisonKeepsTriggerDisabled(t *testing.T) {
	client := &stubClient{
		result:  &comparison.Result{MatchPercentage: 60},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	ctrl, _ := newTestController(t, client)
	fillBoth(t, ctrl)

	done := make(chan error, 1)
	go func() { done <- ctrl.Compare(context.Background()) }()
	<-client.started

	if err := ctrl.Upload(context.Background(), SlotA, pngFile(t)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !ctrl.View().Compare.Disabled {
		t.Fatal("expected trigger to stay disabled while a comparison is pending")
	}
	close(client.release)
	<-done
	if ctrl.View().Compare.Disabled {
		t.Fatal("expected trigger enabled after settlement")
	}
}

func TestProbeHealthOnlyLogs(t *testing.T) {
	client := &stubClient{healthErr: errors.New("connection refused")}
	ctrl, _ := newTestController(t, client)
	before := ctrl.View()

	if err := ctrl.ProbeHealth(context.Background()); err == nil {
		t.Fatal("expected the probe error to be returned to the caller")
	}
	after := ctrl.View()
	if after.Error != before.Error || after.Compare != before.Compare {
		t.Fatalf("expected view untouched, got %+v", after)
	}
}

func TestParseSlot(t *testing.T) {
	for value, want := range map[string]Slot{"1": SlotA, "a": SlotA, "B": SlotB, "2": SlotB} {
		got, err := ParseSlot(value)
		if err != nil || got != want {
			t.Fatalf("ParseSlot(%q) = %v, %v", value, got, err)
		}
	}
	if _, err := ParseSlot("3"); err == nil {
		t.Fatal("expected error for unknown slot")
	}
}
