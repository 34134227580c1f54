// Command facecompare compares the faces in two local image files using the
// face comparison service.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/face-match/internal/apiclient"
	"github.com/example/face-match/internal/config"
	"github.com/example/face-match/internal/logging"
	"github.com/example/face-match/internal/session"
	"github.com/example/face-match/internal/upload"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	flags := flag.NewFlagSet("facecompare", flag.ContinueOnError)
	flags.SetOutput(stderr)
	host := flags.String("host", "localhost", "host the page would be served from; selects the backend")
	apiURL := flags.String("api", "", "comparison service base URL (overrides -host)")
	timeout := flags.Duration("timeout", cfg.RequestTimeout, "comparison request timeout")
	verbose := flags.Bool("v", false, "log to stderr")
	flags.Usage = func() {
		fmt.Fprintln(stderr, "usage: facecompare [flags] <image-a> <image-b>")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if flags.NArg() != 2 {
		flags.Usage()
		return 2
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = logging.NewLogger(cfg.LogLevel); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer logger.Sync() //nolint:errcheck
	}

	baseURL := *apiURL
	if baseURL == "" {
		baseURL = cfg.ResolveBaseURL(*host)
	}
	client := apiclient.New(baseURL, *timeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := session.DefaultOptions()
	opts.OnStatus = func(message string) {
		fmt.Fprintln(stderr, message)
	}
	ctrl := session.NewController("cli", client, nil, logger, opts)
	defer ctrl.Close()

	go func() {
		probeCtx, cancel := context.WithTimeout(ctx, cfg.HealthTimeout)
		defer cancel()
		_ = ctrl.ProbeHealth(probeCtx)
	}()

	if err := loadImages(ctx, ctrl, flags.Arg(0), flags.Arg(1)); err != nil {
		fmt.Fprintln(stderr, bannerOr(ctrl, err))
		return 1
	}

	if err := ctrl.Compare(ctx); err != nil {
		fmt.Fprintln(stderr, bannerOr(ctrl, err))
		return 1
	}

	printResults(stdout, ctrl.View().Results)
	return 0
}

// loadImages fills both slots concurrently.
func loadImages(ctx context.Context, ctrl *session.Controller, pathA, pathB string) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for slot, path := range map[session.Slot]string{session.SlotA: pathA, session.SlotB: pathB} {
		slot, path := slot, path
		group.Go(func() error {
			file, closer, err := upload.Open(path)
			if err != nil {
				return err
			}
			defer closer.Close()
			return ctrl.Upload(groupCtx, slot, file)
		})
	}
	return group.Wait()
}

func bannerOr(ctrl *session.Controller, err error) string {
	if banner := ctrl.View().Error; banner.Visible && banner.Text != "" {
		return banner.Text
	}
	return err.Error()
}

func printResults(w io.Writer, r session.Results) {
	fmt.Fprintf(w, "Match:      %s\n", r.PercentageText)
	fmt.Fprintf(w, "Level:      %s\n", r.LevelText)
	fmt.Fprintf(w, "Confidence: %s\n", r.Confidence)
	fmt.Fprintf(w, "Distance:   %s\n", r.DetailDistance)
	if r.Verified != nil {
		fmt.Fprintf(w, "Verified:   %t\n", *r.Verified)
	}
	fmt.Fprintln(w, r.TimeNote)
}
