package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/chriskillpack/phototag"
	"github.com/chriskillpack/phototag/internal/bridge"
	"github.com/chriskillpack/phototag/internal/config"
)

const maxErrors = 5

var errTooManyErrors = errors.New("too many errors, exiting")

// taggedImage is one line of -tag-folder output.
type taggedImage struct {
	phototag.ImageRecord
	Error string `json:"error,omitempty"`
}

// newLimiter spreads requestsPerMinute evenly over the minute. Zero disables
// throttling.
func newLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

// tagAll generates tags for each image, calling the bridge once per image.
// Records are updated in place. onDone is called after every image regardless
// of outcome. No further images are started once stop is closed or maxErrors
// images have failed. Images already in flight run to completion.
func tagAll(ctx context.Context, b *bridge.Bridge, images []taggedImage, concurrency int, limiter *rate.Limiter, stop <-chan struct{}, onDone func()) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	// Only the limiter wait is interrupted by stop, not running requests.
	waitCtx, cancelWait := context.WithCancel(gctx)
	defer cancelWait()
	go func() {
		select {
		case <-stop:
			cancelWait()
		case <-waitCtx.Done():
		}
	}()

	var (
		mu     sync.Mutex
		errcnt int
	)
	tooManyErrors := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return errcnt >= maxErrors
	}
	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	for i := range images {
		if stopped() || tooManyErrors() || gctx.Err() != nil {
			break
		}
		if err := limiter.Wait(waitCtx); err != nil {
			break
		}
		// stop may have closed while waiting for the limiter
		if stopped() {
			break
		}

		g.Go(func() error {
			defer onDone()

			img := &images[i]
			args, _ := json.Marshal(map[string]string{"imagePath": img.Path})
			result, err := b.Invoke(gctx, bridge.CmdGenerateTags, args)
			if err != nil {
				mu.Lock()
				errcnt++
				mu.Unlock()
				img.Error = err.Error()
				return nil
			}
			img.Tags = result.([]string)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if tooManyErrors() {
		return errTooManyErrors
	}
	return ctx.Err()
}

func writeTagged(w io.Writer, images []taggedImage) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, img := range images {
		if err := enc.Encode(img); err != nil {
			return err
		}
	}
	return nil
}

// runTagFolder tags at most count images in folder, all of them when count is
// negative.
func runTagFolder(ctx context.Context, b *bridge.Bridge, folder string, count int, cfg *config.Config, logger zerolog.Logger) error {
	// All functionality from this point on requires the LLM server. Check if
	// it is healthy.
	healthy, err := b.Invoke(ctx, bridge.CmdCheckOllama, nil)
	if err != nil {
		return err
	}
	if !healthy.(bool) {
		return fmt.Errorf("server is not responding")
	}

	args, err := json.Marshal(map[string]string{"folderPath": folder})
	if err != nil {
		return err
	}
	result, err := b.Invoke(ctx, bridge.CmdScanFolder, args)
	if err != nil {
		return err
	}
	records := result.([]phototag.ImageRecord)
	if count > -1 {
		records = records[:min(len(records), count)]
	}

	images := make([]taggedImage, len(records))
	for i, r := range records {
		images[i].ImageRecord = r
	}
	logger.Info().Int("images", len(images)).Str("folder", folder).Msg("tagging")

	bar := progressbar.NewOptions(
		len(images),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Tagging"),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(os.Stderr) }),
	)

	err = tagAll(ctx, b, images, cfg.Concurrency, newLimiter(cfg.RequestsPerMinute), lameduckCh, func() { bar.Add(1) })
	bar.Finish()

	if werr := writeTagged(os.Stdout, images); werr != nil {
		return werr
	}
	return err
}
