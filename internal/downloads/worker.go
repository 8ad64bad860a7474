package downloads

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/globaltime"
	"horse.fit/newswire/internal/reader"
	"horse.fit/newswire/internal/stories"
)

const forbiddenMessage = "forbidden"

// Store is the slice of the database the worker needs.
type Store interface {
	ClaimPendingContentDownloads(ctx context.Context, limit int, now time.Time) ([]db.Download, error)
	CompleteContentDownload(ctx context.Context, downloadsID int64, text string) error
	FailDownload(ctx context.Context, downloadsID int64, message string) error
	GetStory(ctx context.Context, storiesID int64) (*db.Story, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

type Options struct {
	Concurrency int
	Now         func() time.Time
}

type Summary struct {
	Claimed   int `json:"claimed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Worker fetches pending content downloads, extracts their text and hands the
// story on for processing.
type Worker struct {
	store       Store
	fetcher     Fetcher
	processor   stories.Processor
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

func NewWorker(store Store, fetcher Fetcher, processor stories.Processor, logger zerolog.Logger, opts Options) *Worker {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	now := opts.Now
	if now == nil {
		now = globaltime.UTC
	}
	return &Worker{
		store:       store,
		fetcher:     fetcher,
		processor:   processor,
		concurrency: concurrency,
		now:         now,
		logger:      logger,
	}
}

// RunOnce claims up to limit due downloads and processes them. A failing
// download is recorded on its row and does not stop the batch.
func (w *Worker) RunOnce(ctx context.Context, limit int) (Summary, error) {
	start := w.now()
	claimed, err := w.store.ClaimPendingContentDownloads(ctx, limit, start)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Claimed: len(claimed)}
	if len(claimed) == 0 {
		return summary, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, w.concurrency)
	)
	for i := range claimed {
		d := claimed[i]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			err := w.process(ctx, d)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
				return
			}
			summary.Succeeded++
		}()
	}
	wg.Wait()

	w.logger.Info().
		Int("claimed", summary.Claimed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Dur("elapsed", w.now().Sub(start)).
		Msg("content downloads processed")
	return summary, ctx.Err()
}

func (w *Worker) process(ctx context.Context, d db.Download) error {
	logger := w.logger.With().Int64("downloads_id", d.DownloadsID).Str("url", d.URL).Logger()

	var story *db.Story
	if d.StoriesID != nil {
		loaded, err := w.store.GetStory(ctx, *d.StoriesID)
		if err != nil {
			logger.Warn().Err(err).Int64("stories_id", *d.StoriesID).Msg("story not found for download")
		} else {
			story = loaded
		}
	}

	text, err := w.fetchText(ctx, d, story)
	if err != nil {
		logger.Warn().Err(err).Msg("content download failed")
		if failErr := w.store.FailDownload(context.WithoutCancel(ctx), d.DownloadsID, err.Error()); failErr != nil {
			logger.Error().Err(failErr).Msg("failed to record download error")
		}
		return err
	}

	if err := w.store.CompleteContentDownload(ctx, d.DownloadsID, text); err != nil {
		logger.Error().Err(err).Msg("failed to store download text")
		return err
	}

	if story == nil || w.processor == nil {
		return nil
	}
	if err := w.processor.ProcessExtracted(ctx, story, text); err != nil {
		logger.Error().Err(err).Int64("stories_id", story.StoriesID).Msg("failed to process story")
		return err
	}
	return nil
}

// errForbidden marks content the host refused to serve.
var errForbidden = errors.New(forbiddenMessage)

func (w *Worker) fetchText(ctx context.Context, d db.Download, story *db.Story) (string, error) {
	body, err := w.fetcher.Fetch(ctx, d.URL, nil)
	if err != nil {
		return "", err
	}
	if body == nil {
		return "", errForbidden
	}

	title := ""
	if story != nil {
		title = story.Title
	}
	text, err := reader.ExtractText(body, d.URL, http.DetectContentType(body), title)
	if err != nil {
		return "", fmt.Errorf("extract text: %w", err)
	}
	return text, nil
}
