package stories

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/globaltime"
)

// Source names the medium and feed a batch of candidates is imported into.
type Source struct {
	MediumName string
	MediumURL  string
	FeedName   string
	FeedURL    string
	FeedType   string
	FeedActive bool
}

// Processor receives every newly created story together with its extracted text.
type Processor interface {
	ProcessExtracted(ctx context.Context, story *db.Story, text string) error
}

// Importer admits candidates and schedules or records their content downloads.
type Importer struct {
	store     Store
	admitter  *Admitter
	processor Processor
	logger    zerolog.Logger
	now       func() time.Time
}

func NewImporter(store Store, processor Processor, logger zerolog.Logger) *Importer {
	return &Importer{
		store:     store,
		admitter:  NewAdmitter(store, logger),
		processor: processor,
		logger:    logger,
		now:       globaltime.UTC,
	}
}

// ImportStory admits c into the source's medium and feed. A created story gets a
// finished content download holding c.Text and is handed to the processor.
func (i *Importer) ImportStory(ctx context.Context, src Source, c Candidate) (Result, error) {
	medium, err := i.store.FindOrCreateMedium(ctx, db.Medium{Name: src.MediumName, URL: src.MediumURL})
	if err != nil {
		return Result{}, fmt.Errorf("find medium %q: %w", src.MediumName, err)
	}

	feedType := src.FeedType
	if feedType == "" {
		feedType = db.FeedTypeSyndicated
	}
	feed, err := i.store.FindOrCreateFeed(ctx, db.Feed{
		MediaID: medium.MediaID,
		Name:    src.FeedName,
		URL:     src.FeedURL,
		Type:    feedType,
		Active:  src.FeedActive,
	})
	if err != nil {
		return Result{}, fmt.Errorf("find feed %q: %w", src.FeedName, err)
	}

	result, err := i.admitter.Admit(ctx, c, medium.MediaID, feed.FeedsID)
	if err != nil {
		return Result{}, err
	}
	if !result.IsNew() {
		return result, nil
	}

	story := result.Story
	download := &db.Download{
		FeedsID:      feed.FeedsID,
		StoriesID:    &story.StoriesID,
		URL:          story.URL,
		Host:         hostOf(story.URL),
		DownloadTime: i.now(),
		Type:         db.DownloadTypeContent,
		State:        db.DownloadStateSuccess,
		Priority:     1,
		Sequence:     1,
		Extracted:    true,
	}
	if err := i.store.CreateDownload(ctx, download); err != nil {
		return result, fmt.Errorf("create download for story %d: %w", story.StoriesID, err)
	}
	if err := i.store.InsertDownloadText(ctx, download.DownloadsID, c.Text); err != nil {
		return result, fmt.Errorf("store text for story %d: %w", story.StoriesID, err)
	}

	if i.processor != nil {
		if err := i.processor.ProcessExtracted(ctx, story, c.Text); err != nil {
			// the story is committed; a retry would only see it as a duplicate
			i.logger.Warn().
				Err(err).
				Int64("stories_id", story.StoriesID).
				Str("guid", story.GUID).
				Msg("failed to hand off story for processing")
		}
	}

	i.logger.Info().
		Int64("stories_id", story.StoriesID).
		Str("guid", story.GUID).
		Str("medium", medium.Name).
		Msg("imported story")
	return result, nil
}

// AddStoryAndContentDownload admits c into mediaID under the parent feed
// download and schedules a pending content download for a created story.
func (i *Importer) AddStoryAndContentDownload(ctx context.Context, c Candidate, mediaID int64, parent *db.Download) (Result, error) {
	if parent == nil {
		return Result{}, fmt.Errorf("parent download is required")
	}

	result, err := i.admitter.Admit(ctx, c, mediaID, parent.FeedsID)
	if err != nil {
		return Result{}, err
	}
	if !result.IsNew() {
		return result, nil
	}

	medium, err := i.store.GetMedium(ctx, mediaID)
	if err != nil {
		return result, fmt.Errorf("load medium %d: %w", mediaID, err)
	}

	story := result.Story
	download := &db.Download{
		FeedsID:      parent.FeedsID,
		StoriesID:    &story.StoriesID,
		Parent:       &parent.DownloadsID,
		URL:          story.URL,
		Host:         hostOf(story.URL),
		DownloadTime: ContentDownloadTime(i.now(), medium),
		Type:         db.DownloadTypeContent,
		State:        db.DownloadStatePending,
		Priority:     parent.Priority,
		Sequence:     1,
	}
	if err := i.store.CreateDownload(ctx, download); err != nil {
		return result, fmt.Errorf("create content download for story %d: %w", story.StoriesID, err)
	}
	return result, nil
}

// ContentDownloadTime defers now by the medium's content delay in hours.
func ContentDownloadTime(now time.Time, medium *db.Medium) time.Time {
	if medium == nil || medium.ContentDelay == nil || *medium.ContentDelay <= 0 {
		return now
	}
	return now.Add(time.Duration(*medium.ContentDelay) * time.Hour)
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}
