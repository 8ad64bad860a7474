package processing

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/events"
	"horse.fit/newswire/internal/globaltime"
	"horse.fit/newswire/internal/langdetect"
)

// LanguageStore persists the detected language of a story.
type LanguageStore interface {
	SetStoryLanguage(ctx context.Context, storiesID int64, language string) error
}

// Processor runs the post-extraction steps for a story: language detection and
// the downstream event.
type Processor struct {
	store     LanguageStore
	publisher events.Publisher
	detect    func(text string) string
	now       func() time.Time
	logger    zerolog.Logger
}

func New(store LanguageStore, publisher events.Publisher, logger zerolog.Logger) *Processor {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Processor{
		store:     store,
		publisher: publisher,
		detect:    langdetect.DetectISO6391,
		now:       globaltime.UTC,
		logger:    logger,
	}
}

func (p *Processor) ProcessExtracted(ctx context.Context, story *db.Story, text string) error {
	if story == nil {
		return fmt.Errorf("process extracted: story is nil")
	}

	language := p.detect(story.Title + "\n" + text)
	if language != "" {
		if err := p.store.SetStoryLanguage(ctx, story.StoriesID, language); err != nil {
			return fmt.Errorf("set language for story %d: %w", story.StoriesID, err)
		}
		story.Language = &language
	}

	event := events.NewStoryExtracted(story, language, utf8.RuneCountInString(text), p.now())
	if err := p.publisher.PublishStoryExtracted(ctx, event); err != nil {
		return err
	}

	p.logger.Debug().
		Int64("stories_id", story.StoriesID).
		Str("language", language).
		Str("event_id", event.EventID).
		Msg("story processed")
	return nil
}
