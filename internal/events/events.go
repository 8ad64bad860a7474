package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"horse.fit/newswire/internal/db"
)

const TypeStoryExtracted = "story.extracted"

// StoryExtracted announces a story whose text is ready for downstream processing.
type StoryExtracted struct {
	EventID     string    `json:"event_id"`
	Type        string    `json:"type"`
	StoriesID   int64     `json:"stories_id"`
	MediaID     int64     `json:"media_id"`
	GUID        string    `json:"guid"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Language    string    `json:"language,omitempty"`
	TextLength  int       `json:"text_length"`
	ExtractedAt time.Time `json:"extracted_at"`
}

func NewStoryExtracted(story *db.Story, language string, textLength int, extractedAt time.Time) StoryExtracted {
	return StoryExtracted{
		EventID:     uuid.NewString(),
		Type:        TypeStoryExtracted,
		StoriesID:   story.StoriesID,
		MediaID:     story.MediaID,
		GUID:        story.GUID,
		URL:         story.URL,
		Title:       story.Title,
		Language:    language,
		TextLength:  textLength,
		ExtractedAt: extractedAt.UTC(),
	}
}

type Publisher interface {
	PublishStoryExtracted(ctx context.Context, event StoryExtracted) error
	Close() error
}

// Nop drops every event; used when no brokers are configured.
type Nop struct{}

func (Nop) PublishStoryExtracted(context.Context, StoryExtracted) error { return nil }

func (Nop) Close() error { return nil }
