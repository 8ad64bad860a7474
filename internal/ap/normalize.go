package ap

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	payloadschema "horse.fit/newswire/schema"

	"horse.fit/newswire/internal/stories"
)

// PublishDateLayout is the AP timestamp format; the zone suffix is a literal lowercase z.
const PublishDateLayout = "2006-01-02T15:04:05z"

// ParsePublishDate parses an AP timestamp as UTC.
func ParsePublishDate(value string) (time.Time, error) {
	parsed, err := time.ParseInLocation(PublishDateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse publish date %q: %w", value, err)
	}
	return parsed, nil
}

// Normalizer turns a content item and its nitf rendition into a candidate story.
type Normalizer struct {
	logger zerolog.Logger
}

func NewNormalizer(logger zerolog.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

func (n *Normalizer) Normalize(item *payloadschema.ContentItem, nitf []byte) (stories.Candidate, error) {
	if item == nil {
		return stories.Candidate{}, fmt.Errorf("content item is nil")
	}
	guid := strings.TrimSpace(item.AltIDs.ItemID)

	publishDate, err := ParsePublishDate(item.FirstCreated)
	if err != nil {
		return stories.Candidate{}, err
	}

	text, err := ExtractBodyText(nitf)
	if err != nil {
		return stories.Candidate{}, fmt.Errorf("extract text for %s: %w", guid, err)
	}

	storyURL := ""
	if len(item.Links) > 0 {
		storyURL = strings.TrimSpace(item.Links[0].Href)
	}
	if storyURL == "" {
		n.logger.Warn().
			Str("guid", guid).
			Msg("no public link, using nitf rendition url")
		storyURL = item.NITFHref()
	}
	if storyURL == "" {
		return stories.Candidate{}, fmt.Errorf("content item %s has neither a link nor a nitf rendition", guid)
	}

	description := ""
	if item.HeadlineExtended != nil {
		description = *item.HeadlineExtended
	} else {
		n.logger.Debug().
			Str("guid", guid).
			Msg("no extended headline, description left empty")
	}

	return stories.Candidate{
		GUID:        guid,
		URL:         storyURL,
		PublishDate: publishDate,
		Title:       item.Headline,
		Description: description,
		Text:        text,
		Content:     string(nitf),
	}, nil
}

// ExtractBodyText returns the trimmed text of the body.content element of a nitf document.
func ExtractBodyText(nitf []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(nitf))
	if err != nil {
		return "", fmt.Errorf("parse nitf: %w", err)
	}

	body := doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "body.content"
	}).First()
	if body.Length() == 0 {
		return "", fmt.Errorf("nitf has no body.content element")
	}
	return strings.TrimSpace(body.Text()), nil
}
