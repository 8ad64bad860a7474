package archive

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"horse.fit/newswire/internal/ap"
	"horse.fit/newswire/internal/reader"
	"horse.fit/newswire/internal/stories"
)

const (
	guidPrefix      = "urn:publicid:ap.org:"
	invalidURLFmt   = "http://apnews.com/invalid/%s"
	maxDocumentSize = 32 << 20
)

var ErrMalformedDocument = errors.New("archive: malformed document")

type satomDocument struct {
	XMLName xml.Name    `xml:"sATOM"`
	Entry   *satomEntry `xml:"entry"`
}

type satomEntry struct {
	ID        string        `xml:"id"`
	Published string        `xml:"published"`
	Link      *satomLink    `xml:"link"`
	Content   *satomContent `xml:"content"`
}

type satomLink struct {
	Href string `xml:"href,attr"`
}

type satomContent struct {
	NITF *struct {
		Body *nitfBody `xml:"body"`
	} `xml:"nitf"`
}

type nitfBody struct {
	Head struct {
		Hedline struct {
			HL1 *innerXML `xml:"hl1"`
		} `xml:"hedline"`
		Abstract *innerXML `xml:"abstract"`
	} `xml:"body.head"`
	Content *struct {
		Block *innerXML `xml:"block"`
	} `xml:"body.content"`
}

type innerXML struct {
	Inner string `xml:",innerxml"`
}

// ParseDocument reads one sATOM archive document into a candidate.
func ParseDocument(r io.Reader) (stories.Candidate, error) {
	var doc satomDocument
	decoder := xml.NewDecoder(io.LimitReader(r, maxDocumentSize))
	decoder.Strict = false
	if err := decoder.Decode(&doc); err != nil {
		return stories.Candidate{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	entry := doc.Entry
	if entry == nil {
		return stories.Candidate{}, fmt.Errorf("%w: missing entry", ErrMalformedDocument)
	}
	if entry.Content == nil || entry.Content.NITF == nil || entry.Content.NITF.Body == nil {
		return stories.Candidate{}, fmt.Errorf("%w: missing content/nitf/body", ErrMalformedDocument)
	}
	body := entry.Content.NITF.Body

	title := ""
	if body.Head.Hedline.HL1 != nil {
		title = stripMarkup(body.Head.Hedline.HL1.Inner)
	}
	if title == "" {
		return stories.Candidate{}, fmt.Errorf("%w: missing headline", ErrMalformedDocument)
	}

	guid := strings.TrimPrefix(strings.TrimSpace(entry.ID), guidPrefix)
	if guid == "" {
		return stories.Candidate{}, fmt.Errorf("%w: missing id", ErrMalformedDocument)
	}

	publishDate, err := parsePublished(entry.Published)
	if err != nil {
		return stories.Candidate{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	storyURL := ""
	if entry.Link != nil {
		storyURL = strings.TrimSpace(entry.Link.Href)
	}
	if storyURL == "" {
		storyURL = fmt.Sprintf(invalidURLFmt, guid)
	}

	description := title
	if body.Head.Abstract != nil {
		description = stripMarkup(body.Head.Abstract.Inner)
	}

	content := ""
	if body.Content != nil && body.Content.Block != nil {
		content = body.Content.Block.Inner
	}

	return stories.Candidate{
		GUID:        guid,
		URL:         storyURL,
		PublishDate: publishDate,
		Title:       title,
		Description: description,
		Text:        stripMarkup(content),
		Content:     content,
	}, nil
}

func parsePublished(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("missing published date")
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed.UTC(), nil
	}
	return ap.ParsePublishDate(value)
}

// stripMarkup returns the text of an html or xml fragment with block
// boundaries kept as paragraph breaks.
func stripMarkup(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return reader.CleanText(fragment)
	}

	var parts []string
	doc.Find("p, hl1, hl2, li, td").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return reader.CleanText(doc.Text())
	}
	return reader.CleanText(strings.Join(parts, "\n\n"))
}
