package feeds

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/globaltime"
	"horse.fit/newswire/internal/reader"
	"horse.fit/newswire/internal/stories"
)

type Store interface {
	ListActiveSyndicatedFeeds(ctx context.Context, limit int) ([]db.Feed, error)
	CreateFeedDownload(ctx context.Context, feed db.Feed, now time.Time) (*db.Download, error)
	FinishFeedDownload(ctx context.Context, d *db.Download, feedErr error, now time.Time) error
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, params url.Values) ([]byte, error)
}

// Admitter is implemented by stories.Importer.
type Admitter interface {
	AddStoryAndContentDownload(ctx context.Context, c stories.Candidate, mediaID int64, parent *db.Download) (stories.Result, error)
}

type Summary struct {
	Feeds       int `json:"feeds"`
	FeedsFailed int `json:"feeds_failed"`
	Entries     int `json:"entries"`
	Created     int `json:"created"`
	Duplicates  int `json:"duplicates"`
	Failed      int `json:"failed"`
}

func (s *Summary) add(o Summary) {
	s.Feeds += o.Feeds
	s.FeedsFailed += o.FeedsFailed
	s.Entries += o.Entries
	s.Created += o.Created
	s.Duplicates += o.Duplicates
	s.Failed += o.Failed
}

// Crawler downloads syndicated feeds and schedules content downloads for new entries.
type Crawler struct {
	store    Store
	fetcher  Fetcher
	admitter Admitter
	parser   *gofeed.Parser
	now      func() time.Time
	logger   zerolog.Logger
}

func NewCrawler(store Store, fetcher Fetcher, admitter Admitter, logger zerolog.Logger) *Crawler {
	return &Crawler{
		store:    store,
		fetcher:  fetcher,
		admitter: admitter,
		parser:   gofeed.NewParser(),
		now:      globaltime.UTC,
		logger:   logger,
	}
}

// CrawlActive crawls up to limit active syndicated feeds, least recently
// attempted first. A failing feed is recorded and skipped.
func (c *Crawler) CrawlActive(ctx context.Context, limit int) (Summary, error) {
	feeds, err := c.store.ListActiveSyndicatedFeeds(ctx, limit)
	if err != nil {
		return Summary{}, err
	}

	var total Summary
	for _, feed := range feeds {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		summary, err := c.CrawlFeed(ctx, feed)
		total.add(summary)
		if err != nil {
			c.logger.Warn().
				Err(err).
				Int64("feeds_id", feed.FeedsID).
				Str("url", feed.URL).
				Msg("feed crawl failed")
		}
	}

	c.logger.Info().
		Int("feeds", total.Feeds).
		Int("feeds_failed", total.FeedsFailed).
		Int("entries", total.Entries).
		Int("created", total.Created).
		Int("duplicates", total.Duplicates).
		Int("failed", total.Failed).
		Msg("feed crawl complete")
	return total, nil
}

// CrawlFeed downloads and parses one feed. Entry failures are counted without
// failing the feed; fetch and parse failures mark the feed download as errored.
func (c *Crawler) CrawlFeed(ctx context.Context, feed db.Feed) (Summary, error) {
	summary := Summary{Feeds: 1}

	download, err := c.store.CreateFeedDownload(ctx, feed, c.now())
	if err != nil {
		summary.FeedsFailed++
		return summary, fmt.Errorf("create feed download: %w", err)
	}

	items, crawlErr := c.fetchItems(ctx, feed)
	if crawlErr == nil {
		summary.Entries = len(items)
		c.admitItems(ctx, feed, download, items, &summary)
	} else {
		summary.FeedsFailed++
	}

	if err := c.store.FinishFeedDownload(context.WithoutCancel(ctx), download, crawlErr, c.now()); err != nil {
		return summary, fmt.Errorf("finish feed download %d: %w", download.DownloadsID, err)
	}
	return summary, crawlErr
}

func (c *Crawler) fetchItems(ctx context.Context, feed db.Feed) ([]*gofeed.Item, error) {
	body, err := c.fetcher.Fetch(ctx, feed.URL, nil)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, fmt.Errorf("feed %s: forbidden", feed.URL)
	}

	parsed, err := c.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}
	return parsed.Items, nil
}

func (c *Crawler) admitItems(ctx context.Context, feed db.Feed, download *db.Download, items []*gofeed.Item, summary *Summary) {
	now := c.now()
	for _, item := range items {
		candidate, err := ItemToCandidate(item, now)
		if err != nil {
			summary.Failed++
			c.logger.Warn().Err(err).Int64("feeds_id", feed.FeedsID).Msg("skipping feed entry")
			continue
		}

		result, err := c.admitter.AddStoryAndContentDownload(ctx, candidate, feed.MediaID, download)
		if err != nil {
			summary.Failed++
			c.logger.Error().
				Err(err).
				Int64("feeds_id", feed.FeedsID).
				Str("guid", candidate.GUID).
				Msg("failed to add feed story")
			continue
		}
		if result.IsNew() {
			summary.Created++
		} else {
			summary.Duplicates++
		}
	}
}

// ItemToCandidate converts a feed entry. The guid falls back to the link, and
// the publish date to the updated date and then to now.
func ItemToCandidate(item *gofeed.Item, now time.Time) (stories.Candidate, error) {
	if item == nil {
		return stories.Candidate{}, fmt.Errorf("feed entry is nil")
	}

	link := strings.TrimSpace(item.Link)
	guid := strings.TrimSpace(item.GUID)
	if guid == "" {
		guid = link
	}
	if link == "" && isHTTPURL(guid) {
		link = guid
	}
	if guid == "" || link == "" {
		return stories.Candidate{}, fmt.Errorf("feed entry %q has neither guid nor link", item.Title)
	}

	publishDate := now
	switch {
	case item.PublishedParsed != nil:
		publishDate = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		publishDate = *item.UpdatedParsed
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = stories.NoTitle
	}

	return stories.Candidate{
		GUID:        guid,
		URL:         link,
		PublishDate: publishDate.UTC(),
		Title:       title,
		Description: htmlToText(item.Description),
		Content:     item.Content,
	}, nil
}

func isHTTPURL(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

func htmlToText(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return reader.CleanText(fragment)
	}
	return reader.CleanText(doc.Text())
}
