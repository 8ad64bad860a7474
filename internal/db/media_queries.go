package db

import (
	"context"
	"fmt"
	"strings"
)

// FindOrCreateMedium returns the medium with the given name, inserting it when missing.
func (p *Pool) FindOrCreateMedium(ctx context.Context, medium Medium) (*Medium, error) {
	name := strings.TrimSpace(medium.Name)
	if name == "" {
		return nil, fmt.Errorf("medium name is required")
	}

	const insertQuery = `
INSERT INTO newswire.media (name, url, full_text_rss, content_delay, foreign_rss_links)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name) DO NOTHING
`
	if _, err := p.Exec(ctx, insertQuery, name, medium.URL, medium.FullTextRSS, medium.ContentDelay, medium.ForeignRSSLinks); err != nil {
		return nil, fmt.Errorf("insert medium %q: %w", name, err)
	}

	found, err := p.GetMediumByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return found, nil
}

// UpsertMedium inserts the medium or overwrites its settings when the name already exists.
func (p *Pool) UpsertMedium(ctx context.Context, medium Medium) (*Medium, error) {
	name := strings.TrimSpace(medium.Name)
	if name == "" {
		return nil, fmt.Errorf("medium name is required")
	}

	const q = `
INSERT INTO newswire.media (name, url, full_text_rss, content_delay, foreign_rss_links)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (name) DO UPDATE
SET
	url = EXCLUDED.url,
	full_text_rss = EXCLUDED.full_text_rss,
	content_delay = EXCLUDED.content_delay,
	foreign_rss_links = EXCLUDED.foreign_rss_links,
	updated_at = now()
RETURNING media_id, name, url, full_text_rss, content_delay, foreign_rss_links, created_at, updated_at
`
	var out Medium
	if err := p.QueryRow(ctx, q, name, medium.URL, medium.FullTextRSS, medium.ContentDelay, medium.ForeignRSSLinks).Scan(
		&out.MediaID,
		&out.Name,
		&out.URL,
		&out.FullTextRSS,
		&out.ContentDelay,
		&out.ForeignRSSLinks,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("upsert medium %q: %w", name, err)
	}
	return &out, nil
}

func (p *Pool) GetMediumByName(ctx context.Context, name string) (*Medium, error) {
	const q = `
SELECT media_id, name, url, full_text_rss, content_delay, foreign_rss_links, created_at, updated_at
FROM newswire.media
WHERE name = $1
`
	var out Medium
	if err := p.QueryRow(ctx, q, name).Scan(
		&out.MediaID,
		&out.Name,
		&out.URL,
		&out.FullTextRSS,
		&out.ContentDelay,
		&out.ForeignRSSLinks,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("load medium %q: %w", name, err)
	}
	return &out, nil
}

func (p *Pool) GetMedium(ctx context.Context, mediaID int64) (*Medium, error) {
	const q = `
SELECT media_id, name, url, full_text_rss, content_delay, foreign_rss_links, created_at, updated_at
FROM newswire.media
WHERE media_id = $1
`
	var out Medium
	if err := p.QueryRow(ctx, q, mediaID).Scan(
		&out.MediaID,
		&out.Name,
		&out.URL,
		&out.FullTextRSS,
		&out.ContentDelay,
		&out.ForeignRSSLinks,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("load medium %d: %w", mediaID, err)
	}
	return &out, nil
}

// FindOrCreateFeed returns the feed matching (media_id, name, url), inserting it when missing.
func (p *Pool) FindOrCreateFeed(ctx context.Context, feed Feed) (*Feed, error) {
	if feed.MediaID <= 0 {
		return nil, fmt.Errorf("feed media_id must be > 0")
	}
	if strings.TrimSpace(feed.Name) == "" || strings.TrimSpace(feed.URL) == "" {
		return nil, fmt.Errorf("feed name and url are required")
	}
	feedType := strings.TrimSpace(feed.Type)
	if feedType == "" {
		feedType = FeedTypeSyndicated
	}

	const insertQuery = `
INSERT INTO newswire.feeds (media_id, name, url, type, active)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (media_id, name, url) DO NOTHING
`
	if _, err := p.Exec(ctx, insertQuery, feed.MediaID, feed.Name, feed.URL, feedType, feed.Active); err != nil {
		return nil, fmt.Errorf("insert feed %q: %w", feed.Name, err)
	}

	const selectQuery = `
SELECT feeds_id, media_id, name, url, type, active, last_attempted_download_time, last_successful_download_time, created_at
FROM newswire.feeds
WHERE media_id = $1
  AND name = $2
  AND url = $3
`
	var out Feed
	if err := p.QueryRow(ctx, selectQuery, feed.MediaID, feed.Name, feed.URL).Scan(
		&out.FeedsID,
		&out.MediaID,
		&out.Name,
		&out.URL,
		&out.Type,
		&out.Active,
		&out.LastAttemptedDownload,
		&out.LastSuccessfulDownload,
		&out.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("load feed %q: %w", feed.Name, err)
	}
	return &out, nil
}

// ListActiveSyndicatedFeeds returns active syndicated feeds, least recently attempted first.
func (p *Pool) ListActiveSyndicatedFeeds(ctx context.Context, limit int) ([]Feed, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT feeds_id, media_id, name, url, type, active, last_attempted_download_time, last_successful_download_time, created_at
FROM newswire.feeds
WHERE active
  AND type = 'syndicated'
ORDER BY last_attempted_download_time ASC NULLS FIRST, feeds_id ASC
LIMIT $1
`
	rows, err := p.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("query active feeds: %w", err)
	}
	defer rows.Close()

	feeds := make([]Feed, 0, limit)
	for rows.Next() {
		var f Feed
		if err := rows.Scan(
			&f.FeedsID,
			&f.MediaID,
			&f.Name,
			&f.URL,
			&f.Type,
			&f.Active,
			&f.LastAttemptedDownload,
			&f.LastSuccessfulDownload,
			&f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan feed row: %w", err)
		}
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate feed rows: %w", err)
	}
	return feeds, nil
}

// SetFeedActive enables or disables crawling of a feed.
func (p *Pool) SetFeedActive(ctx context.Context, feedsID int64, active bool) error {
	tag, err := p.Exec(ctx, `UPDATE newswire.feeds SET active = $2 WHERE feeds_id = $1`, feedsID, active)
	if err != nil {
		return fmt.Errorf("set feed %d active: %w", feedsID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set feed %d active: %w", feedsID, ErrNoRows)
	}
	return nil
}
