package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const downloadColumns = `downloads_id, feeds_id, stories_id, parent, url, host, download_time, type, state, path, error_message, priority, sequence, extracted`

func scanDownload(row interface{ Scan(dest ...any) error }, d *Download) error {
	return row.Scan(
		&d.DownloadsID,
		&d.FeedsID,
		&d.StoriesID,
		&d.Parent,
		&d.URL,
		&d.Host,
		&d.DownloadTime,
		&d.Type,
		&d.State,
		&d.Path,
		&d.ErrorMessage,
		&d.Priority,
		&d.Sequence,
		&d.Extracted,
	)
}

// CreateDownload inserts a download row and fills in its generated id.
func (p *Pool) CreateDownload(ctx context.Context, d *Download) error {
	if d == nil {
		return fmt.Errorf("download is nil")
	}
	if d.FeedsID <= 0 {
		return fmt.Errorf("download feeds_id must be > 0")
	}
	if strings.TrimSpace(d.URL) == "" {
		return fmt.Errorf("download url is required")
	}
	if d.DownloadTime.IsZero() {
		d.DownloadTime = time.Now().UTC()
	}

	const q = `
INSERT INTO newswire.downloads (
	feeds_id, stories_id, parent, url, host, download_time, type, state, path, error_message, priority, sequence, extracted
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING downloads_id
`
	if err := p.QueryRow(ctx, q,
		d.FeedsID,
		d.StoriesID,
		d.Parent,
		d.URL,
		d.Host,
		d.DownloadTime.UTC(),
		d.Type,
		d.State,
		d.Path,
		d.ErrorMessage,
		d.Priority,
		d.Sequence,
		d.Extracted,
	).Scan(&d.DownloadsID); err != nil {
		return fmt.Errorf("insert download for %s: %w", d.URL, err)
	}
	return nil
}

// InsertDownloadText stores the extracted text of a download, replacing any earlier text.
func (p *Pool) InsertDownloadText(ctx context.Context, downloadsID int64, text string) error {
	const q = `
INSERT INTO newswire.download_texts (downloads_id, download_text, download_text_length)
VALUES ($1, $2, $3)
ON CONFLICT (downloads_id) DO UPDATE
SET
	download_text = EXCLUDED.download_text,
	download_text_length = EXCLUDED.download_text_length
`
	if _, err := p.Exec(ctx, q, downloadsID, text, len([]rune(text))); err != nil {
		return fmt.Errorf("insert download text for download %d: %w", downloadsID, err)
	}
	return nil
}

// ClaimPendingContentDownloads moves up to limit due pending content downloads to
// the fetching state and returns them. Concurrent workers never claim the same row.
func (p *Pool) ClaimPendingContentDownloads(ctx context.Context, limit int, now time.Time) ([]Download, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	q := `
WITH due AS (
	SELECT downloads_id
	FROM newswire.downloads
	WHERE state = 'pending'
	  AND type = 'content'
	  AND download_time <= $1
	ORDER BY priority DESC, download_time ASC, downloads_id ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
)
UPDATE newswire.downloads d
SET state = 'fetching'
FROM due
WHERE d.downloads_id = due.downloads_id
RETURNING ` + prefixColumns("d", downloadColumns)

	rows, err := p.Query(ctx, q, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending downloads: %w", err)
	}
	defer rows.Close()

	claimed := make([]Download, 0, limit)
	for rows.Next() {
		var d Download
		if err := scanDownload(rows, &d); err != nil {
			return nil, fmt.Errorf("scan claimed download: %w", err)
		}
		claimed = append(claimed, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed downloads: %w", err)
	}
	return claimed, nil
}

// CompleteContentDownload stores text for a fetched content download and marks it successful.
func (p *Pool) CompleteContentDownload(ctx context.Context, downloadsID int64, text string) error {
	return p.Transaction(ctx, func(tx *Pool) error {
		if err := tx.InsertDownloadText(ctx, downloadsID, text); err != nil {
			return err
		}
		const q = `
UPDATE newswire.downloads
SET state = 'success', extracted = true, error_message = NULL
WHERE downloads_id = $1
`
		tag, err := tx.Exec(ctx, q, downloadsID)
		if err != nil {
			return fmt.Errorf("mark download %d successful: %w", downloadsID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("mark download %d successful: %w", downloadsID, ErrNoRows)
		}
		return nil
	})
}

// FailDownload records an error on a download.
func (p *Pool) FailDownload(ctx context.Context, downloadsID int64, message string) error {
	const q = `
UPDATE newswire.downloads
SET state = 'error', error_message = $2
WHERE downloads_id = $1
`
	if _, err := p.Exec(ctx, q, downloadsID, truncateMessage(message, 2000)); err != nil {
		return fmt.Errorf("mark download %d failed: %w", downloadsID, err)
	}
	return nil
}

// CreateFeedDownload records the start of a feed crawl.
func (p *Pool) CreateFeedDownload(ctx context.Context, feed Feed, now time.Time) (*Download, error) {
	d := &Download{
		FeedsID:      feed.FeedsID,
		URL:          feed.URL,
		Host:         hostOf(feed.URL),
		DownloadTime: now.UTC(),
		Type:         DownloadTypeFeed,
		State:        DownloadStateFetching,
		Priority:     1,
	}
	if err := p.CreateDownload(ctx, d); err != nil {
		return nil, err
	}

	const q = `
UPDATE newswire.feeds
SET last_attempted_download_time = $2
WHERE feeds_id = $1
`
	if _, err := p.Exec(ctx, q, feed.FeedsID, now.UTC()); err != nil {
		return nil, fmt.Errorf("touch feed %d: %w", feed.FeedsID, err)
	}
	return d, nil
}

// FinishFeedDownload closes a feed download, recording feedErr when the crawl failed.
func (p *Pool) FinishFeedDownload(ctx context.Context, d *Download, feedErr error, now time.Time) error {
	if d == nil {
		return fmt.Errorf("download is nil")
	}
	if feedErr != nil {
		return p.FailDownload(ctx, d.DownloadsID, feedErr.Error())
	}

	return p.Transaction(ctx, func(tx *Pool) error {
		if _, err := tx.Exec(ctx, `UPDATE newswire.downloads SET state = 'success' WHERE downloads_id = $1`, d.DownloadsID); err != nil {
			return fmt.Errorf("mark feed download %d successful: %w", d.DownloadsID, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE newswire.feeds SET last_successful_download_time = $2 WHERE feeds_id = $1`, d.FeedsID, now.UTC()); err != nil {
			return fmt.Errorf("touch feed %d: %w", d.FeedsID, err)
		}
		return nil
	})
}

// SetStoryLanguage stores the detected language code for a story.
func (p *Pool) SetStoryLanguage(ctx context.Context, storiesID int64, language string) error {
	var value *string
	if trimmed := strings.TrimSpace(language); trimmed != "" {
		value = &trimmed
	}
	if _, err := p.Exec(ctx, `UPDATE newswire.stories SET language = $2 WHERE stories_id = $1`, storiesID, value); err != nil {
		return fmt.Errorf("set language for story %d: %w", storiesID, err)
	}
	return nil
}

func (p *Pool) GetStory(ctx context.Context, storiesID int64) (*Story, error) {
	q := `SELECT ` + StoryColumns + ` FROM newswire.stories WHERE stories_id = $1`
	var s Story
	if err := ScanStory(p.QueryRow(ctx, q, storiesID), &s); err != nil {
		return nil, fmt.Errorf("load story %d: %w", storiesID, err)
	}
	return &s, nil
}

func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, part := range parts {
		parts[i] = alias + "." + strings.TrimSpace(part)
	}
	return strings.Join(parts, ", ")
}

func truncateMessage(message string, limit int) string {
	runes := []rune(message)
	if len(runes) <= limit {
		return message
	}
	return string(runes[:limit])
}
