package db

import (
	"context"
	"fmt"
	"time"
)

// MediumStats stores per-medium story counts.
type MediumStats struct {
	MediaID      int64  `json:"media_id"`
	Name         string `json:"name"`
	Stories      int64  `json:"stories"`
	StoriesToday int64  `json:"stories_today"`
	Feeds        int64  `json:"feeds"`
}

// DownloadStateCount stores the number of downloads in one state.
type DownloadStateCount struct {
	State string `json:"state"`
	Count int64  `json:"count"`
}

// PipelineStats is the read model returned by the stats endpoint.
type PipelineStats struct {
	Day       string               `json:"day"`
	Media     []MediumStats        `json:"media"`
	Downloads []DownloadStateCount `json:"downloads"`
	Stories   int64                `json:"stories"`
	Aliases   int64                `json:"aliases"`
}

// QueryPipelineStats returns per-medium story counts and download backlog for the given UTC day.
func (p *Pool) QueryPipelineStats(ctx context.Context, dayStart, dayEnd time.Time) (*PipelineStats, error) {
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &PipelineStats{
		Day:       startUTC.Format("2006-01-02"),
		Media:     make([]MediumStats, 0, 8),
		Downloads: make([]DownloadStateCount, 0, 4),
	}

	const mediaQuery = `
SELECT
	m.media_id,
	m.name,
	COALESCE(sc.stories, 0)::BIGINT,
	COALESCE(sc.stories_today, 0)::BIGINT,
	COALESCE(fc.feeds, 0)::BIGINT
FROM newswire.media m
LEFT JOIN (
	SELECT
		media_id,
		COUNT(*) AS stories,
		COUNT(*) FILTER (WHERE collect_date >= $1 AND collect_date < $2) AS stories_today
	FROM newswire.stories
	GROUP BY media_id
) sc ON sc.media_id = m.media_id
LEFT JOIN (
	SELECT media_id, COUNT(*) AS feeds
	FROM newswire.feeds
	GROUP BY media_id
) fc ON fc.media_id = m.media_id
ORDER BY m.name
`
	rows, err := p.Query(ctx, mediaQuery, startUTC, endUTC)
	if err != nil {
		return nil, fmt.Errorf("query media stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row MediumStats
		if err := rows.Scan(&row.MediaID, &row.Name, &row.Stories, &row.StoriesToday, &row.Feeds); err != nil {
			return nil, fmt.Errorf("scan media stats row: %w", err)
		}
		stats.Media = append(stats.Media, row)
		stats.Stories += row.Stories
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate media stats rows: %w", err)
	}

	downloadRows, err := p.Query(ctx, `SELECT state, COUNT(*)::BIGINT FROM newswire.downloads GROUP BY state ORDER BY state`)
	if err != nil {
		return nil, fmt.Errorf("query download stats: %w", err)
	}
	defer downloadRows.Close()

	for downloadRows.Next() {
		var row DownloadStateCount
		if err := downloadRows.Scan(&row.State, &row.Count); err != nil {
			return nil, fmt.Errorf("scan download stats row: %w", err)
		}
		stats.Downloads = append(stats.Downloads, row)
	}
	if err := downloadRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate download stats rows: %w", err)
	}

	if err := p.QueryRow(ctx, `SELECT COUNT(*)::BIGINT FROM newswire.story_urls`).Scan(&stats.Aliases); err != nil {
		return nil, fmt.Errorf("count story aliases: %w", err)
	}

	return stats, nil
}
