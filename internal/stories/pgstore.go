package stories

import (
	"context"
	"fmt"
	"time"

	"horse.fit/newswire/internal/db"
)

// PoolStore is the Postgres Store.
type PoolStore struct {
	pool *db.Pool
}

func NewPoolStore(pool *db.Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

func (s *PoolStore) InTransaction() bool {
	return s.pool.InTransaction()
}

func (s *PoolStore) BeginAdmission(ctx context.Context) (AdmissionTx, error) {
	tx, err := s.pool.BeginTx(ctx, db.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &poolAdmissionTx{tx: tx}, nil
}

func (s *PoolStore) FindOrCreateMedium(ctx context.Context, medium db.Medium) (*db.Medium, error) {
	return s.pool.FindOrCreateMedium(ctx, medium)
}

func (s *PoolStore) GetMedium(ctx context.Context, mediaID int64) (*db.Medium, error) {
	return s.pool.GetMedium(ctx, mediaID)
}

func (s *PoolStore) FindOrCreateFeed(ctx context.Context, feed db.Feed) (*db.Feed, error) {
	return s.pool.FindOrCreateFeed(ctx, feed)
}

func (s *PoolStore) CreateDownload(ctx context.Context, d *db.Download) error {
	return s.pool.CreateDownload(ctx, d)
}

func (s *PoolStore) InsertDownloadText(ctx context.Context, downloadsID int64, text string) error {
	return s.pool.InsertDownloadText(ctx, downloadsID, text)
}

type poolAdmissionTx struct {
	tx db.Tx
}

// LockStories takes a table lock that conflicts with itself, so concurrent
// admissions run one at a time while plain readers proceed.
func (t *poolAdmissionTx) LockStories(ctx context.Context) error {
	if _, err := t.tx.Exec(ctx, `LOCK TABLE newswire.stories IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return fmt.Errorf("lock stories: %w", err)
	}
	return nil
}

func (t *poolAdmissionTx) Medium(ctx context.Context, mediaID int64) (*db.Medium, error) {
	const q = `
SELECT media_id, name, url, full_text_rss, content_delay, foreign_rss_links, created_at, updated_at
FROM newswire.media
WHERE media_id = $1
`
	var m db.Medium
	if err := t.tx.QueryRow(ctx, q, mediaID).Scan(
		&m.MediaID,
		&m.Name,
		&m.URL,
		&m.FullTextRSS,
		&m.ContentDelay,
		&m.ForeignRSSLinks,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("load medium %d: %w", mediaID, err)
	}
	return &m, nil
}

func (t *poolAdmissionTx) FindByGUIDOrURL(ctx context.Context, mediaID int64, guid, url string) (*db.Story, error) {
	q := `
SELECT ` + db.StoryColumns + `
FROM newswire.stories
WHERE media_id = $1
  AND (
	guid IN ($2, $3)
	OR url IN ($2, $3)
	OR stories_id IN (
		SELECT su.stories_id
		FROM newswire.story_urls su
		WHERE su.url IN ($2, $3)
	)
  )
ORDER BY stories_id
LIMIT 1
`
	return t.findOne(ctx, q, mediaID, guid, url)
}

func (t *poolAdmissionTx) FindByTitleHash(ctx context.Context, mediaID int64, titleHash string, dayStart, dayEnd time.Time) (*db.Story, error) {
	q := `
SELECT ` + db.StoryColumns + `
FROM newswire.stories
WHERE media_id = $1
  AND normalized_title_hash = $2::uuid
  AND publish_date >= $3
  AND publish_date < $4
ORDER BY stories_id
LIMIT 1
`
	return t.findOne(ctx, q, mediaID, titleHash, dayStart.UTC(), dayEnd.UTC())
}

func (t *poolAdmissionTx) findOne(ctx context.Context, q string, args ...any) (*db.Story, error) {
	var s db.Story
	if err := db.ScanStory(t.tx.QueryRow(ctx, q, args...), &s); err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("find duplicate story: %w", err)
	}
	return &s, nil
}

func (t *poolAdmissionTx) AddStoryURL(ctx context.Context, storiesID int64, url string) error {
	const q = `
INSERT INTO newswire.story_urls (stories_id, url)
VALUES ($1, $2)
ON CONFLICT (url, stories_id) DO NOTHING
`
	if _, err := t.tx.Exec(ctx, q, storiesID, url); err != nil {
		return fmt.Errorf("add alias for story %d: %w", storiesID, err)
	}
	return nil
}

func (t *poolAdmissionTx) InsertStory(ctx context.Context, story *db.Story) error {
	const q = `
INSERT INTO newswire.stories (
	media_id, url, guid, title, normalized_title_hash, description, publish_date, collect_date, full_text_rss
)
VALUES ($1, $2, $3, $4, $5::uuid, $6, $7, $8, $9)
RETURNING stories_id
`
	return t.tx.QueryRow(ctx, q,
		story.MediaID,
		story.URL,
		story.GUID,
		story.Title,
		story.NormalizedTitleHash,
		story.Description,
		story.PublishDate.UTC(),
		story.CollectDate.UTC(),
		story.FullTextRSS,
	).Scan(&story.StoriesID)
}

func (t *poolAdmissionTx) LinkFeed(ctx context.Context, feedsID, storiesID int64) error {
	const q = `
INSERT INTO newswire.feeds_stories_map (feeds_id, stories_id)
VALUES ($1, $2)
ON CONFLICT (feeds_id, stories_id) DO NOTHING
`
	if _, err := t.tx.Exec(ctx, q, feedsID, storiesID); err != nil {
		return fmt.Errorf("link story %d to feed %d: %w", storiesID, feedsID, err)
	}
	return nil
}

func (t *poolAdmissionTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *poolAdmissionTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// GUIDChecker answers whether a medium already holds a story with a given guid.
type GUIDChecker struct {
	pool       *db.Pool
	mediumName string
}

func NewGUIDChecker(pool *db.Pool, mediumName string) *GUIDChecker {
	return &GUIDChecker{pool: pool, mediumName: mediumName}
}

func (c *GUIDChecker) StoryExists(ctx context.Context, guid string) (bool, error) {
	return c.pool.StoryGUIDExists(ctx, c.mediumName, guid)
}
