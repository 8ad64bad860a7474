package stories

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"horse.fit/newswire/internal/db"
)

// memoryStore is an in-memory Store. Admission transactions snapshot state
// and restore it on rollback.
type memoryStore struct {
	mu sync.Mutex

	inTx       bool
	media      map[int64]*db.Medium
	feeds      map[int64]*db.Feed
	stories    []*db.Story
	aliases    map[int64][]string
	feedLinks  map[[2]int64]struct{}
	downloads  []*db.Download
	texts      map[int64]string
	nextID     int64
	lockCalls  int
	rollbacks  int
	commits    int
	insertErr  error
	raceOnGUID string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		media:     make(map[int64]*db.Medium),
		feeds:     make(map[int64]*db.Feed),
		aliases:   make(map[int64][]string),
		feedLinks: make(map[[2]int64]struct{}),
		texts:     make(map[int64]string),
		nextID:    100,
	}
}

func (s *memoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memoryStore) addMedium(name string, fullText *bool, delay *int) *db.Medium {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &db.Medium{MediaID: s.id(), Name: name, URL: "https://" + name, FullTextRSS: fullText, ContentDelay: delay}
	s.media[m.MediaID] = m
	return m
}

func (s *memoryStore) InTransaction() bool { return s.inTx }

func (s *memoryStore) BeginAdmission(ctx context.Context) (AdmissionTx, error) {
	s.mu.Lock()
	snapshot := memorySnapshot{
		stories:   append([]*db.Story(nil), s.stories...),
		aliases:   make(map[int64][]string, len(s.aliases)),
		feedLinks: make(map[[2]int64]struct{}, len(s.feedLinks)),
	}
	for k, v := range s.aliases {
		snapshot.aliases[k] = append([]string(nil), v...)
	}
	for k := range s.feedLinks {
		snapshot.feedLinks[k] = struct{}{}
	}
	return &memoryTx{store: s, snapshot: snapshot}, nil
}

func (s *memoryStore) FindOrCreateMedium(ctx context.Context, medium db.Medium) (*db.Medium, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.media {
		if m.Name == medium.Name {
			return m, nil
		}
	}
	created := medium
	created.MediaID = s.id()
	s.media[created.MediaID] = &created
	return &created, nil
}

func (s *memoryStore) GetMedium(ctx context.Context, mediaID int64) (*db.Medium, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[mediaID]
	if !ok {
		return nil, db.ErrNoRows
	}
	return m, nil
}

func (s *memoryStore) FindOrCreateFeed(ctx context.Context, feed db.Feed) (*db.Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.feeds {
		if f.MediaID == feed.MediaID && f.Name == feed.Name && f.URL == feed.URL {
			return f, nil
		}
	}
	created := feed
	created.FeedsID = s.id()
	s.feeds[created.FeedsID] = &created
	return &created, nil
}

func (s *memoryStore) CreateDownload(ctx context.Context, d *db.Download) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.DownloadsID = s.id()
	copied := *d
	s.downloads = append(s.downloads, &copied)
	return nil
}

func (s *memoryStore) InsertDownloadText(ctx context.Context, downloadsID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[downloadsID] = text
	return nil
}

func (s *memoryStore) storyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stories)
}

type memorySnapshot struct {
	stories   []*db.Story
	aliases   map[int64][]string
	feedLinks map[[2]int64]struct{}
}

// memoryTx holds the store mutex from BeginAdmission until Commit or Rollback,
// mirroring the table lock.
type memoryTx struct {
	store    *memoryStore
	snapshot memorySnapshot
	done     bool
}

func (t *memoryTx) LockStories(ctx context.Context) error {
	t.store.lockCalls++
	return nil
}

func (t *memoryTx) Medium(ctx context.Context, mediaID int64) (*db.Medium, error) {
	m, ok := t.store.media[mediaID]
	if !ok {
		return nil, fmt.Errorf("load medium %d: %w", mediaID, db.ErrNoRows)
	}
	return m, nil
}

func (t *memoryTx) FindByGUIDOrURL(ctx context.Context, mediaID int64, guid, url string) (*db.Story, error) {
	for _, s := range t.store.stories {
		if s.MediaID != mediaID {
			continue
		}
		if s.GUID == guid || s.GUID == url || s.URL == guid || s.URL == url {
			return s, nil
		}
		for _, alias := range t.store.aliases[s.StoriesID] {
			if alias == guid || alias == url {
				return s, nil
			}
		}
	}
	return nil, nil
}

func (t *memoryTx) FindByTitleHash(ctx context.Context, mediaID int64, titleHash string, dayStart, dayEnd time.Time) (*db.Story, error) {
	for _, s := range t.store.stories {
		if s.MediaID != mediaID || s.NormalizedTitleHash == nil || *s.NormalizedTitleHash != titleHash {
			continue
		}
		if !s.PublishDate.Before(dayStart) && s.PublishDate.Before(dayEnd) {
			return s, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) AddStoryURL(ctx context.Context, storiesID int64, url string) error {
	for _, alias := range t.store.aliases[storiesID] {
		if alias == url {
			return nil
		}
	}
	t.store.aliases[storiesID] = append(t.store.aliases[storiesID], url)
	return nil
}

func (t *memoryTx) InsertStory(ctx context.Context, story *db.Story) error {
	if t.store.insertErr != nil {
		return t.store.insertErr
	}
	if t.store.raceOnGUID != "" && t.store.raceOnGUID == story.GUID {
		return &pgconn.PgError{Code: "23505", ConstraintName: guidConstraint}
	}
	for _, s := range t.store.stories {
		if s.MediaID == story.MediaID && s.GUID == story.GUID {
			return &pgconn.PgError{Code: "23505", ConstraintName: guidConstraint}
		}
	}
	story.StoriesID = t.store.id()
	t.store.stories = append(t.store.stories, story)
	return nil
}

func (t *memoryTx) LinkFeed(ctx context.Context, feedsID, storiesID int64) error {
	t.store.feedLinks[[2]int64{feedsID, storiesID}] = struct{}{}
	return nil
}

func (t *memoryTx) Commit(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already closed")
	}
	t.done = true
	t.store.commits++
	t.store.mu.Unlock()
	return nil
}

func (t *memoryTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.stories = t.snapshot.stories
	t.store.aliases = t.snapshot.aliases
	t.store.feedLinks = t.snapshot.feedLinks
	t.store.rollbacks++
	t.store.mu.Unlock()
	return nil
}

type recordingProcessor struct {
	mu      sync.Mutex
	stories []int64
	texts   []string
	err     error
}

func (p *recordingProcessor) ProcessExtracted(ctx context.Context, story *db.Story, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stories = append(p.stories, story.StoriesID)
	p.texts = append(p.texts, text)
	return p.err
}
