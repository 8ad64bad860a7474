package stories

import (
	"context"
	"time"

	"horse.fit/newswire/internal/db"
)

// Store is the persistence surface admission and import need.
type Store interface {
	// InTransaction reports whether the store is already bound to an open transaction.
	InTransaction() bool
	BeginAdmission(ctx context.Context) (AdmissionTx, error)

	FindOrCreateMedium(ctx context.Context, medium db.Medium) (*db.Medium, error)
	GetMedium(ctx context.Context, mediaID int64) (*db.Medium, error)
	FindOrCreateFeed(ctx context.Context, feed db.Feed) (*db.Feed, error)
	CreateDownload(ctx context.Context, d *db.Download) error
	InsertDownloadText(ctx context.Context, downloadsID int64, text string) error
}

// AdmissionTx is one admission transaction. Lookup methods return (nil, nil) when nothing matches.
type AdmissionTx interface {
	LockStories(ctx context.Context) error
	Medium(ctx context.Context, mediaID int64) (*db.Medium, error)
	FindByGUIDOrURL(ctx context.Context, mediaID int64, guid, url string) (*db.Story, error)
	FindByTitleHash(ctx context.Context, mediaID int64, titleHash string, dayStart, dayEnd time.Time) (*db.Story, error)
	AddStoryURL(ctx context.Context, storiesID int64, url string) error
	InsertStory(ctx context.Context, story *db.Story) error
	LinkFeed(ctx context.Context, feedsID, storiesID int64) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
