package stories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/globaltime"
)

const guidConstraint = "stories_guid"

// ErrInTransaction is returned when admission is attempted on a store that is
// already bound to an open transaction.
var ErrInTransaction = errors.New("stories: admission cannot run inside an open transaction")

// AdmissionError wraps a store failure while admitting one story.
type AdmissionError struct {
	GUID string
	Err  error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admit story %q: %v", e.GUID, e.Err)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

type Outcome int

const (
	// OutcomeCreated means a new story row was inserted.
	OutcomeCreated Outcome = iota + 1
	// OutcomeDuplicate means an existing story matched the candidate.
	OutcomeDuplicate
	// OutcomeConflict means the insert lost a guid race; the story exists but was not returned.
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Match names the signal that identified a duplicate.
type Match string

const (
	MatchNone    Match = ""
	MatchGUIDURL Match = "guid_url"
	MatchTitle   Match = "title_day"
)

type Result struct {
	Story   *db.Story
	Outcome Outcome
	Match   Match
}

// IsNew reports whether the admission created the story.
func (r Result) IsNew() bool {
	return r.Outcome == OutcomeCreated
}

// Admitter admits candidates into a medium, guaranteeing at most one story
// per guid, url, or normalized title and calendar day.
type Admitter struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

func NewAdmitter(store Store, logger zerolog.Logger) *Admitter {
	return &Admitter{
		store:  store,
		logger: logger,
		now:    globaltime.UTC,
	}
}

// Admit returns the existing duplicate of c or inserts it as a new story linked to feedsID.
func (a *Admitter) Admit(ctx context.Context, c Candidate, mediaID, feedsID int64) (Result, error) {
	if a.store.InTransaction() {
		return Result{}, ErrInTransaction
	}
	if err := c.Validate(); err != nil {
		return Result{}, &AdmissionError{GUID: c.GUID, Err: err}
	}

	tx, err := a.store.BeginAdmission(ctx)
	if err != nil {
		return Result{}, &AdmissionError{GUID: c.GUID, Err: fmt.Errorf("begin admission: %w", err)}
	}
	finished := false
	defer func() {
		if !finished {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := tx.LockStories(ctx); err != nil {
		return Result{}, &AdmissionError{GUID: c.GUID, Err: err}
	}

	medium, err := tx.Medium(ctx, mediaID)
	if err != nil {
		return Result{}, &AdmissionError{GUID: c.GUID, Err: err}
	}

	existing, match, err := a.findDuplicate(ctx, tx, c, medium)
	if err != nil {
		return Result{}, &AdmissionError{GUID: c.GUID, Err: err}
	}
	if existing != nil {
		if err := tx.Commit(ctx); err != nil {
			return Result{}, &AdmissionError{GUID: c.GUID, Err: fmt.Errorf("commit duplicate: %w", err)}
		}
		finished = true
		a.logger.Debug().
			Str("guid", c.GUID).
			Int64("stories_id", existing.StoriesID).
			Str("match", string(match)).
			Msg("story already present")
		return Result{Story: existing, Outcome: OutcomeDuplicate, Match: match}, nil
	}

	story := newStory(c, medium, a.now())
	if err := tx.InsertStory(ctx, story); err != nil {
		finished = true
		_ = tx.Rollback(ctx)
		if db.IsUniqueViolation(err, guidConstraint) {
			a.logger.Warn().
				Str("guid", c.GUID).
				Int64("media_id", mediaID).
				Msg("story guid already taken, treating as duplicate")
			return Result{Outcome: OutcomeConflict}, nil
		}
		return Result{}, &AdmissionError{GUID: c.GUID, Err: err}
	}

	if err := tx.LinkFeed(ctx, feedsID, story.StoriesID); err != nil {
		return Result{}, &AdmissionError{GUID: c.GUID, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, &AdmissionError{GUID: c.GUID, Err: fmt.Errorf("commit story: %w", err)}
	}
	finished = true

	return Result{Story: story, Outcome: OutcomeCreated}, nil
}

func (a *Admitter) findDuplicate(ctx context.Context, tx AdmissionTx, c Candidate, medium *db.Medium) (*db.Story, Match, error) {
	existing, err := tx.FindByGUIDOrURL(ctx, medium.MediaID, c.GUID, c.URL)
	if err != nil {
		return nil, MatchNone, err
	}
	if existing != nil {
		return existing, MatchGUIDURL, nil
	}

	if title := strings.TrimSpace(c.Title); title == "" || title == NoTitle {
		return nil, MatchNone, nil
	}

	hash := NormalizedTitleHash(c.Title, medium.Name)
	dayStart := globaltime.StartOfDay(c.PublishDate)
	dayEnd := dayStart.AddDate(0, 0, 1)
	existing, err = tx.FindByTitleHash(ctx, medium.MediaID, hash, dayStart, dayEnd)
	if err != nil {
		return nil, MatchNone, err
	}
	if existing == nil {
		return nil, MatchNone, nil
	}

	for _, alias := range []string{c.URL, c.GUID} {
		if strings.TrimSpace(alias) == "" {
			continue
		}
		if err := tx.AddStoryURL(ctx, existing.StoriesID, alias); err != nil {
			return nil, MatchNone, err
		}
	}
	return existing, MatchTitle, nil
}

func newStory(c Candidate, medium *db.Medium, collectedAt time.Time) *db.Story {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = NoTitle
	}
	hash := NormalizedTitleHash(title, medium.Name)

	fullText := medium.FullTextRSS != nil && *medium.FullTextRSS
	if strings.TrimSpace(c.Description) == "" {
		fullText = false
	}

	return &db.Story{
		MediaID:             medium.MediaID,
		URL:                 strings.TrimSpace(c.URL),
		GUID:                strings.TrimSpace(c.GUID),
		Title:               title,
		NormalizedTitleHash: &hash,
		Description:         c.Description,
		PublishDate:         c.PublishDate.UTC(),
		CollectDate:         collectedAt.UTC(),
		FullTextRSS:         fullText,
	}
}
