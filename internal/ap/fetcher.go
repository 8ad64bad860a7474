package ap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	payloadschema "horse.fit/newswire/schema"

	"horse.fit/newswire/internal/globaltime"
	"horse.fit/newswire/internal/httpfetch"
	"horse.fit/newswire/internal/stories"
)

const (
	DefaultMinLookback = 43200 * time.Second
	DefaultMaxLookback = 129600 * time.Second

	pageSize   = 100
	searchSort = "versioncreated:desc"

	FeedName = "API Feed"
	FeedURL  = "http://ap.com"

	DefaultMediumName = "The Associated Press"
	DefaultMediumURL  = "http://apnews.com"
)

var ErrInvalidWindow = errors.New("ap: max lookback cannot be less than min lookback")

// Window bounds the ages of fetched stories. A nil bound is disabled.
type Window struct {
	// MinLookback drops stories younger than this from the result.
	MinLookback *time.Duration
	// MaxLookback stops paging once stories older than this are reached.
	MaxLookback *time.Duration
}

func DefaultWindow() Window {
	minLookback := DefaultMinLookback
	maxLookback := DefaultMaxLookback
	return Window{MinLookback: &minLookback, MaxLookback: &maxLookback}
}

func (w Window) Validate() error {
	if w.MinLookback != nil && w.MaxLookback != nil && *w.MaxLookback < *w.MinLookback {
		return ErrInvalidWindow
	}
	return nil
}

// ExistenceChecker reports whether a guid is already stored, so its body is not fetched again.
type ExistenceChecker interface {
	StoryExists(ctx context.Context, guid string) (bool, error)
}

// SeenRecorder is implemented by checkers that cache admitted guids.
type SeenRecorder interface {
	MarkSeen(ctx context.Context, guid string) error
}

// Importer admits candidates into the AP medium.
type Importer interface {
	ImportStory(ctx context.Context, src stories.Source, c stories.Candidate) (stories.Result, error)
}

// AdmitSummary counts the outcomes of one fetch-and-admit run.
type AdmitSummary struct {
	RunID      string `json:"run_id"`
	Fetched    int    `json:"fetched"`
	Created    int    `json:"created"`
	Duplicates int    `json:"duplicates"`
	Conflicts  int    `json:"conflicts"`
	Failed     int    `json:"failed"`
}

type FetcherOptions struct {
	MediumName string
	MediumURL  string
	Existing   ExistenceChecker
	Now        func() time.Time
}

// Fetcher pulls new stories with a bounded feed call followed by age-bounded search paging.
type Fetcher struct {
	client     *Client
	normalizer *Normalizer
	existing   ExistenceChecker
	mediumName string
	mediumURL  string
	now        func() time.Time
	logger     zerolog.Logger
}

func NewFetcher(client *Client, logger zerolog.Logger, opts FetcherOptions) *Fetcher {
	now := opts.Now
	if now == nil {
		now = globaltime.UTC
	}
	mediumName := opts.MediumName
	if mediumName == "" {
		mediumName = DefaultMediumName
	}
	mediumURL := opts.MediumURL
	if mediumURL == "" {
		mediumURL = DefaultMediumURL
	}
	return &Fetcher{
		client:     client,
		normalizer: NewNormalizer(logger),
		existing:   opts.Existing,
		mediumName: mediumName,
		mediumURL:  mediumURL,
		now:        now,
		logger:     logger,
	}
}

// Source is where fetched stories are admitted.
func (f *Fetcher) Source() stories.Source {
	return MediumSource(f.mediumName, f.mediumURL)
}

// MediumSource is the AP medium and its inactive API feed. Archive imports
// use the same source as live fetches.
func MediumSource(mediumName, mediumURL string) stories.Source {
	if mediumName == "" {
		mediumName = DefaultMediumName
	}
	if mediumURL == "" {
		mediumURL = DefaultMediumURL
	}
	return stories.Source{
		MediumName: mediumName,
		MediumURL:  mediumURL,
		FeedName:   FeedName,
		FeedURL:    FeedURL,
		FeedType:   "syndicated",
		FeedActive: false,
	}
}

// FetchNewStories returns unseen stories ordered newest first, dropping any
// younger than the window's min lookback.
func (f *Fetcher) FetchNewStories(ctx context.Context, window Window) ([]stories.Candidate, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	f.client.Limiter().Reset()
	start := f.now()

	items, err := f.fetchFeed(ctx)
	if err != nil {
		return nil, err
	}

	oldest := f.oldestAge(items)
	if window.MaxLookback == nil || oldest < *window.MaxLookback {
		f.logger.Debug().
			Int("stories", len(items)).
			Dur("oldest", oldest).
			Msg("feed exhausted before max lookback, searching older stories")

		exclude := make(map[string]struct{}, len(items))
		for guid := range items {
			exclude[guid] = struct{}{}
		}
		searched, err := f.fetchSearch(ctx, window.MaxLookback, exclude)
		if err != nil {
			return nil, err
		}
		for guid, c := range searched {
			items[guid] = c
		}
	}

	out := make([]stories.Candidate, 0, len(items))
	for _, c := range items {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PublishDate.Equal(out[j].PublishDate) {
			return out[i].GUID < out[j].GUID
		}
		return out[i].PublishDate.After(out[j].PublishDate)
	})
	f.logger.Info().Int("stories", len(out)).Msg("found new stories before min lookback")

	if window.MinLookback != nil {
		cutoff := start.Add(-*window.MinLookback)
		kept := out[:0]
		for _, c := range out {
			if c.PublishDate.Before(cutoff) {
				kept = append(kept, c)
			}
		}
		out = kept
	}

	f.logger.Info().Int("stories", len(out)).Msg("returning new stories")
	return out, nil
}

// FetchAndAdmitNewStories fetches new stories and imports each one; a failed
// import is logged and counted without stopping the batch.
func (f *Fetcher) FetchAndAdmitNewStories(ctx context.Context, importer Importer, window Window) (AdmitSummary, error) {
	summary := AdmitSummary{RunID: uuid.NewString()}
	logger := f.logger.With().Str("run_id", summary.RunID).Logger()

	candidates, err := f.FetchNewStories(ctx, window)
	if err != nil {
		return summary, err
	}
	summary.Fetched = len(candidates)

	src := f.Source()
	recorder, _ := f.existing.(SeenRecorder)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := importer.ImportStory(ctx, src, c)
		if err != nil {
			summary.Failed++
			logger.Error().
				Err(err).
				Str("guid", c.GUID).
				Msg("failed to import story")
			continue
		}

		switch result.Outcome {
		case stories.OutcomeCreated:
			summary.Created++
		case stories.OutcomeDuplicate:
			summary.Duplicates++
		case stories.OutcomeConflict:
			summary.Conflicts++
		}

		if recorder != nil {
			if err := recorder.MarkSeen(ctx, c.GUID); err != nil {
				logger.Warn().Err(err).Str("guid", c.GUID).Msg("failed to cache seen guid")
			}
		}
	}

	logger.Info().
		Int("fetched", summary.Fetched).
		Int("created", summary.Created).
		Int("duplicates", summary.Duplicates).
		Int("conflicts", summary.Conflicts).
		Int("failed", summary.Failed).
		Msg("ap fetch complete")
	return summary, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context) (map[string]stories.Candidate, error) {
	page, err := f.client.Feed(ctx, url.Values{"page_size": {strconv.Itoa(pageSize)}})
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	return f.processItems(ctx, page.Items, nil, nil)
}

func (f *Fetcher) fetchSearch(ctx context.Context, maxLookback *time.Duration, exclude map[string]struct{}) (map[string]stories.Candidate, error) {
	items := make(map[string]stories.Candidate)
	params := url.Values{
		"sort":      {searchSort},
		"page_size": {strconv.Itoa(pageSize)},
	}

	for {
		page, err := f.client.Search(ctx, params)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			f.logger.Error().Err(err).Msg("search page failed, keeping stories fetched so far")
			break
		}
		if len(page.Items) == 0 {
			break
		}

		processed, err := f.processItems(ctx, page.Items, maxLookback, exclude)
		if err != nil {
			return nil, err
		}
		for guid, c := range processed {
			items[guid] = c
		}

		oldest := f.oldestAge(items)
		if maxLookback != nil && oldest > *maxLookback {
			f.logger.Debug().Dur("oldest", oldest).Msg("reached max lookback")
			break
		}
		if page.NextPage == "" {
			break
		}
		for key, values := range QueryParams(page.NextPage) {
			params[key] = values
		}
	}

	return items, nil
}

// processItems fetches and normalizes each page item. Items already stored or
// excluded are skipped; a failing item is logged and skipped. With a max
// lookback, processing stops after the first item older than it.
func (f *Fetcher) processItems(ctx context.Context, items []PageItem, maxLookback *time.Duration, exclude map[string]struct{}) (map[string]stories.Candidate, error) {
	out := make(map[string]stories.Candidate, len(items))

	for i := range items {
		item := &items[i].Item
		guid := item.AltIDs.ItemID
		if guid == "" {
			f.logger.Warn().Int("index", i).Msg("page item without itemid, skipping")
			continue
		}

		if _, ok := exclude[guid]; ok {
			f.logger.Debug().Str("guid", guid).Msg("story already fetched this run, skipping")
			continue
		}
		if f.existing != nil {
			exists, err := f.existing.StoryExists(ctx, guid)
			if err != nil {
				f.logger.Warn().Err(err).Str("guid", guid).Msg("existence check failed, fetching anyway")
			} else if exists {
				f.logger.Info().Str("guid", guid).Msg("story already stored, skipping")
				continue
			}
		}

		f.logger.Info().Str("guid", guid).Int("version", item.Version).Msg("found new story")
		c, ok, err := f.fetchItem(ctx, item)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if httpfetch.IsFetchError(err) {
				f.logger.Error().Err(err).Str("guid", guid).Msg("story unreachable after retries, skipping")
			} else {
				f.logger.Error().Err(err).Str("guid", guid).Msg("failed to decode story, skipping")
			}
			continue
		}
		if !ok {
			continue
		}
		out[guid] = c

		if maxLookback != nil {
			if age := c.Age(f.now()); age > *maxLookback {
				f.logger.Debug().Dur("age", age).Msg("reached max lookback within page")
				break
			}
		}
	}

	return out, nil
}

// fetchItem returns ok=false when the provider withholds the item or its rendition.
func (f *Fetcher) fetchItem(ctx context.Context, item *payloadschema.ContentItem) (stories.Candidate, bool, error) {
	guid := item.AltIDs.ItemID

	body, err := f.client.Content(ctx, guid, QueryParams(item.URI))
	if err != nil {
		return stories.Candidate{}, false, err
	}
	if body == nil {
		return stories.Candidate{}, false, nil
	}
	content, err := payloadschema.ValidateContentEnvelope(body)
	if err != nil {
		return stories.Candidate{}, false, fmt.Errorf("content for %s: %w", guid, err)
	}

	nitfHref := item.NITFHref()
	if nitfHref == "" {
		return stories.Candidate{}, false, fmt.Errorf("item %s has no nitf rendition", guid)
	}
	nitfPath := fmt.Sprintf("%s.%d/download", guid, item.Version)
	nitf, err := f.client.Content(ctx, nitfPath, QueryParams(nitfHref))
	if err != nil {
		return stories.Candidate{}, false, err
	}
	if nitf == nil {
		return stories.Candidate{}, false, nil
	}

	c, err := f.normalizer.Normalize(content, nitf)
	if err != nil {
		return stories.Candidate{}, false, err
	}
	return c, true, nil
}

func (f *Fetcher) oldestAge(items map[string]stories.Candidate) time.Duration {
	now := f.now()
	var oldest time.Duration
	for _, c := range items {
		if age := c.Age(now); age > oldest {
			oldest = age
		}
	}
	return oldest
}
