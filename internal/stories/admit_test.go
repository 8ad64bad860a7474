package stories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
)

func testCandidate(guid, url, title string, publish time.Time) Candidate {
	return Candidate{
		GUID:        guid,
		URL:         url,
		Title:       title,
		Description: "A description",
		PublishDate: publish,
		Text:        "Body text for " + guid,
	}
}

func TestAdmit_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	admitter := NewAdmitter(store, zerolog.Nop())

	c := testCandidate("g1", "https://apnews.com/g1", "Storm batters the Gulf coast overnight", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	first, err := admitter.Admit(context.Background(), c, medium.MediaID, 1)
	if err != nil {
		t.Fatalf("first Admit() error = %v", err)
	}
	if first.Outcome != OutcomeCreated || !first.IsNew() {
		t.Fatalf("expected created outcome, got %s", first.Outcome)
	}

	second, err := admitter.Admit(context.Background(), c, medium.MediaID, 1)
	if err != nil {
		t.Fatalf("second Admit() error = %v", err)
	}
	if second.Outcome != OutcomeDuplicate || second.Match != MatchGUIDURL {
		t.Fatalf("expected guid/url duplicate, got %s/%s", second.Outcome, second.Match)
	}
	if second.Story.StoriesID != first.Story.StoriesID {
		t.Fatalf("expected same story, got %d and %d", first.Story.StoriesID, second.Story.StoriesID)
	}
	if store.storyCount() != 1 {
		t.Fatalf("expected exactly one story, got %d", store.storyCount())
	}
	if store.lockCalls != 2 {
		t.Fatalf("expected every admission to lock, got %d locks", store.lockCalls)
	}
}

func TestAdmit_TitleMatchRecordsAliases(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	admitter := NewAdmitter(store, zerolog.Nop())

	original := testCandidate("g1", "https://apnews.com/g1", "Storm batters the Gulf coast overnight", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	rewrite := testCandidate("g2", "https://apnews.com/g2", "Storm Batters the Gulf Coast Overnight!", time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC))

	created, err := admitter.Admit(context.Background(), original, medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	dup, err := admitter.Admit(context.Background(), rewrite, medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if dup.Outcome != OutcomeDuplicate || dup.Match != MatchTitle {
		t.Fatalf("expected title duplicate, got %s/%s", dup.Outcome, dup.Match)
	}
	if dup.Story.StoriesID != created.Story.StoriesID {
		t.Fatalf("expected title match to return story %d, got %d", created.Story.StoriesID, dup.Story.StoriesID)
	}

	aliases := store.aliases[created.Story.StoriesID]
	if len(aliases) != 2 || aliases[0] != "https://apnews.com/g2" || aliases[1] != "g2" {
		t.Fatalf("unexpected aliases: %v", aliases)
	}

	// the recorded alias now matches by guid directly
	again, err := admitter.Admit(context.Background(), rewrite, medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if again.Match != MatchGUIDURL {
		t.Fatalf("expected alias to match by guid/url, got %s", again.Match)
	}
}

func TestAdmit_GUIDAndURLMatchCrosswise(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	admitter := NewAdmitter(store, zerolog.Nop())
	publish := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	stored, err := admitter.Admit(context.Background(), testCandidate("http://x/a", "http://feeds/1", "Storm batters the Gulf coast overnight", publish), medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}

	byURL, err := admitter.Admit(context.Background(), testCandidate("abc", "http://x/a", "Senate passes the budget bill", publish), medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if byURL.Outcome != OutcomeDuplicate || byURL.Match != MatchGUIDURL {
		t.Fatalf("expected url matching a stored guid to be a duplicate, got %s/%s", byURL.Outcome, byURL.Match)
	}
	if byURL.Story.StoriesID != stored.Story.StoriesID {
		t.Fatalf("expected story %d, got %d", stored.Story.StoriesID, byURL.Story.StoriesID)
	}

	byGUID, err := admitter.Admit(context.Background(), testCandidate("http://feeds/1", "http://x/other", "Rain expected through the weekend", publish), medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if byGUID.Outcome != OutcomeDuplicate || byGUID.Match != MatchGUIDURL {
		t.Fatalf("expected guid matching a stored url to be a duplicate, got %s/%s", byGUID.Outcome, byGUID.Match)
	}
	if store.storyCount() != 1 {
		t.Fatalf("expected exactly one story, got %d", store.storyCount())
	}
}

func TestAdmit_TitleMatchRequiresSameDay(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	admitter := NewAdmitter(store, zerolog.Nop())

	title := "Storm batters the Gulf coast overnight"
	if _, err := admitter.Admit(context.Background(), testCandidate("g1", "https://apnews.com/g1", title, time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)), medium.MediaID, 1); err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	next, err := admitter.Admit(context.Background(), testCandidate("g2", "https://apnews.com/g2", title, time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)), medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if next.Outcome != OutcomeCreated {
		t.Fatalf("expected next-day story to be created, got %s", next.Outcome)
	}
}

func TestAdmit_NoTitleNeverMatchesByTitle(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	admitter := NewAdmitter(store, zerolog.Nop())
	publish := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for _, guid := range []string{"g1", "g2"} {
		res, err := admitter.Admit(context.Background(), testCandidate(guid, "https://apnews.com/"+guid, NoTitle, publish), medium.MediaID, 1)
		if err != nil {
			t.Fatalf("Admit(%s) error = %v", guid, err)
		}
		if res.Outcome != OutcomeCreated {
			t.Fatalf("expected %s to be created, got %s", guid, res.Outcome)
		}
	}
}

func TestAdmit_GUIDRaceIsConflictNotError(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	store.raceOnGUID = "g1"
	admitter := NewAdmitter(store, zerolog.Nop())

	res, err := admitter.Admit(context.Background(), testCandidate("g1", "https://apnews.com/g1", "Title long enough to be hashed alone", time.Now().UTC()), medium.MediaID, 1)
	if err != nil {
		t.Fatalf("expected conflict to be benign, got %v", err)
	}
	if res.Outcome != OutcomeConflict || res.Story != nil {
		t.Fatalf("expected conflict without story, got %+v", res)
	}
	if store.rollbacks != 1 {
		t.Fatalf("expected one rollback, got %d", store.rollbacks)
	}
	if store.storyCount() != 0 {
		t.Fatalf("expected no stories after conflict, got %d", store.storyCount())
	}
}

func TestAdmit_OtherInsertFailureIsAdmissionError(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	cause := errors.New("disk full")
	store.insertErr = cause
	admitter := NewAdmitter(store, zerolog.Nop())

	_, err := admitter.Admit(context.Background(), testCandidate("g1", "https://apnews.com/g1", "Some title", time.Now().UTC()), medium.MediaID, 1)
	var admissionErr *AdmissionError
	if !errors.As(err, &admissionErr) {
		t.Fatalf("expected *AdmissionError, got %v", err)
	}
	if admissionErr.GUID != "g1" || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause for g1, got %v", err)
	}
	if store.rollbacks != 1 {
		t.Fatalf("expected rollback, got %d", store.rollbacks)
	}
}

func TestAdmit_RefusesOpenTransaction(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	store.inTx = true
	admitter := NewAdmitter(store, zerolog.Nop())

	_, err := admitter.Admit(context.Background(), testCandidate("g1", "https://apnews.com/g1", "Some title", time.Now().UTC()), medium.MediaID, 1)
	if !errors.Is(err, ErrInTransaction) {
		t.Fatalf("expected ErrInTransaction, got %v", err)
	}
}

func TestAdmit_FullTextFollowsMediumAndDescription(t *testing.T) {
	t.Parallel()

	fullText := true
	store := newMemoryStore()
	medium := store.addMedium("Full Text Daily", &fullText, nil)
	admitter := NewAdmitter(store, zerolog.Nop())

	withDescription := testCandidate("g1", "https://example.com/g1", "First story title that is quite long", time.Now().UTC())
	res, err := admitter.Admit(context.Background(), withDescription, medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if !res.Story.FullTextRSS {
		t.Fatalf("expected full_text_rss to follow the medium")
	}

	withoutDescription := testCandidate("g2", "https://example.com/g2", "Second story title that is quite long", time.Now().UTC())
	withoutDescription.Description = ""
	res, err = admitter.Admit(context.Background(), withoutDescription, medium.MediaID, 1)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if res.Story.FullTextRSS {
		t.Fatalf("expected full_text_rss to be false without a description")
	}
}

func TestAdmit_ConcurrentAdmissionsCreateOneStory(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	medium := store.addMedium("The Associated Press", nil, nil)
	admitter := NewAdmitter(store, zerolog.Nop())
	c := testCandidate("g1", "https://apnews.com/g1", "Storm batters the Gulf coast overnight", time.Now().UTC())

	var wg sync.WaitGroup
	results := make([]Result, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = admitter.Admit(context.Background(), c, medium.MediaID, 1)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("Admit() error = %v", errs[i])
		}
		if results[i].Outcome == OutcomeCreated {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one created outcome, got %d", created)
	}
	if store.storyCount() != 1 {
		t.Fatalf("expected one story row, got %d", store.storyCount())
	}
}

func TestImportStory_CreatesDownloadTextAndProcesses(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	processor := &recordingProcessor{}
	importer := NewImporter(store, processor, zerolog.Nop())
	src := Source{MediumName: "The Associated Press", MediumURL: "http://apnews.com", FeedName: "API Feed", FeedURL: "http://ap.com"}
	c := testCandidate("g1", "https://apnews.com/g1", "Storm batters the Gulf coast overnight", time.Now().UTC())

	res, err := importer.ImportStory(context.Background(), src, c)
	if err != nil {
		t.Fatalf("ImportStory() error = %v", err)
	}
	if !res.IsNew() {
		t.Fatalf("expected new story, got %s", res.Outcome)
	}
	if len(store.downloads) != 1 {
		t.Fatalf("expected one download, got %d", len(store.downloads))
	}
	d := store.downloads[0]
	if d.State != db.DownloadStateSuccess || !d.Extracted || d.Type != db.DownloadTypeContent || d.Host != "apnews.com" {
		t.Fatalf("unexpected download: %+v", d)
	}
	if store.texts[d.DownloadsID] != c.Text {
		t.Fatalf("expected download text to be stored, got %q", store.texts[d.DownloadsID])
	}
	if len(processor.stories) != 1 || processor.stories[0] != res.Story.StoriesID {
		t.Fatalf("expected story to be processed once, got %v", processor.stories)
	}

	dup, err := importer.ImportStory(context.Background(), src, c)
	if err != nil {
		t.Fatalf("ImportStory() error = %v", err)
	}
	if dup.Outcome != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", dup.Outcome)
	}
	if len(store.downloads) != 1 || len(processor.stories) != 1 {
		t.Fatalf("expected duplicate to create nothing, downloads=%d processed=%d", len(store.downloads), len(processor.stories))
	}
	if len(store.feeds) != 1 || len(store.media) != 1 {
		t.Fatalf("expected find-or-create to reuse medium and feed, media=%d feeds=%d", len(store.media), len(store.feeds))
	}
}

func TestImportStory_ProcessingFailureKeepsCreatedResult(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	processor := &recordingProcessor{err: errors.New("broker unavailable")}
	importer := NewImporter(store, processor, zerolog.Nop())
	src := Source{MediumName: "The Associated Press", MediumURL: "http://apnews.com", FeedName: "API Feed", FeedURL: "http://ap.com"}
	c := testCandidate("g1", "https://apnews.com/g1", "Storm batters the Gulf coast overnight", time.Now().UTC())

	res, err := importer.ImportStory(context.Background(), src, c)
	if err != nil {
		t.Fatalf("ImportStory() error = %v, want processing failure to be logged only", err)
	}
	if res.Outcome != OutcomeCreated || res.Story == nil {
		t.Fatalf("expected created story, got %s", res.Outcome)
	}
	if len(processor.stories) != 1 {
		t.Fatalf("expected one processing attempt, got %v", processor.stories)
	}
	if store.storyCount() != 1 || len(store.downloads) != 1 {
		t.Fatalf("expected story and download to stay committed, stories=%d downloads=%d", store.storyCount(), len(store.downloads))
	}
}

func TestAddStoryAndContentDownload_DefersByContentDelay(t *testing.T) {
	t.Parallel()

	delay := 3
	store := newMemoryStore()
	medium := store.addMedium("Delayed Daily", nil, &delay)
	importer := NewImporter(store, nil, zerolog.Nop())
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	importer.now = func() time.Time { return now }

	parent := &db.Download{DownloadsID: 7, FeedsID: 11, Priority: 5}
	res, err := importer.AddStoryAndContentDownload(context.Background(), testCandidate("g1", "https://example.com/a", "Some headline worth keeping", now), medium.MediaID, parent)
	if err != nil {
		t.Fatalf("AddStoryAndContentDownload() error = %v", err)
	}
	if !res.IsNew() {
		t.Fatalf("expected new story, got %s", res.Outcome)
	}
	if len(store.downloads) != 1 {
		t.Fatalf("expected one download, got %d", len(store.downloads))
	}

	d := store.downloads[0]
	if d.State != db.DownloadStatePending || d.Sequence != 1 || d.Priority != 5 || d.FeedsID != 11 {
		t.Fatalf("unexpected child download: %+v", d)
	}
	if d.Parent == nil || *d.Parent != 7 {
		t.Fatalf("expected parent download 7, got %v", d.Parent)
	}
	if !d.DownloadTime.Equal(now.Add(3 * time.Hour)) {
		t.Fatalf("expected download deferred to %s, got %s", now.Add(3*time.Hour), d.DownloadTime)
	}
	if _, ok := store.feedLinks[[2]int64{11, res.Story.StoriesID}]; !ok {
		t.Fatalf("expected story to be linked to the parent feed")
	}
}
