package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/blob"
	"horse.fit/newswire/internal/stories"
)

type StoryImporter interface {
	ImportStory(ctx context.Context, src stories.Source, c stories.Candidate) (stories.Result, error)
}

// ObjectStore lists and reads archive documents kept in a bucket.
type ObjectStore interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

type Summary struct {
	Documents  int `json:"documents"`
	Created    int `json:"created"`
	Duplicates int `json:"duplicates"`
	Conflicts  int `json:"conflicts"`
	Malformed  int `json:"malformed"`
	Failed     int `json:"failed"`
}

// Importer loads archive documents into the source medium.
type Importer struct {
	importer StoryImporter
	source   stories.Source
	objects  ObjectStore
	logger   zerolog.Logger
}

// NewImporter builds an importer; objects may be nil when no s3 paths are imported.
func NewImporter(importer StoryImporter, source stories.Source, objects ObjectStore, logger zerolog.Logger) *Importer {
	return &Importer{
		importer: importer,
		source:   source,
		objects:  objects,
		logger:   logger,
	}
}

// ImportDocument parses one document and imports it.
func (i *Importer) ImportDocument(ctx context.Context, r io.Reader, name string) (stories.Result, error) {
	i.logger.Debug().Str("document", name).Msg("import archive document")

	candidate, err := ParseDocument(r)
	if err != nil {
		return stories.Result{}, fmt.Errorf("%s: %w", name, err)
	}
	result, err := i.importer.ImportStory(ctx, i.source, candidate)
	if err != nil {
		return stories.Result{}, fmt.Errorf("%s: %w", name, err)
	}
	return result, nil
}

// ImportPath imports a file, every *.xml file below a directory, or every
// object under an s3://bucket/prefix. Document failures are counted and logged.
func (i *Importer) ImportPath(ctx context.Context, target string) (Summary, error) {
	if blob.IsS3URI(target) {
		return i.importS3(ctx, target)
	}

	info, err := os.Stat(target)
	if err != nil {
		return Summary{}, fmt.Errorf("stat %s: %w", target, err)
	}
	if !info.IsDir() {
		var summary Summary
		i.importFile(ctx, target, &summary)
		return summary, nil
	}

	var files []string
	err = filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".xml") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("walk %s: %w", target, err)
	}
	sort.Strings(files)

	var summary Summary
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		i.importFile(ctx, path, &summary)
	}
	return summary, nil
}

func (i *Importer) importFile(ctx context.Context, path string, summary *Summary) {
	f, err := os.Open(path)
	if err != nil {
		summary.Documents++
		summary.Failed++
		i.logger.Error().Err(err).Str("document", path).Msg("failed to open archive document")
		return
	}
	defer f.Close()

	result, err := i.ImportDocument(ctx, f, path)
	i.count(summary, path, result, err)
}

func (i *Importer) importS3(ctx context.Context, target string) (Summary, error) {
	if i.objects == nil {
		return Summary{}, fmt.Errorf("import %s: object storage is not configured", target)
	}
	bucket, prefix, err := blob.ParseS3URI(target)
	if err != nil {
		return Summary{}, err
	}
	keys, err := i.objects.List(ctx, bucket, prefix)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if !strings.EqualFold(filepath.Ext(key), ".xml") {
			continue
		}
		name := "s3://" + bucket + "/" + key
		body, err := i.objects.Get(ctx, bucket, key)
		if err != nil {
			i.count(&summary, name, stories.Result{}, err)
			continue
		}
		result, err := i.ImportDocument(ctx, body, name)
		_ = body.Close()
		i.count(&summary, name, result, err)
	}
	return summary, nil
}

func (i *Importer) count(summary *Summary, name string, result stories.Result, err error) {
	summary.Documents++
	if err != nil {
		if errors.Is(err, ErrMalformedDocument) {
			summary.Malformed++
			i.logger.Warn().Err(err).Str("document", name).Msg("skipping malformed archive document")
			return
		}
		summary.Failed++
		i.logger.Error().Err(err).Str("document", name).Msg("failed to import archive document")
		return
	}

	switch result.Outcome {
	case stories.OutcomeCreated:
		summary.Created++
	case stories.OutcomeDuplicate:
		summary.Duplicates++
	case stories.OutcomeConflict:
		summary.Conflicts++
	}
}
