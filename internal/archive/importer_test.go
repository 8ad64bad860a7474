package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/newswire/internal/db"
	"horse.fit/newswire/internal/stories"
)

type recordingImporter struct {
	sources []stories.Source
	seen    map[string]bool
}

func (r *recordingImporter) ImportStory(_ context.Context, src stories.Source, c stories.Candidate) (stories.Result, error) {
	r.sources = append(r.sources, src)
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[c.GUID] {
		return stories.Result{Story: &db.Story{GUID: c.GUID}, Outcome: stories.OutcomeDuplicate}, nil
	}
	r.seen[c.GUID] = true
	return stories.Result{Story: &db.Story{GUID: c.GUID}, Outcome: stories.OutcomeCreated}, nil
}

type memoryObjects map[string][]byte

func (m memoryObjects) List(_ context.Context, bucket, prefix string) ([]string, error) {
	if bucket != "archive" {
		return nil, errors.New("no such bucket")
	}
	var keys []string
	for key := range m {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m memoryObjects) Get(_ context.Context, _, key string) (io.ReadCloser, error) {
	body, ok := m[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestImportPath_Directory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.xml"), sampleDocument)
	writeFile(t, filepath.Join(dir, "nested", "b.xml"), sampleDocument)
	writeFile(t, filepath.Join(dir, "broken.xml"), `<sATOM></sATOM>`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	src := stories.Source{MediumName: "The Associated Press"}
	importer := &recordingImporter{}
	archive := NewImporter(importer, src, nil, zerolog.Nop())

	summary, err := archive.ImportPath(context.Background(), dir)
	if err != nil {
		t.Fatalf("ImportPath() error = %v", err)
	}
	if summary.Documents != 3 || summary.Created != 1 || summary.Duplicates != 1 || summary.Malformed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, got := range importer.sources {
		if got != src {
			t.Fatalf("expected configured source, got %+v", got)
		}
	}
}

func TestImportPath_S3(t *testing.T) {
	t.Parallel()

	objects := memoryObjects{
		"ap/2019/a.xml":    []byte(sampleDocument),
		"ap/2019/readme":   []byte("skip"),
		"other/ignore.xml": []byte(sampleDocument),
	}
	archive := NewImporter(&recordingImporter{}, stories.Source{}, objects, zerolog.Nop())

	summary, err := archive.ImportPath(context.Background(), "s3://archive/ap/")
	if err != nil {
		t.Fatalf("ImportPath() error = %v", err)
	}
	if summary.Documents != 1 || summary.Created != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	noObjects := NewImporter(&recordingImporter{}, stories.Source{}, nil, zerolog.Nop())
	if _, err := noObjects.ImportPath(context.Background(), "s3://archive/ap/"); err == nil {
		t.Fatalf("expected error without object storage")
	}
}

func TestImportDocument_WrapsMalformed(t *testing.T) {
	t.Parallel()

	archive := NewImporter(&recordingImporter{}, stories.Source{}, nil, zerolog.Nop())
	_, err := archive.ImportDocument(context.Background(), bytes.NewReader([]byte("<sATOM/>")), "x.xml")
	if !errors.Is(err, ErrMalformedDocument) {
		t.Fatalf("expected ErrMalformedDocument, got %v", err)
	}
}
