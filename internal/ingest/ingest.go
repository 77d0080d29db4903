package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AnshuML/Aipl/internal/errors"
)

// Sink receives extracted documents. AddDocument and RemoveDocument only
// touch stored chunks; Rebuild refreshes the department's vector index.
type Sink interface {
	AddDocument(ctx context.Context, department, docID, text string) error
	RemoveDocument(ctx context.Context, department, docID string) (bool, error)
	Rebuild(ctx context.Context, department string) error
}

// Skipped records a file that was not ingested.
type Skipped struct {
	Path   string
	Reason string
}

// Report summarizes a bulk ingest.
type Report struct {
	Department string
	Added      []string
	Skipped    []Skipped
	Duration   time.Duration
}

// IngestDir stores every supported file directly inside dir under
// department, then rebuilds the department index once. Unreadable files
// are skipped and reported; subdirectories are ignored.
func IngestDir(ctx context.Context, sink Sink, extractor Extractor, department, dir string) (*Report, error) {
	start := time.Now()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodeFileNotFound, "directory not found", err).WithDetail("path", dir)
		}
		return nil, errors.New(errors.ErrCodeFilePermission, "cannot read directory", err).WithDetail("path", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	report := &Report{Department: department}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if entry.IsDir() || isHiddenName(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if !IsSupported(path) {
			report.Skipped = append(report.Skipped, Skipped{Path: path, Reason: "unsupported file type"})
			continue
		}

		docID, err := addFile(ctx, sink, extractor, department, path)
		if err != nil {
			slog.Warn("ingest_file_skipped",
				append([]any{slog.String("path", path)}, errors.LogAttrs(err)...)...)
			report.Skipped = append(report.Skipped, Skipped{Path: path, Reason: err.Error()})
			continue
		}
		report.Added = append(report.Added, docID)
	}

	if len(report.Added) > 0 {
		if err := sink.Rebuild(ctx, department); err != nil {
			return report, fmt.Errorf("rebuild %s: %w", department, err)
		}
	}

	report.Duration = time.Since(start)
	slog.Info("ingest_complete",
		slog.String("department", department),
		slog.Int("added", len(report.Added)),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int64("duration_ms", report.Duration.Milliseconds()))
	return report, nil
}

// addFile extracts path and stores it under its derived id.
func addFile(ctx context.Context, sink Sink, extractor Extractor, department, path string) (string, error) {
	text, err := extractor.Extract(path)
	if err != nil {
		return "", err
	}
	docID := DocIDFromPath(path)
	if err := sink.AddDocument(ctx, department, docID, text); err != nil {
		return "", err
	}
	return docID, nil
}

func isHiddenName(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
