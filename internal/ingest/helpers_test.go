package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeSink records calls; failRebuild makes Rebuild fail for a department.
type fakeSink struct {
	mu          sync.Mutex
	docs        map[string]map[string]string
	rebuilds    []string
	failAdd     map[string]error
	failRebuild map[string]error
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		docs:        make(map[string]map[string]string),
		failAdd:     make(map[string]error),
		failRebuild: make(map[string]error),
	}
}

func (s *fakeSink) AddDocument(_ context.Context, department, docID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failAdd[docID]; err != nil {
		return err
	}
	if s.docs[department] == nil {
		s.docs[department] = make(map[string]string)
	}
	s.docs[department][docID] = text
	return nil
}

func (s *fakeSink) RemoveDocument(_ context.Context, department, docID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[department][docID]; !ok {
		return false, nil
	}
	delete(s.docs[department], docID)
	return true, nil
}

func (s *fakeSink) Rebuild(_ context.Context, department string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuilds = append(s.rebuilds, department)
	return s.failRebuild[department]
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
