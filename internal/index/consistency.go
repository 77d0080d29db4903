package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnshuML/Aipl/internal/keys"
	"github.com/AnshuML/Aipl/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissingIndex indicates chunks exist but no index does.
	InconsistencyMissingIndex InconsistencyType = iota
	// InconsistencyMissingVector indicates a stored chunk absent from the index.
	InconsistencyMissingVector
	// InconsistencyOrphanVector indicates an indexed chunk no longer stored.
	InconsistencyOrphanVector
	// InconsistencyOrder indicates the same chunks indexed in a different order.
	InconsistencyOrder
	// InconsistencyDimensions indicates the index was built with a different
	// embedding size than the current provider produces.
	InconsistencyDimensions
	// InconsistencyContent indicates a chunk whose text changed after it
	// was indexed.
	InconsistencyContent
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingIndex:
		return "missing_index"
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyOrder:
		return "order_mismatch"
	case InconsistencyDimensions:
		return "dimension_mismatch"
	case InconsistencyContent:
		return "content_changed"
	default:
		return "unknown"
	}
}

// Inconsistency represents a detected store/index issue.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID string
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	Department string
	// Checked is the number of stored chunks verified.
	Checked int
	// Indexed is the number of vectors in the published index.
	Indexed int
	// Inconsistencies contains all detected issues.
	Inconsistencies []Inconsistency
	// Duration is how long the check took.
	Duration time.Duration
}

// Consistent reports whether the check found no issues.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// Verify compares the chunks stored for a department with the entries
// recorded in its published index, including each chunk's text
// fingerprint. The chunk store is the source of truth.
func (m *Manager) Verify(ctx context.Context, department string) (*CheckResult, error) {
	start := time.Now()
	name, err := keys.Department(department)
	if err != nil {
		return nil, err
	}

	snapshot, err := m.chunks.Snapshot(ctx, name)
	if err != nil {
		return nil, err
	}
	result := &CheckResult{Department: name, Checked: len(snapshot)}

	idx, ok := m.EnsureIndex(ctx, name)
	if !ok {
		if len(snapshot) > 0 {
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:    InconsistencyMissingIndex,
				Details: fmt.Sprintf("%d chunks stored but no usable index", len(snapshot)),
			})
		}
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Indexed = idx.Len()

	stored := make(map[string]string, len(snapshot))
	for _, c := range snapshot {
		stored[c.ID()] = store.Fingerprint(c.Text)
	}
	indexed := make(map[string]bool, idx.Len())
	for _, key := range idx.ChunkIDs() {
		id, _ := store.SplitKey(key)
		indexed[id] = true
	}

	for _, key := range idx.ChunkIDs() {
		id, fp := store.SplitKey(key)
		want, ok := stored[id]
		switch {
		case !ok:
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:    InconsistencyOrphanVector,
				ChunkID: id,
				Details: "Vector entry without matching chunk",
			})
		case fp != want:
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:    InconsistencyContent,
				ChunkID: id,
				Details: "Chunk text changed since the index was built",
			})
		}
	}
	for _, c := range snapshot {
		if !indexed[c.ID()] {
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:    InconsistencyMissingVector,
				ChunkID: c.ID(),
				Details: "Chunk missing from vector index",
			})
		}
	}
	if len(result.Inconsistencies) == 0 && !Matches(idx, store.Keys(snapshot)) {
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			Type:    InconsistencyOrder,
			Details: "Index positions do not follow chunk store order",
		})
	}

	if dims := m.embedder.Dimensions(); dims > 0 && dims != idx.Dims() {
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			Type:    InconsistencyDimensions,
			Details: fmt.Sprintf("index has %d dims, provider produces %d", idx.Dims(), dims),
		})
	}

	result.Duration = time.Since(start)
	if !result.Consistent() {
		slog.Warn("index_inconsistent",
			slog.String("department", name),
			slog.Int("issues", len(result.Inconsistencies)),
			slog.Int("chunks", result.Checked),
			slog.Int("vectors", result.Indexed))
	}
	return result, nil
}

// Repair rebuilds the department when result reports any issue. The index
// is always rebuilt from scratch; partial fixes would leave positions
// misaligned with the chunk store.
func (m *Manager) Repair(ctx context.Context, result *CheckResult) error {
	if result == nil || result.Consistent() {
		return nil
	}
	slog.Info("index_repair_started",
		slog.String("department", result.Department),
		slog.Int("issues", len(result.Inconsistencies)))
	return m.Rebuild(ctx, result.Department)
}
