package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnshuML/Aipl/internal/config"
	"github.com/AnshuML/Aipl/internal/embed"
	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/index"
	"github.com/AnshuML/Aipl/internal/ingest"
	"github.com/AnshuML/Aipl/internal/retrieve"
)

const (
	leaveText      = "Employees are entitled to 20 days of paid leave per year."
	attendanceText = "Attendance is recorded through the biometric system at the office entrance."
	travelText     = "Travel expenses must be approved by the department head before booking."
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Embeddings.Provider = "static"
	cfg.Embeddings.Dimensions = 32
	cfg.Retry.BaseDelay = "1ms"
	cfg.Retry.MaxDelay = "2ms"
	return cfg
}

func newService(t *testing.T, cfg *config.Config) *Service {
	t.Helper()
	svc, err := New(cfg, WithEmbedder(embed.NewStaticEmbedder(32)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func seedHR(t *testing.T, svc *Service) {
	t.Helper()
	require.NoError(t, svc.AddDocuments(context.Background(), "HR", []ingest.Document{
		{ID: "leave", Text: leaveText},
		{ID: "attendance", Text: attendanceText},
		{ID: "travel", Text: travelText},
	}))
}

func TestService_AddDocumentsThenRetrieve(t *testing.T) {
	// Given: three HR documents added as a batch
	svc := newService(t, testConfig(t))
	seedHR(t, svc)
	ctx := context.Background()

	// When: asking about leave with k=1
	result, err := svc.Retrieve(ctx, "How many days of leave do I get?", "hr", 1)

	// Then: the leave policy is the top passage and the index was used
	require.NoError(t, err)
	require.NotEmpty(t, result.Passages)
	assert.Equal(t, leaveText, result.Passages[0])
	assert.LessOrEqual(t, len(result.Passages), 2)
	assert.True(t, result.VectorUsed)

	// And: the index is ready and current
	status, err := svc.Status(ctx, "hr")
	require.NoError(t, err)
	assert.Equal(t, index.StateReady, status.State)
	assert.Equal(t, 3, status.Vectors)
	assert.False(t, status.Stale)
}

func TestService_DepartmentNamesAreNormalized(t *testing.T) {
	svc := newService(t, testConfig(t))
	seedHR(t, svc)

	docs, err := svc.ListDocuments(context.Background(), "  hr ")
	require.NoError(t, err)
	assert.Equal(t, []string{"attendance", "leave", "travel"}, docs)

	depts, err := svc.Departments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"hr"}, depts)
}

func TestService_DeleteDocument(t *testing.T) {
	// Given: a seeded department
	svc := newService(t, testConfig(t))
	seedHR(t, svc)
	ctx := context.Background()

	// When: the leave policy is deleted
	existed, err := svc.DeleteDocument(ctx, "hr", "Leave")

	// Then: it is gone from retrieval and the index shrank
	require.NoError(t, err)
	assert.True(t, existed)
	result, err := svc.Retrieve(ctx, "leave days", "hr", 3)
	require.NoError(t, err)
	assert.NotContains(t, result.Passages, leaveText)
	status, err := svc.Status(ctx, "hr")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Vectors)

	// And: deleting again reports false
	existed, err = svc.DeleteDocument(ctx, "hr", "leave")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestService_DeleteLastDocumentRemovesIndex(t *testing.T) {
	svc := newService(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, svc.AddDocuments(ctx, "it", []ingest.Document{{ID: "vpn", Text: "Use the VPN client."}}))

	_, err := svc.DeleteDocument(ctx, "it", "vpn")
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(svc.Config().IndexDir(), "it.idx"))
	assert.True(t, os.IsNotExist(statErr))
	result, err := svc.Retrieve(ctx, "vpn", "it", 3)
	require.NoError(t, err)
	assert.True(t, result.NoDocuments)
}

func TestService_RetrieveEmptyDepartment(t *testing.T) {
	svc := newService(t, testConfig(t))

	result, err := svc.Retrieve(context.Background(), "anything", "finance", 3)

	require.NoError(t, err)
	assert.True(t, result.NoDocuments)
	assert.Empty(t, result.Passages)
}

func TestService_AddDocumentWithoutRebuildIsStale(t *testing.T) {
	// Given: a seeded department and one more document added without rebuild
	svc := newService(t, testConfig(t))
	seedHR(t, svc)
	ctx := context.Background()
	require.NoError(t, svc.AddDocument(ctx, "hr", "remote", "Remote work requires manager approval."))

	// When: querying for the new document
	result, err := svc.Retrieve(ctx, "remote work approval", "hr", 1)

	// Then: lexical retrieval still finds it and the index is reported stale
	require.NoError(t, err)
	require.NotEmpty(t, result.Passages)
	assert.Equal(t, "Remote work requires manager approval.", result.Passages[0])
	assert.False(t, result.VectorUsed)

	status, err := svc.Status(ctx, "hr")
	require.NoError(t, err)
	assert.True(t, status.Stale)
}

func TestService_OverwriteWithoutRebuildSkipsVectors(t *testing.T) {
	// Given: the leave policy overwritten with unrelated text, no rebuild
	svc := newService(t, testConfig(t))
	seedHR(t, svc)
	ctx := context.Background()
	parking := "Parking permits are issued by facilities."
	require.NoError(t, svc.AddDocument(ctx, "hr", "leave", parking))

	// When: querying
	result, err := svc.Retrieve(ctx, "leave policy", "hr", 1)

	// Then: old vectors are not used against the new text
	require.NoError(t, err)
	assert.False(t, result.VectorUsed)
	for _, h := range result.Hits {
		assert.NotEqual(t, retrieve.SourceVector, h.Source)
	}

	// And: status and verify both report the drift
	status, err := svc.Status(ctx, "hr")
	require.NoError(t, err)
	assert.True(t, status.Stale)

	check, err := svc.Verify(ctx, "hr", true)
	require.NoError(t, err)
	require.False(t, check.Consistent())
	assert.Equal(t, index.InconsistencyContent, check.Inconsistencies[0].Type)

	// And: after repair vectors come back
	status, err = svc.Status(ctx, "hr")
	require.NoError(t, err)
	assert.False(t, status.Stale)
	result, err = svc.Retrieve(ctx, "parking permits", "hr", 1)
	require.NoError(t, err)
	assert.True(t, result.VectorUsed)
}

func TestService_VerifyAndRepair(t *testing.T) {
	// Given: an index missing one stored document
	svc := newService(t, testConfig(t))
	seedHR(t, svc)
	ctx := context.Background()
	require.NoError(t, svc.AddDocument(ctx, "hr", "remote", "Remote work policy."))

	// When: verifying without repair
	result, err := svc.Verify(ctx, "hr", false)

	// Then: the missing vector is reported
	require.NoError(t, err)
	require.False(t, result.Consistent())
	assert.Equal(t, index.InconsistencyMissingVector, result.Inconsistencies[0].Type)
	assert.Equal(t, "remote#0", result.Inconsistencies[0].ChunkID)

	// When: verifying with repair
	_, err = svc.Verify(ctx, "hr", true)
	require.NoError(t, err)

	// Then: a second check is clean
	result, err = svc.Verify(ctx, "hr", false)
	require.NoError(t, err)
	assert.True(t, result.Consistent())
}

func TestService_AddDocumentRejectsBlankText(t *testing.T) {
	svc := newService(t, testConfig(t))

	err := svc.AddDocument(context.Background(), "hr", "empty", " \n ")

	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestService_AddDocumentsPartialFailure(t *testing.T) {
	// Given: a batch with one blank document
	svc := newService(t, testConfig(t))
	ctx := context.Background()

	// When: adding it
	err := svc.AddDocuments(ctx, "hr", []ingest.Document{
		{ID: "leave", Text: leaveText},
		{ID: "blank", Text: ""},
	})

	// Then: the error names the blank document and the other was indexed
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blank")
	status, err := svc.Status(ctx, "hr")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Vectors)
}

func TestService_ChunkingByConfig(t *testing.T) {
	// Given: paragraph chunking at 40 characters
	cfg := testConfig(t)
	cfg.Ingest.ChunkMaxChars = 40
	svc := newService(t, cfg)
	ctx := context.Background()

	// When: a two-paragraph document is added and indexed
	text := "Leave requests go through the portal.\n\nSick leave needs a medical note."
	require.NoError(t, svc.AddDocuments(ctx, "hr", []ingest.Document{{ID: "leave", Text: text}}))

	// Then: it is one document stored as two chunks
	docs, err := svc.ListDocuments(ctx, "hr")
	require.NoError(t, err)
	assert.Equal(t, []string{"leave"}, docs)
	status, err := svc.Status(ctx, "hr")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Chunks)
	assert.Equal(t, 2, status.Vectors)

	result, err := svc.Retrieve(ctx, "medical note", "hr", 1)
	require.NoError(t, err)
	assert.Equal(t, "Sick leave needs a medical note.", result.Passages[0])
}

func TestService_Purge(t *testing.T) {
	svc := newService(t, testConfig(t))
	seedHR(t, svc)
	ctx := context.Background()

	require.NoError(t, svc.Purge(ctx, "hr"))

	depts, err := svc.Departments(ctx)
	require.NoError(t, err)
	assert.Empty(t, depts)
	result, err := svc.Retrieve(ctx, "leave", "hr", 3)
	require.NoError(t, err)
	assert.True(t, result.NoDocuments)
}

func TestService_IndexSurvivesRestart(t *testing.T) {
	// Given: a seeded service that is closed
	cfg := testConfig(t)
	svc, err := New(cfg, WithEmbedder(embed.NewStaticEmbedder(32)))
	require.NoError(t, err)
	seedHR(t, svc)
	require.NoError(t, svc.Close())

	// When: a new service opens the same data directory
	reopened := newService(t, cfg)

	// Then: the persisted index is loaded without a rebuild
	status, err := reopened.Status(context.Background(), "hr")
	require.NoError(t, err)
	assert.Equal(t, index.StateReady, status.State)
	assert.Equal(t, 3, status.Vectors)
	assert.False(t, status.Stale)
}

func TestService_AddFilesAndIngestDir(t *testing.T) {
	svc := newService(t, testConfig(t))
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leave.txt"), []byte(leaveText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "travel.md"), []byte(travelText), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), []byte("png"), 0o644))

	// AddFiles stores supported files and reports the rest.
	added, err := svc.AddFiles(ctx, "hr", []string{
		filepath.Join(dir, "leave.txt"),
		filepath.Join(dir, "logo.png"),
	}, true)
	require.Error(t, err)
	assert.Equal(t, []string{"leave.txt"}, added)

	// IngestDir loads the whole directory and rebuilds once.
	report, err := svc.IngestDir(ctx, "finance", dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"leave.txt", "travel.md"}, report.Added)
	status, err := svc.Status(ctx, "finance")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Vectors)
}

func TestService_Statuses(t *testing.T) {
	svc := newService(t, testConfig(t))
	seedHR(t, svc)
	ctx := context.Background()
	require.NoError(t, svc.AddDocument(ctx, "finance", "q1", "Q1 revenue grew."))

	statuses, err := svc.Statuses(ctx)

	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.Equal(t, "finance", statuses[0].Department)
	assert.Equal(t, index.StateAbsent, statuses[0].State)
	assert.Equal(t, "hr", statuses[1].Department)
	assert.Equal(t, index.StateReady, statuses[1].State)
}

func TestService_RebuildAll(t *testing.T) {
	svc := newService(t, testConfig(t))
	ctx := context.Background()
	require.NoError(t, svc.AddDocument(ctx, "hr", "leave", leaveText))
	require.NoError(t, svc.AddDocument(ctx, "finance", "q1", "Q1 revenue grew."))

	require.NoError(t, svc.RebuildAll(ctx))

	for _, d := range []string{"hr", "finance"} {
		status, err := svc.Status(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, index.StateReady, status.State, d)
	}
}

func TestNew_StaticProviderFromConfig(t *testing.T) {
	cfg := testConfig(t)

	svc, err := New(cfg)
	require.NoError(t, err)
	defer svc.Close()

	seedHR(t, svc)
	status, err := svc.Status(context.Background(), "hr")
	require.NoError(t, err)
	assert.Equal(t, 32, status.Dims)
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc, err := New(testConfig(t), WithEmbedder(embed.NewStaticEmbedder(32)))
	require.NoError(t, err)

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}
