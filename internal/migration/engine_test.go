package migration_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/backup"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/migration"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/tests/testutil"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func legacy(code, description string, units int) map[string]any {
	return map[string]any{
		"id":                 code,
		"description":        description,
		"licenceType":        "campo",
		"systemType":         "Field Partner",
		"maximumUnitAllowed": units,
	}
}

func seedLegacy(t *testing.T, col store.DocumentStore, codes ...string) {
	t.Helper()
	for i, code := range codes {
		testutil.PutJSON(t, col, "lic-"+string(rune('a'+i)), legacy(code, "Licencia "+code, 10))
	}
}

func newEngine(t *testing.T, dest migration.Destination, bk migration.Backup) (*migration.Engine, *store.Collection) {
	t.Helper()
	st := testutil.NewTestStore(t)
	col := st.Collection(model.CollectionLicences)
	engine := migration.NewEngine(col, dest, bk, migration.Config{
		Clock:  func() time.Time { return fixedNow },
		Logger: testutil.DiscardLogger(),
	})
	return engine, col
}

// recordingBackup snapshots how many destination writes happened before
// the backup was taken.
type recordingBackup struct {
	dest         *testutil.FakeLicenses
	writesBefore int
	calls        int
	records      []model.CanonicalLicense
	err          error
}

func (b *recordingBackup) Save(_ context.Context, records []model.CanonicalLicense, at time.Time) (backup.Artifact, error) {
	b.calls++
	b.writesBefore = len(b.dest.Writes())
	b.records = records
	if b.err != nil {
		return backup.Artifact{}, b.err
	}
	return backup.Artifact{Path: "/backups/" + backup.FileName(at), Count: len(records)}, nil
}

func TestAnalyzeReportsConflicts(t *testing.T) {
	dest := testutil.NewFakeLicenses(model.CanonicalLicense{Code: "A2"})
	engine, col := newEngine(t, dest, nil)
	seedLegacy(t, col, "A1", "A2", "A3")

	analysis, err := engine.Analyze(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 3, analysis.SourceCount)
	assert.Equal(t, 1, analysis.DestinationCount)
	require.Len(t, analysis.Conflicts, 1)
	assert.Equal(t, "duplicate code: A2", analysis.Conflicts[0].String())
	assert.Equal(t, "lic-b", analysis.Conflicts[0].SourceDocID)
	assert.Equal(t, []string{"A2"}, analysis.ConflictCodes())
	assert.Equal(t, migration.StateAwaitingConfirmation, engine.State())
	assert.Empty(t, dest.Writes(), "analysis never writes")
}

func TestAnalyzeIgnoresBlankAndRepeatedCodes(t *testing.T) {
	dest := testutil.NewFakeLicenses(model.CanonicalLicense{Code: "A2"}, model.CanonicalLicense{Code: ""})
	engine, col := newEngine(t, dest, nil)
	seedLegacy(t, col, "A2", "", "A2")

	analysis, err := engine.Analyze(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"A2"}, analysis.ConflictCodes())
}

func TestAnalyzeFailureIsTyped(t *testing.T) {
	dest := testutil.NewFakeLicenses()
	dest.FailList(errors.New("connection refused"))
	engine, _ := newEngine(t, dest, nil)

	_, err := engine.Analyze(t.Context())

	var analysisErr *migration.AnalysisError
	require.ErrorAs(t, err, &analysisErr)
	assert.Equal(t, "destination", analysisErr.Stage)
	assert.Equal(t, "analyzing destination licenses: connection refused", err.Error())
	assert.Equal(t, migration.StateIdle, engine.State())
}

func TestMigrateWithOverwrite(t *testing.T) {
	dest := testutil.NewFakeLicenses(model.CanonicalLicense{ID: "lic-existing", Code: "A2", Description: "old"})
	engine, col := newEngine(t, dest, nil)
	seedLegacy(t, col, "A1", "A2", "A3")

	result, err := engine.Migrate(t.Context(), migration.Options{Overwrite: true, Validate: true})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.MigratedCount)
	assert.Empty(t, result.Errors)
	assert.Equal(t, migration.StateCompleted, result.State)
	assert.Equal(t, migration.StateCompleted, engine.State())
	assert.Equal(t, []string{"create:A1", "update:lic-existing", "create:A3"}, dest.Writes())

	records := dest.Records()
	require.Len(t, records, 3)
	assert.Equal(t, "Licencia A2", records[0].Description)
	assert.Equal(t, model.LicenseTypeField, records[0].LicenseType)
	assert.Same(t, result, engine.LastResult())
}

func TestMigrateAbortsOnConflictsWithoutWriting(t *testing.T) {
	dest := testutil.NewFakeLicenses(model.CanonicalLicense{Code: "A2"}, model.CanonicalLicense{Code: "A3"})
	bk := &recordingBackup{dest: dest}
	engine, col := newEngine(t, dest, bk)
	seedLegacy(t, col, "A1", "A2", "A3")

	result, err := engine.Migrate(t.Context(), migration.Options{CreateBackup: true})

	require.ErrorIs(t, err, migration.ErrConflicts)
	var conflicts *migration.ConflictsError
	require.ErrorAs(t, err, &conflicts)
	assert.Equal(t, []string{"A2", "A3"}, conflicts.Codes)
	assert.Equal(t, "aborting migration: 2 conflicting codes: A2, A3", err.Error())

	assert.False(t, result.Success)
	assert.Equal(t, migration.StateAborted, result.State)
	assert.Equal(t, migration.StateAborted, engine.State())
	assert.Zero(t, result.MigratedCount)
	assert.Empty(t, dest.Writes())
	assert.Equal(t, 1, bk.calls, "the backup is taken before conflicts are judged")
}

func TestMigrateContinuesPastFailures(t *testing.T) {
	dest := testutil.NewFakeLicenses()
	dest.Reject("A2")
	engine, col := newEngine(t, dest, nil)
	seedLegacy(t, col, "A1", "A2", "A3")
	testutil.PutJSON(t, col, "lic-z", legacy("", "", 0))

	result, err := engine.Migrate(t.Context(), migration.Options{Validate: true})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, migration.StateCompletedWithErrors, result.State)
	assert.Equal(t, 2, result.MigratedCount)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "record lic-b (A2): license rejected by destination", result.Errors[0])
	assert.Equal(t, "record lic-z: invalid record: missing code, missing description, maximum units must be positive", result.Errors[1])
	assert.Equal(t, []string{"create:A1", "create:A2", "create:A3"}, dest.Writes())
}

func TestMigrateWithoutValidationSynthesizesUniqueCodes(t *testing.T) {
	dest := testutil.NewFakeLicenses()
	engine, col := newEngine(t, dest, nil)
	testutil.PutJSON(t, col, "lic-1", legacy("", "", 0))
	testutil.PutJSON(t, col, "lic-2", legacy("", "", 0))

	result, err := engine.Migrate(t.Context(), migration.Options{})
	require.NoError(t, err)
	require.True(t, result.Success)

	records := dest.Records()
	require.Len(t, records, 2)
	assert.NotEqual(t, records[0].Code, records[1].Code)
	for _, r := range records {
		assert.True(t, strings.HasPrefix(r.Code, migration.GeneratedCodePrefix))
		assert.Equal(t, migration.PlaceholderDescription, r.Description)
		assert.Equal(t, 1, r.MaxAllowedUnits)
	}
}

func TestMigrateBacksUpBeforeWriting(t *testing.T) {
	existing := model.CanonicalLicense{Code: "Z9"}
	dest := testutil.NewFakeLicenses(existing)
	bk := &recordingBackup{dest: dest}
	engine, col := newEngine(t, dest, bk)
	seedLegacy(t, col, "A1", "A2")

	result, err := engine.Migrate(t.Context(), migration.Options{CreateBackup: true})
	require.NoError(t, err)

	assert.Equal(t, 1, bk.calls)
	assert.Zero(t, bk.writesBefore)
	require.Len(t, bk.records, 1)
	assert.Equal(t, "Z9", bk.records[0].Code)
	require.NotNil(t, result.Backup)
	assert.Equal(t, 1, result.Backup.Count)
	assert.Len(t, dest.Writes(), 2)
}

func TestMigrateAbortsWhenBackupFails(t *testing.T) {
	dest := testutil.NewFakeLicenses()
	bk := &recordingBackup{dest: dest, err: errors.New("disk full")}
	engine, col := newEngine(t, dest, bk)
	seedLegacy(t, col, "A1")

	result, err := engine.Migrate(t.Context(), migration.Options{CreateBackup: true})

	require.ErrorContains(t, err, "backing up destination: disk full")
	assert.Equal(t, migration.StateAborted, result.State)
	assert.Empty(t, dest.Writes())
}

func TestMigrateEmptySource(t *testing.T) {
	dest := testutil.NewFakeLicenses()
	bk := &recordingBackup{dest: dest}
	engine, _ := newEngine(t, dest, bk)

	result, err := engine.Migrate(t.Context(), migration.Options{CreateBackup: true})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Zero(t, result.MigratedCount)
	assert.Zero(t, bk.calls)
	assert.Equal(t, migration.StateCompleted, engine.State())
}

// blockingLicenses holds List until release is closed.
type blockingLicenses struct {
	*testutil.FakeLicenses
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingLicenses) List(ctx context.Context) ([]model.CanonicalLicense, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.FakeLicenses.List(ctx)
}

func TestEngineRejectsConcurrentOperations(t *testing.T) {
	dest := &blockingLicenses{
		FakeLicenses: testutil.NewFakeLicenses(),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	engine, _ := newEngine(t, dest, nil)

	done := make(chan error, 1)
	go func() {
		_, err := engine.Analyze(t.Context())
		done <- err
	}()
	<-dest.entered

	_, err := engine.Migrate(t.Context(), migration.Options{})
	require.ErrorIs(t, err, migration.ErrBusy)
	assert.Contains(t, err.Error(), "cannot migrate: current state is analyzing")

	_, err = engine.CleanupSource(t.Context())
	require.ErrorIs(t, err, migration.ErrBusy)

	close(dest.release)
	require.NoError(t, <-done)
	assert.Equal(t, migration.StateAwaitingConfirmation, engine.State())
}

func TestCleanupSource(t *testing.T) {
	dest := testutil.NewFakeLicenses()
	engine, col := newEngine(t, dest, nil)
	seedLegacy(t, col, "A1", "A2", "A3")

	_, err := engine.Migrate(t.Context(), migration.Options{})
	require.NoError(t, err)

	removed, err := engine.CleanupSource(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	left, err := col.List(t.Context(), "")
	require.NoError(t, err)
	assert.Empty(t, left)

	doc, err := col.Lookup(t.Context(), "lic-a")
	require.NoError(t, err)
	assert.True(t, doc.Deleted, "cleanup leaves tombstones for replication")

	removed, err = engine.CleanupSource(t.Context())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestReport(t *testing.T) {
	result := &migration.Result{
		Success:       false,
		State:         migration.StateCompletedWithErrors,
		MigratedCount: 2,
		Errors:        []string{"record lic-b (A2): rejected"},
		Log:           []string{"record lic-a (A1): created license A1"},
		Backup:        &backup.Artifact{Path: "/tmp/b.json", Count: 4},
		StartedAt:     fixedNow,
		FinishedAt:    fixedNow.Add(time.Second),
	}

	out := migration.Report(result)

	assert.Contains(t, out, "Started:  2024-03-01T12:00:00Z")
	assert.Contains(t, out, "Outcome:  FAILED (completed_with_errors)")
	assert.Contains(t, out, "Migrated: 2")
	assert.Contains(t, out, "Backup:   /tmp/b.json (4 records)")
	assert.Contains(t, out, "1. record lic-b (A2): rejected")
	assert.Contains(t, out, "- record lic-a (A1): created license A1")
	assert.Equal(t, "no migration has run\n", migration.Report(nil))
}
