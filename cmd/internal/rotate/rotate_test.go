package rotate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cloudrotate/rotate-backups/cmd/internal/storage"
	"github.com/cloudrotate/rotate-backups/pkg/rotation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct {
	names []string

	deleteCalls [][]string
	deleteErr   error
	listErr     error
}

func (f *fakeStorage) ListNames(_ context.Context) ([]string, error) {
	return f.names, f.listErr
}

func (f *fakeStorage) DeleteNames(_ context.Context, names []string) error {
	f.deleteCalls = append(f.deleteCalls, names)
	return f.deleteErr
}

func (f *fakeStorage) Name() string {
	return "test-bucket"
}

func (f *fakeStorage) Kind() string {
	return "object"
}

var testNames = []string{
	"backup-2024-01-01-000000",
	"backup-2024-01-02-000000",
	"backup-2024-01-03-000000",
}

func TestRotate(t *testing.T) {
	store := &fakeStorage{names: testNames}

	r, err := New(slog.Default(), store, &Config{
		Scheme: rotation.Scheme{rotation.Daily: rotation.RetainCount(2)},
	})
	require.NoError(t, err)

	result, err := r.Rotate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Found)
	assert.Equal(t, 2, result.Preserved)
	assert.Equal(t, 1, result.Deleted)

	// exactly one batched deletion call with the full deletion list
	require.Len(t, store.deleteCalls, 1)
	assert.Equal(t, []string{"backup-2024-01-01-000000"}, store.deleteCalls[0])
}

func TestRotateDryRunNeverDeletes(t *testing.T) {
	store := &fakeStorage{names: testNames}

	r, err := New(slog.Default(), store, &Config{
		Scheme: rotation.Scheme{rotation.Daily: rotation.RetainCount(1)},
		DryRun: true,
	})
	require.NoError(t, err)

	result, err := r.Rotate(context.Background())
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 2, result.Deleted)
	assert.Empty(t, store.deleteCalls, "dry run must not touch the storage")
}

func TestRotateAllPreservedIsANoop(t *testing.T) {
	store := &fakeStorage{names: testNames}

	r, err := New(slog.Default(), store, &Config{
		Scheme: rotation.Scheme{rotation.Daily: rotation.RetainCount(7)},
	})
	require.NoError(t, err)

	result, err := r.Rotate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.Preserved)
	assert.Zero(t, result.Deleted)
	assert.Empty(t, store.deleteCalls)
}

func TestRotateEmptyContainerIsANoop(t *testing.T) {
	store := &fakeStorage{}

	r, err := New(slog.Default(), store, &Config{
		Scheme: rotation.Scheme{rotation.Daily: rotation.RetainCount(7)},
	})
	require.NoError(t, err)

	result, err := r.Rotate(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.Found)
	assert.Empty(t, store.deleteCalls)
}

func TestRotateSurfacesPartialDeletionFailure(t *testing.T) {
	store := &fakeStorage{
		names:     testNames,
		deleteErr: &storage.PartialDeletionError{Failed: []string{"backup-2024-01-01-000000"}},
	}

	r, err := New(slog.Default(), store, &Config{
		Scheme: rotation.Scheme{rotation.Daily: rotation.RetainCount(2)},
	})
	require.NoError(t, err)

	result, err := r.Rotate(context.Background())

	var partialErr *storage.PartialDeletionError
	require.ErrorAs(t, err, &partialErr)
	assert.Equal(t, []string{"backup-2024-01-01-000000"}, partialErr.Failed)

	// the run itself completed, nothing is retried
	require.NotNil(t, result)
	require.Len(t, store.deleteCalls, 1)
}

func TestRotateRespectsIncludeExclude(t *testing.T) {
	store := &fakeStorage{names: []string{
		"db-2024-01-01-000000.bak",
		"db-2024-01-02-000000.bak",
		"db-secret-2024-01-03-000000.bak",
	}}

	r, err := New(slog.Default(), store, &Config{
		Scheme:  rotation.Scheme{rotation.Daily: rotation.RetainCount(1)},
		Include: []string{"*.bak"},
		Exclude: []string{"*secret*"},
	})
	require.NoError(t, err)

	result, err := r.Rotate(context.Background())
	require.NoError(t, err)

	// the excluded name is neither counted nor deleted
	assert.Equal(t, 2, result.Found)
	require.Len(t, store.deleteCalls, 1)
	assert.Equal(t, []string{"db-2024-01-01-000000.bak"}, store.deleteCalls[0])
}

func TestRotateWithExplicitReference(t *testing.T) {
	store := &fakeStorage{names: testNames}

	// anchoring at Jan 10th puts all three backups outside a daily=2
	// window, only the newest survives through its implicit preservation
	r, err := New(slog.Default(), store, &Config{
		Scheme:    rotation.Scheme{rotation.Daily: rotation.RetainCount(2)},
		Reference: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	result, err := r.Rotate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Preserved)
	require.Len(t, store.deleteCalls, 1)
	assert.Equal(t, testNames[:2], store.deleteCalls[0])
}

func TestNewRejectsInvalidScheme(t *testing.T) {
	_, err := New(slog.Default(), &fakeStorage{}, &Config{
		Scheme: rotation.Scheme{rotation.Daily: rotation.RetainCount(-1)},
	})
	require.ErrorIs(t, err, rotation.ErrInvalidRetention)
}

func TestPlanDoesNotDelete(t *testing.T) {
	store := &fakeStorage{names: testNames}

	r, err := New(slog.Default(), store, &Config{
		Scheme: rotation.Scheme{rotation.Daily: rotation.RetainCount(1)},
	})
	require.NoError(t, err)

	plan, err := r.Plan(context.Background())
	require.NoError(t, err)

	assert.Len(t, plan.Deletions, 2)
	assert.Empty(t, store.deleteCalls)
}
