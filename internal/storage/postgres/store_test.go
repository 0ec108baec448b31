package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/FallThunder/hack-at-davidson-26-sub000/internal/broker"
)

func TestTryClaimAnalysisWins(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO analysis_jobs").
		WithArgs("key-1", string(broker.StateWaiting), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	won, err := store.TryClaimAnalysis(context.Background(), "key-1", now)
	require.NoError(t, err)
	require.True(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTryClaimAnalysisLosesOnConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO analysis_jobs").
		WithArgs("key-1", string(broker.StateWaiting), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	won, err := store.TryClaimAnalysis(context.Background(), "key-1", now)
	require.NoError(t, err)
	require.False(t, won)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAnalysisMapsMissingRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)

	mock.ExpectQuery("SELECT key, state, payload").
		WithArgs("absent").
		WillReturnRows(pgxmock.NewRows([]string{"key", "state", "payload", "progress", "created_at", "updated_at"}))

	_, err = store.GetAnalysis(context.Background(), "absent")
	require.ErrorIs(t, err, broker.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAnalysisScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)
	now := time.Unix(1700000000, 0).UTC()
	payload := []byte(`{"summary":"ok"}`)

	rows := pgxmock.NewRows([]string{"key", "state", "payload", "progress", "created_at", "updated_at"}).
		AddRow("key-1", string(broker.StateResolved), payload, "", now, now)
	mock.ExpectQuery("SELECT key, state, payload").
		WithArgs("key-1").
		WillReturnRows(rows)

	entry, err := store.GetAnalysis(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, broker.StateResolved, entry.State)
	require.Equal(t, payload, entry.Payload)
	require.Equal(t, now, entry.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAnalysisWritesPayload(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)
	now := time.Unix(1700000000, 0).UTC()
	payload := []byte(`{"summary":"ok"}`)

	mock.ExpectExec("UPDATE analysis_jobs SET state").
		WithArgs(string(broker.StateResolved), payload, now, "key-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.ResolveAnalysis(context.Background(), "key-1", payload, now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAnalysisIgnoresAbsentRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)

	mock.ExpectExec("DELETE FROM analysis_jobs").
		WithArgs("absent").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.DeleteAnalysis(context.Background(), "absent"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutPublisherUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewStoreWithPool(mock)
	now := time.Unix(1700000000, 0).UTC()
	payload := []byte(`{"domain":"example.com"}`)

	mock.ExpectExec("INSERT INTO publisher_profiles").
		WithArgs("pub-1", payload, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PutPublisher(context.Background(), "pub-1", payload, now))
	require.NoError(t, mock.ExpectationsWereMet())
}
