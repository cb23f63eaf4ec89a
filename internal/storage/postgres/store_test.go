package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewlens/review-crawler/internal/review"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestGetSessionMissing(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT data FROM records").
		WithArgs("session").
		WillReturnError(context.Canceled)

	// A driver error surfaces as an error, not ErrNoSession.
	_, err := store.Get(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, review.ErrNoSession)
}

func TestGetSessionNoRows(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT data FROM records").
		WithArgs("session").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background())
	require.ErrorIs(t, err, review.ErrNoSession)
}

func TestPutSessionUpserts(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	sess := review.Session{SessionID: "s-1", StartURL: "https://shop.example/p/1", MaxPages: 10}
	data, err := json.Marshal(sess)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO records").
		WithArgs("session", data).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Put(context.Background(), sess))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSessionRoundTrip(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	sess := review.Session{
		SessionID:    "s-2",
		PagesCrawled: 4,
		Reviews:      []review.Review{{ID: "r1", Text: "sharp blades"}},
	}
	data, err := json.Marshal(sess)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT data FROM records").
		WithArgs("session").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := store.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s-2", got.SessionID)
	assert.Equal(t, 4, got.PagesCrawled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheEntryRoundTrip(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	storedAt := time.Unix(1700000000, 0).UTC()
	payload, err := json.Marshal(review.Summary{NotePros: "No pros found", NoteCons: "No cons found"})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO summary_cache").
		WithArgs("fp-1", storedAt, payload).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT stored_at, payload FROM summary_cache").
		WithArgs("fp-1").
		WillReturnRows(pgxmock.NewRows([]string{"stored_at", "payload"}).AddRow(storedAt, payload))

	entry := review.CacheEntry{
		Key:      "fp-1",
		StoredAt: storedAt,
		Payload:  review.Summary{NotePros: "No pros found", NoteCons: "No cons found"},
	}
	require.NoError(t, store.PutEntry(context.Background(), entry))

	got, err := store.GetEntry(context.Background(), "fp-1")
	require.NoError(t, err)
	assert.Equal(t, storedAt, got.StoredAt)
	assert.Equal(t, "No cons found", got.Payload.NoteCons)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeEntries(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM summary_cache").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	require.NoError(t, store.PurgeEntries(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsentUpsert(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	rec := review.ConsentRecord{Accepted: true, Version: 1}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO records").
		WithArgs("consent", data).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PutConsent(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}
