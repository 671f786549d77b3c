package remote

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
)

func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("INKWELL_TEST_POSTGRES_URL"))
	if dsn == "" {
		t.Skip("INKWELL_TEST_POSTGRES_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgres_EntityLifecycle(t *testing.T) {
	store := openTestPostgres(t)
	ctx := context.Background()
	owner := "test-" + time.Now().UTC().Format("20060102T150405.000000000")

	// Progress for a document that does not exist remotely is refused.
	progress := document.NewProgress("d1", "blog", 2, time.Now())
	err := store.Put(ctx, owner, record(t, document.ProgressKey("d1"), progress))
	assert.True(t, errors.Is(err, errors.ErrNotFound), "got %v", err)

	doc := &document.Document{ID: "d1", Content: "Hello"}
	docRec := record(t, document.DocumentKey("d1"), doc)
	require.NoError(t, store.Put(ctx, owner, docRec))
	require.NoError(t, store.Put(ctx, owner, record(t, document.ProgressKey("d1"), progress)))
	require.NoError(t, store.Put(ctx, owner, record(t, document.SessionKey(), document.Prefs{ActiveDocumentID: "d1"})))

	got, err := store.Get(ctx, owner, document.DocumentKey("d1"))
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(docRec.UpdatedAt))
	var out document.Document
	require.NoError(t, got.Decode(&out))
	assert.Equal(t, "Hello", out.Content)

	require.NoError(t, store.Delete(ctx, owner, document.DocumentKey("d1")))
	_, err = store.Get(ctx, owner, document.ProgressKey("d1"))
	assert.True(t, errors.Is(err, errors.ErrNotFound), "progress should cascade, got %v", err)

	require.NoError(t, store.Delete(ctx, owner, document.SessionKey()))
}

func TestClassify(t *testing.T) {
	denied := fmt.Errorf("exec: %w", &pgconn.PgError{Code: "42501", Message: "permission denied"})
	err := classify(denied)
	assert.True(t, errors.Is(err, errors.ErrInternal), "server answered: %v", err)
	assert.False(t, errors.Retryable(err))

	err = classify(stderrors.New("dial tcp 127.0.0.1:5432: connect: connection refused"))
	assert.True(t, errors.Is(err, errors.ErrRemoteUnavailable), "got %v", err)
}
