package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/helm-app/landregistry/common/database"
	"github.com/helm-app/landregistry/common/landtitle"
)

// setupTestDatabase creates a PostgreSQL testcontainer and runs migrations
func setupTestDatabase(t *testing.T, blobs BlobStore) *PostgresRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL container test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("landregistry_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	migrations, err := filepath.Abs(filepath.Join("..", "..", "migrations"))
	require.NoError(t, err)
	version, err := database.Migrate(migrations, connStr)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	repo, err := NewPostgresRepository(ctx, connStr, PostgresOptions{MaxConns: 4, Blobs: blobs})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (b *memBlobs) Put(_ context.Context, key string, data []byte, _ string) error {
	if b.err != nil {
		return b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[key] = data
	return nil
}

func TestPostgresRepository_SaveAndGet(t *testing.T) {
	repo := setupTestDatabase(t, nil)
	ctx := context.Background()

	sub := testSubmission("01890a5d-ac96-774b-bcce-b302099a8057")
	sub.Fields.Encumbrances = "Mortgage to BDO"
	sub.Attachments = append(sub.Attachments, landtitle.Attachment{OriginalName: "empty.txt", ContentType: "text/plain"})

	saved, err := repo.SaveRegistration(ctx, sub)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.False(t, saved.CreatedAt.IsZero())

	got, err := repo.GetRegistration(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Fields, got.Fields)
	assert.Equal(t, sub.ReceivedAt, got.ReceivedAt.UTC())
	assert.Equal(t, 2, got.AttachmentCount)
	require.Len(t, got.Attachments, 2)
	assert.Equal(t, "deed.pdf", got.Attachments[0].OriginalName)
	assert.Equal(t, int64(8), got.Attachments[0].Size)
	assert.Empty(t, got.Attachments[0].ObjectKey)
	assert.Equal(t, int64(0), got.Attachments[1].Size)
}

func TestPostgresRepository_Duplicate(t *testing.T) {
	repo := setupTestDatabase(t, nil)
	ctx := context.Background()

	sub := testSubmission("dup-1")
	_, err := repo.SaveRegistration(ctx, sub)
	require.NoError(t, err)

	_, err = repo.SaveRegistration(ctx, sub)
	assert.ErrorIs(t, err, ErrDuplicateSubmission)

	_, total, err := repo.ListRegistrations(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total, "duplicate save leaves exactly one row")
}

func TestPostgresRepository_InvalidRecord(t *testing.T) {
	repo := setupTestDatabase(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(s *landtitle.Submission)
	}{
		{name: "unknown classification", mutate: func(s *landtitle.Submission) { s.Fields.Classification = "Agricultural" }},
		{name: "date before 1900", mutate: func(s *landtitle.Submission) { s.Fields.RegistrationDate = "1850-01-01" }},
		{name: "non numeric lot", mutate: func(s *landtitle.Submission) { s.Fields.LotNumber = "twelve" }},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := testSubmission(fmt.Sprintf("bad-%d", i))
			tt.mutate(&sub)
			_, err := repo.SaveRegistration(ctx, sub)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestPostgresRepository_BlobStore(t *testing.T) {
	blobs := &memBlobs{}
	repo := setupTestDatabase(t, blobs)
	ctx := context.Background()

	sub := testSubmission("blob-1")
	_, err := repo.SaveRegistration(ctx, sub)
	require.NoError(t, err)

	got, err := repo.GetRegistration(ctx, "blob-1")
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	key := got.Attachments[0].ObjectKey
	assert.Equal(t, "registrations/blob-1/00-deed.pdf", key)
	assert.Equal(t, []byte("%PDF-1.7"), blobs.objects[key])

	blobs.err = errors.New("connection refused")
	_, err = repo.SaveRegistration(ctx, testSubmission("blob-2"))
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = repo.GetRegistration(ctx, "blob-2")
	assert.ErrorIs(t, err, ErrNotFound, "failed upload writes no rows")
}

func TestPostgresRepository_List(t *testing.T) {
	repo := setupTestDatabase(t, nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := repo.SaveRegistration(ctx, testSubmission(fmt.Sprintf("list-%d", i)))
		require.NoError(t, err)
	}

	regs, total, err := repo.ListRegistrations(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, regs, 2)
	assert.Equal(t, "list-3", regs[0].SubmissionID)
	assert.Equal(t, "list-2", regs[1].SubmissionID)
	assert.Equal(t, "150.5", regs[0].AreaSize.String())

	regs, _, err = repo.ListRegistrations(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "list-1", regs[0].SubmissionID)
}

func TestPostgresRepository_ClosedPool(t *testing.T) {
	repo := setupTestDatabase(t, nil)
	repo.Close()

	_, err := repo.SaveRegistration(context.Background(), testSubmission("closed-1"))
	assert.ErrorIs(t, err, ErrUnavailable)
}
