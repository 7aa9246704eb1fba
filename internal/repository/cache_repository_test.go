package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/isotope-submissions-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, "isotope")
	ctx := context.Background()

	var dest []string
	require.ErrorIs(t, repo.Get(ctx, "submissions:all", &dest), appErrors.ErrCacheMiss)
	require.NoError(t, repo.Set(ctx, "submissions:all", []string{"a"}, time.Second))
	require.NoError(t, repo.DeleteByPattern(ctx, "submissions:*"))
	require.NoError(t, repo.Ping(ctx))
	require.NoError(t, repo.Close())
}

func TestCacheRepositoryNamespacesKeys(t *testing.T) {
	require.Equal(t, "isotope:approved", NewCacheRepository(nil, "isotope").key("approved"))
	require.Equal(t, "approved", NewCacheRepository(nil, "").key("approved"))
}
