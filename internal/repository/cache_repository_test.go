package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/campus-cert-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil, nil)
	ctx := context.Background()

	assert.False(t, repo.Enabled())
	var dest map[string]string
	err := repo.Get(ctx, "verify:ABCD", &dest)
	require.ErrorIs(t, err, appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(ctx, "verify:ABCD", map[string]string{"a": "b"}, time.Minute))
	assert.NoError(t, repo.Delete(ctx, "verify:ABCD"))
	assert.NoError(t, repo.DeleteByPattern(ctx, "verify:*"))
	assert.NoError(t, repo.Ping(ctx))
	assert.NoError(t, repo.Close())
}
