package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	appErrors "github.com/noah-isme/sma-status-api/pkg/errors"
)

func TestCacheRepositoryWithoutClient(t *testing.T) {
	repo := NewCacheRepository(nil)
	var dest []string

	assert.ErrorIs(t, repo.Get(context.Background(), "status:subject:s1", &dest), appErrors.ErrCacheMiss)
	assert.NoError(t, repo.Set(context.Background(), "status:subject:s1", []string{"a1"}, time.Minute))
	assert.NoError(t, repo.Delete(context.Background(), "status:subject:s1"))
}
