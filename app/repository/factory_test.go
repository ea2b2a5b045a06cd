package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryReturnsSingletonRepositories(t *testing.T) {
	db := newTestDB(t)
	f := NewFactory(db)

	first := f.GetRepositories()
	require.NotNil(t, first.Purchase)
	require.NotNil(t, first.WebhookEvent)
	assert.Same(t, first, f.GetRepositories())
}
