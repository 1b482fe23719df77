package file

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SurvivesReopenAndExpires(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "consent.json")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	c := New(path, time.Minute)
	c.now = func() time.Time { return now }
	require.NoError(t, c.SetConsentID(ctx, "a", "consent-1"))

	reopened := New(path, time.Minute)
	reopened.now = func() time.Time { return now.Add(30 * time.Second) }
	id, err := reopened.GetConsentID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "consent-1", id)

	reopened.now = func() time.Time { return now.Add(2 * time.Minute) }
	id, err = reopened.GetConsentID(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClient_Clear(t *testing.T) {
	ctx := context.Background()
	c := New(filepath.Join(t.TempDir(), "consent.json"), 0)
	require.NoError(t, c.ClearConsentID(ctx, "missing"))
	require.NoError(t, c.SetConsentID(ctx, "a", "x"))
	require.NoError(t, c.SetConsentID(ctx, "b", "y"))
	require.NoError(t, c.ClearConsentID(ctx, "a"))

	id, err := c.GetConsentID(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, id)
	id, err = c.GetConsentID(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "y", id)
}
