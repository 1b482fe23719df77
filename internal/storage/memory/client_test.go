package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ConsentTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	c := New(time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.SetConsentID(ctx, "a", "consent-1"))
	id, err := c.GetConsentID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "consent-1", id)

	c.now = func() time.Time { return now.Add(time.Hour) }
	id, err = c.GetConsentID(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, c.ClearConsentID(ctx, "a"))
}
