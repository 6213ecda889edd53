//go:build integration
// +build integration

package scripts

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestScriptsIntegration(t *testing.T) {
	url := os.Getenv("LINKMEM_REDIS_URL")
	if url == "" {
		t.Skip("skipping integration test; set LINKMEM_REDIS_URL=redis://host:port/db to run")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("SmokeRedis", func(t *testing.T) {
		require.NoError(t, RunSmokeRedis(ctx, url, zerolog.New(zerolog.NewTestWriter(t))))
	})
}
