//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates all tables and restarts the feed sequence, so each test
// observes feed cursors starting from 1.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = env.Pool.Exec(ctx,
		"TRUNCATE TABLE processed_mutations, change_feed, hole_results, matches, trips RESTART IDENTITY CASCADE")
}
