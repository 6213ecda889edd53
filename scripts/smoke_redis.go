//go:build integration
// +build integration

package scripts

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/linkmem/linkmem/config"
	"github.com/ZanzyTHEbar/linkmem/linkmem/memory"
	"github.com/rs/zerolog"
)

// RunSmokeRedis exercises every component against a live Redis at url.
// Keys are namespaced under a per-run agent id and removed afterwards;
// snapshots are left to retention.
func RunSmokeRedis(ctx context.Context, url string, logger zerolog.Logger) error {
	cfg, err := config.LoadConfig("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Store.Backend = "redis"
	cfg.Store.URL = url

	system, err := memory.NewMemorySystem(ctx, memory.MemorySystemConfig{Config: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer system.Close()

	agent := fmt.Sprintf("smoke-%d", time.Now().UnixNano())

	if err := system.Admin.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	logger.Info().Msg("OK: ping")

	if err := system.Contexts.SetContext(ctx, agent, map[string]any{"goal": "smoke"}); err != nil {
		return fmt.Errorf("set context: %w", err)
	}
	fields, found, err := system.Contexts.GetContext(ctx, agent)
	if err != nil || !found || fields["goal"] != "smoke" {
		return fmt.Errorf("get context: found=%v fields=%v err=%v", found, fields, err)
	}
	defer system.Contexts.DeleteContext(ctx, agent)
	logger.Info().Msg("OK: context")

	for i := range 3 {
		if err := system.History.AppendHistory(ctx, agent, map[string]any{"n": i}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}
	}
	entries, err := system.History.GetHistory(ctx, agent, 2)
	if err != nil || len(entries) != 2 {
		return fmt.Errorf("get history: entries=%v err=%v", entries, err)
	}
	defer system.History.ClearHistory(ctx, agent)
	logger.Info().Msg("OK: history")

	session, err := system.Sessions.CreateSession(ctx, "", map[string]any{"participants": []string{agent}})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if err := system.Sessions.CloseSession(ctx, session); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	logger.Info().Str("session_id", session).Msg("OK: session")

	if err := system.Presence.SetPresence(ctx, agent, cfg.Memory.OnlineStatus, 2*time.Second); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	status, err := system.Presence.GetPresence(ctx, agent)
	if err != nil || status != cfg.Memory.OnlineStatus {
		return fmt.Errorf("get presence: status=%q err=%v", status, err)
	}
	logger.Info().Msg("OK: presence")

	ts, err := system.Snapshots.CreateSnapshot(ctx, map[string]any{"smoke": agent})
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if _, found, err := system.Snapshots.GetSnapshot(ctx, ts); err != nil || !found {
		return fmt.Errorf("get snapshot %s: found=%v err=%v", ts, found, err)
	}
	logger.Info().Str("timestamp", ts).Msg("OK: snapshot")

	stats, err := system.Admin.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	logger.Info().Interface("stats", stats).Msg("OK: stats")
	return nil
}
