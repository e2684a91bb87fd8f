package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gateline/internal/config"
	"gateline/internal/repo"
)

// ResolveClientAndConfig picks the active client and ensures a client +
// config exist in DB, seeding defaults if missing. It prefers overrides,
// then single-client DB. If the client does not exist, it is created on
// the fly.
func ResolveClientAndConfig(ctx context.Context, clientOverride string, r repo.Repo) (string, *config.Config, error) {
	clientID := clientOverride
	if clientID == "" {
		clients, err := r.ListClients(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(clients) != 1 {
			return "", nil, fmt.Errorf("client not specified; use --client")
		}
		clientID = clients[0].ID
	}
	seedCfg := config.Default(clientID)

	if _, err := r.GetClient(ctx, clientID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := createClient(ctx, r, clientID, seedCfg); err != nil {
			return "", nil, err
		}
	}
	cfg, err := r.GetClientConfig(ctx, clientID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			if err := r.UpsertClientConfig(ctx, clientID, seedCfg); err != nil {
				return "", nil, fmt.Errorf("seed client config: %w", err)
			}
			cfg = seedCfg
		} else {
			return "", nil, err
		}
	}
	cfg.Client.ID = clientID
	return clientID, cfg, nil
}

// createClient inserts a minimal client footprint using the seed config.
func createClient(ctx context.Context, r repo.Repo, clientID string, seedCfg *config.Config) error {
	if seedCfg == nil {
		seedCfg = config.Default(clientID)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.EnsureClient(ctx, tx, clientID, clientID, now); err != nil {
		return fmt.Errorf("ensure client: %w", err)
	}
	if err := r.UpsertClientConfigTx(ctx, tx, clientID, seedCfg); err != nil {
		return fmt.Errorf("insert client config: %w", err)
	}
	return tx.Commit()
}
