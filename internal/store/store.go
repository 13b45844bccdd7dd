package store

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/owlconnect/snapdiff/internal/cdc"
	"github.com/owlconnect/snapdiff/internal/config"
)

// Open returns the store backend named by the configuration. Every backend
// implements cdc.Store and commits runs transactionally via cdc.RunCommitter.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger hclog.Logger) (cdc.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg.ConnectionString(), logger)
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path, logger)
	case config.DriverBolt:
		return OpenBolt(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}
