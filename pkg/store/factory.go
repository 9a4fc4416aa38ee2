package store

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryConfig contains configuration for creating a store
type RepositoryConfig struct {
	// Pool is required for PostgreSQL stores
	Pool *pgxpool.Pool
	// DataDir is required for file-based stores
	DataDir string
}

// NewStore creates a store based on the persistence type
func NewStore(persistenceType string, config RepositoryConfig) (Store, error) {
	switch persistenceType {
	case "postgres", "postgresql":
		if config.Pool == nil {
			return nil, fmt.Errorf("pool required for postgres store")
		}
		return NewPostgresStore(config.Pool), nil
	case "file":
		if config.DataDir == "" {
			return nil, fmt.Errorf("dataDir required for file store")
		}
		return NewFileStore(config.DataDir)
	case "memory", "inmem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s (supported: postgres, file, memory)", persistenceType)
	}
}
