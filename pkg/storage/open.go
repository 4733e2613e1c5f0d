package storage

import (
	"context"
	"fmt"
)

// Backend names accepted by [Open].
const (
	BackendMemory = "memory"
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMongo  = "mongo"
)

// Config selects and configures a backend.
type Config struct {
	Backend string      `toml:"backend"`
	Dir     string      `toml:"dir"`
	S3      S3Config    `toml:"s3"`
	Mongo   MongoConfig `toml:"mongo"`
}

// Open creates the store described by cfg. An empty backend selects memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFS:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("fs storage requires dir")
		}
		return NewFSStore(cfg.Dir)
	case BackendS3:
		return NewS3Store(cfg.S3)
	case BackendMongo:
		return NewMongoStore(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
