package datasource

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Open creates a data source for the named driver. The dsn meaning is
// driver-specific: a file path or connection string for SQL drivers, a
// redis URL, or a bucket name for the object stores.
func Open(ctx context.Context, driver, dsn string) (DataSource, error) {
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(dsn)
	case "redis":
		opt, err := redis.ParseURL(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return NewRedis(redis.NewClient(opt), ""), nil
	case "s3":
		return NewS3(ctx, S3Config{Bucket: dsn})
	case "gcs":
		return openGCS(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown data source driver %q", driver)
	}
}
