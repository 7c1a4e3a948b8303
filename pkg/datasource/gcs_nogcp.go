//go:build !gcp

package datasource

import (
	"context"
	"fmt"
)

func openGCS(ctx context.Context, bucket string) (DataSource, error) {
	return nil, fmt.Errorf("GCS data source is not enabled in this build (use -tags gcp)")
}
