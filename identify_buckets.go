package crust

import (
	"context"
	"fmt"

	bucketstore "github.com/WelcomerTeam/Crust/pkg/bucketStore"
	"github.com/WelcomerTeam/Crust/pkg/clock"
)

// IdentifyViaBuckets lets one shard per max_concurrency bucket identify every
// IdentifyRateLimit. It only coordinates shards within this process.
type IdentifyViaBuckets struct {
	bucketStore *bucketstore.BucketStore
}

func NewIdentifyViaBuckets(clk clock.Clock) *IdentifyViaBuckets {
	return &IdentifyViaBuckets{
		bucketStore: bucketstore.NewBucketStore(clk),
	}
}

func (i *IdentifyViaBuckets) Identify(ctx context.Context, shard *Shard) error {
	maxConcurrency := shard.Manager.Gateway().SessionStartLimit.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}

	bucketName := fmt.Sprintf(
		"identify:%s:%d",
		tokenHash(shard.Manager.Configuration.Token),
		shard.ShardID%maxConcurrency,
	)

	err := i.bucketStore.WaitForBucket(ctx, bucketName, 1, IdentifyRateLimit)
	if err != nil {
		return fmt.Errorf("failed to wait for bucket: %w", err)
	}

	return nil
}
