package bucketstore

import (
	"context"
	"sync"
	"time"

	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/WelcomerTeam/Crust/pkg/limiter"
)

// BucketStore keeps named DurationLimiters.
type BucketStore struct {
	clock clock.Clock

	bucketsMu sync.RWMutex
	buckets   map[string]*limiter.DurationLimiter
}

func NewBucketStore(clk clock.Clock) *BucketStore {
	return &BucketStore{
		clock:   clk,
		buckets: make(map[string]*limiter.DurationLimiter),
	}
}

// CreateBucket returns the bucket called name, creating it if it does not exist.
func (bs *BucketStore) CreateBucket(name string, limit int32, duration time.Duration) *limiter.DurationLimiter {
	bs.bucketsMu.RLock()
	bucket, ok := bs.buckets[name]
	bs.bucketsMu.RUnlock()

	if ok {
		return bucket
	}

	bs.bucketsMu.Lock()
	defer bs.bucketsMu.Unlock()

	if bucket, ok = bs.buckets[name]; !ok {
		bucket = limiter.NewDurationLimiter(bs.clock, limit, duration)
		bs.buckets[name] = bucket
	}

	return bucket
}

// WaitForBucket creates the bucket if needed and waits for a slot.
func (bs *BucketStore) WaitForBucket(ctx context.Context, name string, limit int32, duration time.Duration) error {
	return bs.CreateBucket(name, limit, duration).Wait(ctx)
}
