package bucketstore_test

import (
	"context"
	"testing"
	"time"

	bucketstore "github.com/WelcomerTeam/Crust/pkg/bucketStore"
	"github.com/WelcomerTeam/Crust/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketsAreIndependent(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(0, 0))
	bs := bucketstore.NewBucketStore(fc)

	require.NoError(t, bs.WaitForBucket(context.Background(), "identify:0", 1, time.Second))
	require.NoError(t, bs.WaitForBucket(context.Background(), "identify:1", 1, time.Second))

	assert.Same(t, bs.CreateBucket("identify:0", 1, time.Second), bs.CreateBucket("identify:0", 5, time.Minute))
	assert.Equal(t, int32(0), bs.CreateBucket("identify:0", 1, time.Second).Available())
}
