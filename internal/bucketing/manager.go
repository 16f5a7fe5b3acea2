package bucketing

import (
	"github.com/spaolacci/murmur3"
)

// shardSeed keeps shard placement independent of any other murmur3 use of
// the same keys.
const shardSeed uint32 = 0x07a1

// BucketingManager maps OTP record keys and phone numbers onto a fixed set
// of shards. The same key always lands on the same shard for the life of
// the process.
type BucketingManager struct {
	buckets uint64
}

func NewBucketingManager(buckets int) *BucketingManager {
	if buckets <= 0 {
		buckets = 1
	}
	return &BucketingManager{buckets: uint64(buckets)}
}

// GetBucket returns the shard index for key in [0, Buckets()).
func (bm *BucketingManager) GetBucket(key string) int {
	if bm.buckets == 1 {
		return 0
	}
	return int(murmur3.Sum64WithSeed([]byte(key), shardSeed) % bm.buckets)
}

func (bm *BucketingManager) Buckets() int {
	return int(bm.buckets)
}
