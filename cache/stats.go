package cache

// Stats summarizes a ShardedCache's hit/miss/eviction counters and current
// occupancy, returned by ShardedCache.Stats for diagnostics.
type Stats struct {
	Len           int
	Capacity      int
	TotalCapacity int
	Hits          uint64
	Misses        uint64
	Evictions     uint64
	HitRate       float64
}
