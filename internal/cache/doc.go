// Package cache provides a bounded LRU used to memoize store lookups.
//
// The LRU is keyed by any comparable type and bounded by entry count.
// Hit and miss counters are atomic so Stats can be read without the lock.
package cache
