// Package mmap maps input files read-only so shard readers can slice byte
// ranges without copying the whole file.
package mmap
