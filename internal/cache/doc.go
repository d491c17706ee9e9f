// Package cache mirrors the latest dashboard values into Redis.
//
// Like the archive, the cache is optional and the agent runs without it.
package cache
