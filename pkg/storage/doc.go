// Package storage provides the durable backends for batch state.
//
// This package includes:
//   - GormStorage: transactional SQL backend (sqlite, mysql, postgres)
//   - RedisStorage: hash-per-batch backend with Lua counter scripts
//
// Both implement the Storage interface defined in pkg/core and provide
// the same behavioral contract; only their performance characteristics
// differ.
//
// Most users should import the root package github.com/tobren/batchq
// which provides NewGormStorage() and NewRedisStorage().
package storage
