// Package core provides the fundamental types and interfaces for the batchq package.
//
// This package contains:
//   - BatchDefinition and JobDefinition value types with normalization
//   - Storage interface defining the persistence contract
//   - Job capability interfaces and the class Registry
//   - Envelope marker keys and classification
//   - Event types for batch monitoring
//   - Error types for orchestration failures
//
// Most users should import the root package github.com/tobren/batchq
// instead of this package directly.
package core
