// Package security provides validation, sanitization, and limits for the batchq package.
//
// This package includes:
//   - Input validation for job class names and queue names
//   - Error message sanitization to prevent sensitive data leakage
//   - Clamping functions to enforce safe limits on retries
//   - Constants defining maximum sizes and counts
//
// Most users should import the root package github.com/tobren/batchq
// which re-exports these functions.
package security
