// Package integration provides cross-package integration tests for specialists.
// These tests drive real runs through the classifier, registry, engine,
// storage backends, and observers together.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
