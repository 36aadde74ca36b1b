// Package integration provides cross-package integration tests for sleuth.
// These tests verify that components work correctly together across package boundaries.
//
// Build tag: integration
// Run with: go test -tags integration ./internal/integration/...
package integration
