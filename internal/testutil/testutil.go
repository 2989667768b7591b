// Package testutil provides test utilities for chfs, including:
//   - ClickHouse container helpers for integration tests (clickhouse.go)
//   - Redis container helpers for integration tests (redis.go)
//   - An in-process ClickHouse HTTP stub for unit tests (stub.go)
//   - Miniredis helpers for unit tests (miniredis.go)
//   - Churn dataset fixtures (fixtures.go)
//
// Integration test utilities require Docker and are gated behind the "integration"
// build tag. To run integration tests:
//
//	go test -tags=integration ./...
//
// Everything else works with regular tests.
package testutil
