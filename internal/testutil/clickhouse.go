//go:build integration

package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

const (
	clickhouseImage    = "clickhouse/clickhouse-server:25.5.10"
	clickhouseUser     = "default"
	clickhousePassword = "test_password"
	clickhouseDatabase = "churn"
)

// ClickHouseConnection addresses the HTTP interface of a ClickHouse container
type ClickHouseConnection struct {
	// URL carries the credentials, e.g. http://default:pw@localhost:32768
	URL      string
	Database string
}

// NewClickHouseContainer starts a ClickHouse container with the churn
// database created that is terminated with the test
func NewClickHouseContainer(t *testing.T) ClickHouseConnection {
	t.Helper()

	ctx := context.Background()

	container, err := clickhouse.Run(ctx, clickhouseImage,
		clickhouse.WithUsername(clickhouseUser),
		clickhouse.WithPassword(clickhousePassword),
		clickhouse.WithDatabase(clickhouseDatabase),
	)
	if err != nil {
		t.Fatalf("failed to start ClickHouse container: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate ClickHouse container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "8123/tcp")
	if err != nil {
		t.Fatalf("failed to get mapped HTTP port: %v", err)
	}

	return ClickHouseConnection{
		URL:      fmt.Sprintf("http://%s:%s@%s:%s", clickhouseUser, clickhousePassword, host, port.Port()),
		Database: clickhouseDatabase,
	}
}
