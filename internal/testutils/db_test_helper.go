package testutils

import (
	"context"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SetupTestDB starts a disposable PostgreSQL container. It returns the
// connection string (DSN, sslmode=disable) and a cleanup function the caller
// must defer to terminate the container.
func SetupTestDB(t *testing.T) (string, func()) {
	t.Helper()

	ctx := context.Background()
	dbName := "testdb"
	dbUser := "testuser"
	dbPassword := "testpass"
	dbPort := "5432/tcp"

	// Postgres logs readiness before the socket accepts connections, so wait
	// for both.
	waitStrategy := wait.ForAll(
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(1).
			WithStartupTimeout(1*time.Minute),
		wait.ForListeningPort(nat.Port(dbPort)).
			WithStartupTimeout(1*time.Minute),
	).WithDeadline(2 * time.Minute)

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(waitStrategy),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %s", err)
	}

	cleanup := func() {
		terminateCtx, terminateCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer terminateCancel()
		if err := postgresContainer.Terminate(terminateCtx); err != nil {
			t.Logf("WARN: Failed to terminate postgres container: %s", err)
		}
	}

	connStrCtx, connStrCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer connStrCancel()
	connStr, err := postgresContainer.ConnectionString(connStrCtx, "sslmode=disable")
	if err != nil {
		cleanup()
		t.Fatalf("Failed to get connection string: %s", err)
	}

	t.Logf("Postgres container started") // Don't log the DSN, it carries the password

	return connStr, cleanup
}
