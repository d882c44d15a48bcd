package api_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuckets/acmemanager/internal/acme"
	"github.com/codebuckets/acmemanager/internal/api"
	"github.com/codebuckets/acmemanager/internal/model"
	"github.com/codebuckets/acmemanager/internal/worker"
)

// Both orchestration calls queue on the worker pool; with the single slot
// held, a cancelled caller is turned away before any provider traffic.
func TestEngineOrderCallsWaitForWorkerSlot(t *testing.T) {
	pool := worker.NewPool(1)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	eng := api.NewEngine(nil, nil, nil, pool, t.TempDir())
	owner := &model.Account{ID: 1}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.PlaceOrder(ctx, owner, acme.PlaceOrderRequest{Domains: []string{"example.com"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = eng.ExecuteOrder(ctx, owner, &model.Certificate{OrderID: "X"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
