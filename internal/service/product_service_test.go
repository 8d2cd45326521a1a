package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-terminal/internal/localstore"
	"pos-terminal/internal/models"
	"pos-terminal/internal/upstream"
)

type fakeProductGateway struct {
	errsByName map[string]error
	created    []string
}

func (f *fakeProductGateway) CreateProduct(_ context.Context, p *models.NewProduct) error {
	if err, ok := f.errsByName[p.Name]; ok && err != nil {
		return err
	}
	f.created = append(f.created, p.Name)
	return nil
}

type fakeProductPublisher struct {
	events []*models.ProductSyncedEvent
}

func (f *fakeProductPublisher) PublishProductSynced(_ context.Context, event *models.ProductSyncedEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newProduct(name string) *models.NewProduct {
	return &models.NewProduct{
		Name:       name,
		CategoryID: 1,
		Price:      decimal.NewFromInt(15000),
	}
}

func newProductFixture(t *testing.T, gateway *fakeProductGateway) (*ProductService, *localstore.Store) {
	t.Helper()
	store, err := localstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewProductService(store, gateway, &fakeProductPublisher{}), store
}

func unreachable() error {
	return fmt.Errorf("%w: connection refused", upstream.ErrUnreachable)
}

func TestCreateProductOnline(t *testing.T) {
	gateway := &fakeProductGateway{}
	svc, store := newProductFixture(t, gateway)

	result, err := svc.CreateProduct(context.Background(), newProduct("Americano"))
	require.NoError(t, err)
	assert.False(t, result.Queued)
	assert.Equal(t, []string{"Americano"}, gateway.created)

	depth, err := store.QueueDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestCreateProductQueuesWhenUnreachable(t *testing.T) {
	gateway := &fakeProductGateway{errsByName: map[string]error{
		"Americano": unreachable(),
	}}
	svc, store := newProductFixture(t, gateway)

	result, err := svc.CreateProduct(context.Background(), newProduct("Americano"))
	require.NoError(t, err)
	assert.True(t, result.Queued)
	require.NotNil(t, result.Record)

	depth, err := store.QueueDepth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	// The same product a second time is rejected, not queued twice.
	_, err = svc.CreateProduct(context.Background(), newProduct("Americano"))
	assert.ErrorIs(t, err, localstore.ErrAlreadyQueued)
	depth, err = store.QueueDepth()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestCreateProductServerRejectionNotQueued(t *testing.T) {
	gateway := &fakeProductGateway{errsByName: map[string]error{
		"Americano": &upstream.DuplicateProductError{Name: "Americano"},
	}}
	svc, store := newProductFixture(t, gateway)

	_, err := svc.CreateProduct(context.Background(), newProduct("Americano"))
	var dupErr *upstream.DuplicateProductError
	assert.ErrorAs(t, err, &dupErr)

	depth, err := store.QueueDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestReplayQueueInOrder(t *testing.T) {
	gateway := &fakeProductGateway{errsByName: map[string]error{
		"Americano": unreachable(),
		"Latte":     unreachable(),
		"Mocha":     unreachable(),
	}}
	svc, store := newProductFixture(t, gateway)

	for _, name := range []string{"Americano", "Latte", "Mocha"} {
		p := newProduct(name)
		p.Price = decimal.NewFromInt(int64(10000 + len(name)))
		_, err := svc.CreateProduct(context.Background(), p)
		require.NoError(t, err)
	}

	gateway.errsByName = nil
	report, err := svc.ReplayQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Synced)
	assert.Zero(t, report.Kept)
	assert.Equal(t, []string{"Americano", "Latte", "Mocha"}, gateway.created)

	depth, err := store.QueueDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestReplayDropsUpstreamDuplicates(t *testing.T) {
	gateway := &fakeProductGateway{errsByName: map[string]error{
		"Americano": unreachable(),
		"Latte":     unreachable(),
	}}
	publisher := &fakeProductPublisher{}
	store, err := localstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	svc := NewProductService(store, gateway, publisher)

	for _, name := range []string{"Americano", "Latte"} {
		p := newProduct(name)
		p.CategoryID = int64(len(name))
		_, err := svc.CreateProduct(context.Background(), p)
		require.NoError(t, err)
	}

	gateway.errsByName = map[string]error{
		"Americano": &upstream.DuplicateProductError{Name: "Americano"},
		"Latte":     &upstream.DuplicateProductError{Name: "Latte"},
	}
	report, err := svc.ReplayQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Duplicates)
	assert.Zero(t, report.Synced)

	// Duplicates are dropped without an event; the server copy wins.
	assert.Empty(t, publisher.events)
	depth, err := store.QueueDepth()
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestReplayKeepsFailedRecordsAndContinues(t *testing.T) {
	gateway := &fakeProductGateway{errsByName: map[string]error{
		"Americano": unreachable(),
		"Latte":     unreachable(),
		"Mocha":     unreachable(),
	}}
	svc, store := newProductFixture(t, gateway)

	for _, name := range []string{"Americano", "Latte", "Mocha"} {
		p := newProduct(name)
		p.CategoryID = int64(len(name))
		_, err := svc.CreateProduct(context.Background(), p)
		require.NoError(t, err)
	}

	// The middle record keeps failing; the ones after it still replay.
	gateway.errsByName = map[string]error{
		"Latte": errors.New("backoffice returned status 500"),
	}
	report, err := svc.ReplayQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Synced)
	assert.Equal(t, 1, report.Kept)
	assert.Equal(t, []string{"Americano", "Mocha"}, gateway.created)

	records, err := store.QueuedProducts()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Latte", records[0].Product.Name)
}
