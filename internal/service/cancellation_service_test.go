package service

import (
	"context"
	"errors"
	"testing"

	"fridge-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStornoOrderRestoresStock(t *testing.T) {
	f := newFixture()
	lot := addLot(t, f.ledger, 1, 5, "1.00")
	order := f.buy(t, 42, lot.ID)
	assert.Equal(t, 4, f.amountLeft(t, lot.ID))

	cancelled, err := f.storno.StornoOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, cancelled.ID)
	assert.Equal(t, 5, f.amountLeft(t, lot.ID))

	_, err = f.orders.GetOrder(context.Background(), order.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.Eventually(t, func() bool {
		return len(f.audit.ofType(models.EventTypeOrderCancelled)) == 1
	}, eventuallyWait, eventuallyTick)
}

func TestStornoOrderRefusesInvoicedOrder(t *testing.T) {
	f := newFixture()
	lot := addLot(t, f.ledger, 1, 5, "1.00")
	order := f.buy(t, 42, lot.ID)

	_, err := f.invoices.GenerateInvoices(context.Background(), 1)
	require.NoError(t, err)

	_, err = f.storno.StornoOrder(context.Background(), order.ID)
	assert.ErrorIs(t, err, models.ErrOrderAlreadyInvoiced)
	assert.Equal(t, 4, f.amountLeft(t, lot.ID))

	stored, err := f.orders.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsInvoiced())
}

func TestStornoOrderUnknownOrder(t *testing.T) {
	f := newFixture()

	_, err := f.storno.StornoOrder(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStornoOrderRollsBackWhenDeleteFails(t *testing.T) {
	f := newFixture()
	lot := addLot(t, f.ledger, 1, 5, "1.00")
	order := f.buy(t, 42, lot.ID)

	boom := errors.New("delete failed")
	f.repo.failAfter("DeleteOrder", 0, boom)

	_, err := f.storno.StornoOrder(context.Background(), order.ID)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 4, f.amountLeft(t, lot.ID))

	_, err = f.orders.GetOrder(context.Background(), order.ID)
	assert.NoError(t, err)
}
