package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"fridge-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInsufficient = errors.New("insufficient")

func newTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - set TEST_DATABASE_URL to run")
	}

	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, Migrate(ctx, s.GetDB().DB, "up"))
	_, err = s.GetDB().ExecContext(ctx,
		"TRUNCATE orders, invoices, stock_lots, processed_commands RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return s
}

func seedLot(t *testing.T, s *Store, supplierID int64, amount int, price string) *models.StockLot {
	t.Helper()
	lot := &models.StockLot{
		SupplierID:     supplierID,
		ProductID:      7,
		AmountSupplied: amount,
		AmountLeft:     amount,
		Price:          decimal.RequireFromString(price),
	}
	require.NoError(t, s.InsertStockLot(context.Background(), lot))
	return lot
}

func TestStockLotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	lot := seedLot(t, s, 1, 5, "1.50")
	assert.NotZero(t, lot.ID)

	got, err := s.GetStockLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AmountLeft)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("1.5")))

	_, err = s.GetStockLot(ctx, lot.ID+100)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lot := seedLot(t, s, 1, 5, "2.00")

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.SetStockLotAmountLeft(ctx, lot.ID, 1))
		require.NoError(t, tx.InsertOrder(ctx, &models.Order{BuyerID: 2, DeliveryID: lot.ID, Channel: models.ChannelWeb}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetStockLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.AmountLeft)

	orders, err := s.ListOrdersByBuyer(ctx, 2, false)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestAmountLeftCheckConstraint(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lot := seedLot(t, s, 1, 3, "2.00")

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.SetStockLotAmountLeft(ctx, lot.ID, 4)
	})
	assert.Error(t, err)

	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.SetStockLotAmountLeft(ctx, lot.ID, -1)
	})
	assert.Error(t, err)
}

func TestConcurrentLockedDecrementNeverOversells(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lot := seedLot(t, s, 1, 10, "1.00")

	var wg sync.WaitGroup
	var successes, failures int32
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func(buyer int64) {
			defer wg.Done()
			err := s.WithTx(ctx, func(tx Tx) error {
				lots, err := tx.LockStockLots(ctx, []int64{lot.ID})
				if err != nil {
					return err
				}
				if lots[0].AmountLeft < 1 {
					return errInsufficient
				}
				if err := tx.SetStockLotAmountLeft(ctx, lot.ID, lots[0].AmountLeft-1); err != nil {
					return err
				}
				return tx.InsertOrder(ctx, &models.Order{BuyerID: buyer, DeliveryID: lot.ID, Channel: models.ChannelKiosk})
			})
			if err != nil {
				atomic.AddInt32(&failures, 1)
				return
			}
			atomic.AddInt32(&successes, 1)
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, int32(10), successes)
	assert.Equal(t, int32(5), failures)

	got, err := s.GetStockLot(ctx, lot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.AmountLeft)
}

func TestInvoiceAssignmentIsOneShot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lotA := seedLot(t, s, 1, 5, "20.00")
	lotB := seedLot(t, s, 1, 5, "30.00")

	var orderIDs []int64
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		for _, lotID := range []int64{lotA.ID, lotB.ID} {
			o := &models.Order{BuyerID: 9, DeliveryID: lotID, Channel: models.ChannelWeb}
			if err := tx.InsertOrder(ctx, o); err != nil {
				return err
			}
			orderIDs = append(orderIDs, o.ID)
		}
		return nil
	}))

	balances, err := s.GetUninvoicedBalances(ctx, 1)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, 2, balances[0].OrderCount)
	assert.True(t, balances[0].TotalCost.Equal(decimal.NewFromInt(50)))

	var invoice models.Invoice
	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.LockSupplierInvoicing(ctx, 1))
		billable, err := tx.LockUninvoicedOrders(ctx, 1)
		require.NoError(t, err)
		require.Len(t, billable, 2)

		invoice = models.Invoice{BuyerID: 9, SupplierID: 1, TotalCost: decimal.NewFromInt(50)}
		require.NoError(t, tx.InsertInvoice(ctx, &invoice))
		n, err := tx.AssignOrdersToInvoice(ctx, invoice.ID, orderIDs)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		return nil
	}))

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		n, err := tx.AssignOrdersToInvoice(ctx, invoice.ID+1, orderIDs)
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		err = tx.DeleteOrder(ctx, orderIDs[0])
		assert.ErrorIs(t, err, models.ErrOrderAlreadyInvoiced)
		return nil
	}))

	billed, err := s.ListOrdersByInvoice(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Len(t, billed, 2)
}

func TestProcessedCommands(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	processed, err := s.IsCommandProcessed(ctx, "cmd-1")
	require.NoError(t, err)
	assert.False(t, processed)

	require.NoError(t, s.MarkCommandProcessed(ctx, "cmd-1", models.CommandTypeSendReminder))
	require.NoError(t, s.MarkCommandProcessed(ctx, "cmd-1", models.CommandTypeSendReminder))

	processed, err = s.IsCommandProcessed(ctx, "cmd-1")
	require.NoError(t, err)
	assert.True(t, processed)
}
