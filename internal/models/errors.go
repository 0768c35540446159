package models

import (
	"errors"
	"fmt"
)

// Expected business outcomes. Anything else returned by a service is an infrastructure fault.
var (
	ErrForbidden            = errors.New("forbidden")
	ErrAlreadyPaid          = errors.New("invoice already paid")
	ErrOrderAlreadyInvoiced = errors.New("order already invoiced")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
)

// OutOfStockError names the first lot that could not cover the requested quantity
type OutOfStockError struct {
	LotID     int64
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("out of stock: lot=%d requested=%d available=%d", e.LotID, e.Requested, e.Available)
}

// AsOutOfStock unwraps err into an OutOfStockError if it carries one
func AsOutOfStock(err error) (*OutOfStockError, bool) {
	var oos *OutOfStockError
	if errors.As(err, &oos) {
		return oos, true
	}
	return nil, false
}
