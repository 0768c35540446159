package api

import (
	"errors"
	"net/http"

	"fridge-service/internal/models"
	"fridge-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorCode string

const (
	codeOutOfStock      errorCode = "out_of_stock"
	codeForbidden       errorCode = "forbidden"
	codeAlreadyPaid     errorCode = "already_paid"
	codeAlreadyInvoiced errorCode = "order_already_invoiced"
	codeNotFound        errorCode = "not_found"
	codeInvalidInput    errorCode = "invalid_input"
	codeInternal        errorCode = "internal_error"
)

type errorMeta struct {
	status         int
	message        string
	detailsAllowed bool
}

var metaByCode = map[errorCode]errorMeta{
	codeOutOfStock:      {http.StatusConflict, "not enough stock left", true},
	codeForbidden:       {http.StatusForbidden, "actor does not own this invoice", false},
	codeAlreadyPaid:     {http.StatusConflict, "invoice already paid", false},
	codeAlreadyInvoiced: {http.StatusConflict, "order is already on an invoice", false},
	codeNotFound:        {http.StatusNotFound, "resource not found", false},
	codeInvalidInput:    {http.StatusBadRequest, "invalid request", true},
	codeInternal:        {http.StatusInternalServerError, "internal error", false},
}

func classify(err error) errorCode {
	if _, ok := models.AsOutOfStock(err); ok {
		return codeOutOfStock
	}
	switch {
	case errors.Is(err, models.ErrForbidden):
		return codeForbidden
	case errors.Is(err, models.ErrAlreadyPaid):
		return codeAlreadyPaid
	case errors.Is(err, models.ErrOrderAlreadyInvoiced):
		return codeAlreadyInvoiced
	case errors.Is(err, models.ErrNotFound):
		return codeNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return codeInvalidInput
	default:
		return codeInternal
	}
}

// writeError renders err through the code table. Internal errors are logged
// and their text never leaves the process.
func writeError(c *gin.Context, err error) {
	code := classify(err)
	meta := metaByCode[code]

	body := gin.H{
		"error":   code,
		"message": meta.message,
	}
	if meta.detailsAllowed {
		body["details"] = err.Error()
	}
	if oos, ok := models.AsOutOfStock(err); ok {
		body["lot_id"] = oos.LotID
		body["available"] = oos.Available
	}

	if code == codeInternal {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	c.AbortWithStatusJSON(meta.status, body)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   codeInvalidInput,
		"message": metaByCode[codeInvalidInput].message,
		"details": err.Error(),
	})
}
