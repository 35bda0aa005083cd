package escrow

import (
	"github.com/shopspring/decimal"

	"github.com/raghavao7/lossflip/internal/models"
)

// feeRate is the flat platform fee charged symmetrically to both parties.
var feeRate = decimal.NewFromFloat(0.03)

// FeeOnTotal computes the symmetric 3% fee on amount × quantity, rounded to
// the nearest whole unit. Pure: recomputed on every amount or quantity
// change while an order is still initiated, never after payment.
func FeeOnTotal(amount decimal.Decimal, quantity int) models.Fees {
	if quantity < 1 {
		quantity = 1
	}
	total := amount.Mul(decimal.NewFromInt(int64(quantity)))
	fee := total.Mul(feeRate).Round(0)
	return models.Fees{BuyerFee: fee, SellerFee: fee}
}
