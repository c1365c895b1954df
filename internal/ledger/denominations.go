package ledger

import (
	"slices"

	"github.com/rasidhq/recharge/internal/models"
)

var denominations = map[models.CardType][]int64{
	models.CardTypeAsia:  {2000, 5000, 6000, 10000, 15000, 18000, 25000, 35000, 40000, 50000, 100000},
	models.CardTypeAthir: {2000, 5000, 6000, 10000, 15000, 18000, 25000, 30000, 35000, 40000, 50000, 70000, 100000},
}

// Denominations returns the menu amounts offered for a card type.
func Denominations(t models.CardType) []int64 {
	return slices.Clone(denominations[t])
}

// IsStandardAmount reports whether amount is on the menu of any card type.
func IsStandardAmount(amount int64) bool {
	for _, amounts := range denominations {
		if slices.Contains(amounts, amount) {
			return true
		}
	}
	return false
}
