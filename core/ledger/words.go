package ledger

import (
	"fmt"
	"strings"

	"github.com/divan/num2words"
	"github.com/shopspring/decimal"
)

// AmountInWords spells out an amount for printed receipts: 5000.50 -> "Five thousand and 50/100".
func AmountInWords(amount decimal.Decimal) string {
	amount = amount.Round(2)
	negative := amount.IsNegative()
	amount = amount.Abs()

	whole := amount.Truncate(0)
	cents := amount.Sub(whole).Shift(2).IntPart()

	words := num2words.Convert(int(whole.IntPart()))
	if cents > 0 {
		words = fmt.Sprintf("%s and %02d/100", words, cents)
	}
	if negative {
		words = "minus " + words
	}
	return strings.ToUpper(words[:1]) + words[1:]
}
