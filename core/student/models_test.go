package student

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLowestUnused(t *testing.T) {
	full := make([]int, 0, MaxRollSequence)
	for i := 1; i <= MaxRollSequence; i++ {
		full = append(full, i)
	}

	tests := []struct {
		name   string
		used   []int
		want   int
		wantOK bool
	}{
		{name: "empty class", used: nil, want: 1, wantOK: true},
		{name: "contiguous", used: []int{1, 2, 3}, want: 4, wantOK: true},
		{name: "gap", used: []int{1, 2, 4, 5}, want: 3, wantOK: true},
		{name: "unordered", used: []int{3, 1}, want: 2, wantOK: true},
		{name: "first freed", used: []int{2, 3}, want: 1, wantOK: true},
		{name: "full", used: full, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := lowestUnused(tt.used)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatRollNumber(t *testing.T) {
	assert.Equal(t, "7A004", FormatRollNumber("7 A", 4))
	assert.Equal(t, "GRADE10B012", FormatRollNumber("Grade 10-b", 12))
	assert.Equal(t, "X999", FormatRollNumber("x", 999))
}

func TestSplitInstallments(t *testing.T) {
	first := time.Date(2026, time.January, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payable string
		count   int
		want    []string
	}{
		{name: "single", payable: "5000", count: 1, want: []string{"5000"}},
		{name: "zero count", payable: "5000", count: 0, want: []string{"5000"}},
		{name: "even", payable: "5000", count: 2, want: []string{"2500", "2500"}},
		{name: "remainder on last", payable: "1000", count: 3, want: []string{"333.33", "333.33", "333.34"}},
		{name: "cents", payable: "0.10", count: 3, want: []string{"0.03", "0.03", "0.04"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			insts := splitInstallments(money(tt.payable), tt.count, first)
			require.Len(t, insts, len(tt.want))

			sum := decimal.Zero
			for i, inst := range insts {
				assert.Equal(t, i+1, inst.Order)
				assert.True(t, money(tt.want[i]).Equal(inst.Amount), "installment %d: %s", i+1, inst.Amount)
				assert.Equal(t, FeePending, inst.Status)
				assert.True(t, inst.PaidAmount.IsZero())
				sum = sum.Add(inst.Amount)
			}
			assert.True(t, sum.Equal(money(tt.payable)))
		})
	}

	t.Run("monthly due dates", func(t *testing.T) {
		insts := splitInstallments(money("300"), 3, time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, time.March, insts[0].DueDate.Month())
		assert.Equal(t, time.April, insts[1].DueDate.Month())
		assert.Equal(t, time.May, insts[2].DueDate.Month())
	})
}

func TestStudentFee_ApplyPayment(t *testing.T) {
	newFee := func() StudentFee {
		fee := StudentFee{
			TotalAmount: money("5000"),
			Discount:    money("1000"),
			PaidAmount:  decimal.Zero,
		}
		fee.PendingAmount = fee.Payable()
		fee.Status = FeePending
		fee.Installments = splitInstallments(fee.Payable(), 2, time.Now())
		return fee
	}

	t.Run("partial", func(t *testing.T) {
		fee := newFee()
		fee.applyPayment(money("2500"))

		assert.Equal(t, FeePartial, fee.Status)
		assert.True(t, money("1500").Equal(fee.PendingAmount))
		assert.Equal(t, FeePaid, fee.Installments[0].Status)
		assert.Equal(t, FeePartial, fee.Installments[1].Status)
		assert.True(t, money("500").Equal(fee.Installments[1].PaidAmount))
	})

	t.Run("in several payments", func(t *testing.T) {
		fee := newFee()
		fee.applyPayment(money("1999.99"))
		assert.Equal(t, FeePartial, fee.Installments[0].Status)
		fee.applyPayment(money("2000.01"))

		assert.Equal(t, FeePaid, fee.Status)
		assert.True(t, fee.PendingAmount.IsZero())
		for _, inst := range fee.Installments {
			assert.Equal(t, FeePaid, inst.Status)
		}
	})
}

func TestFeeStatus(t *testing.T) {
	assert.Equal(t, FeePending, feeStatus(money("10"), decimal.Zero))
	assert.Equal(t, FeePartial, feeStatus(money("10"), money("0.01")))
	assert.Equal(t, FeePaid, feeStatus(money("10"), money("10")))
	assert.Equal(t, FeePaid, feeStatus(decimal.Zero, decimal.Zero))
}

func TestPromotion_Validate(t *testing.T) {
	assert.NoError(t, Promotion{StudentIDs: []string{"s"}, TargetGradeID: "g", TargetClassID: "c", TargetYearID: "y"}.validate())
	assert.Error(t, Promotion{TargetGradeID: "g", TargetClassID: "c", TargetYearID: "y"}.validate())
	assert.Error(t, Promotion{StudentIDs: []string{"s"}}.validate())
}
