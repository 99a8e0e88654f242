package echoapi_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/shule/core/ledger"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/tests"
)

func TestFeeApi_Categories(t *testing.T) {
	e := setup(t)
	f := e.school(t)
	a := e.Student(t, f.c7a.ID, "Lulu", "")
	b := e.Student(t, f.c7a.ID, "Mosi", "")

	var cat student.FeeCategory
	decode(t, e.do(t, http.MethodPost, "/v1/fees/categories", e.accountantToken, map[string]interface{}{
		"name":              "Term 1",
		"due_date":          "2025-10-01",
		"installment_count": 3,
		"amounts":           []map[string]interface{}{{"grade_id": f.g7.ID, "amount": "1000"}},
	}), http.StatusCreated, &cat)
	assert.Equal(t, 3, cat.InstallmentCount)

	var got student.FeeCategory
	decode(t, e.do(t, http.MethodGet, "/v1/fees/categories/"+cat.ID, e.accountantToken, nil), http.StatusOK, &got)
	assert.Equal(t, cat.Name, got.Name)

	path := "/v1/fees/categories/" + cat.ID + "/grades/" + f.g7.ID
	var results []student.FeeAssignmentResult
	decode(t, e.do(t, http.MethodPost, path, e.accountantToken, nil), http.StatusOK, &results)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, student.AssignmentCreated, res.Status)
	}

	decode(t, e.do(t, http.MethodPost, path, e.accountantToken, nil), http.StatusOK, &results)
	for _, res := range results {
		assert.Equal(t, student.AssignmentSkipped, res.Status)
	}

	var fees []student.StudentFee
	decode(t, e.do(t, http.MethodGet, "/v1/fees?student_id="+a.ID, e.accountantToken, nil), http.StatusOK, &fees)
	require.Len(t, fees, 1)
	require.Len(t, fees[0].Installments, 3)
	assert.True(t, testutil.Money("333.34").Equal(fees[0].Installments[2].Amount))

	var fee student.StudentFee
	decode(t, e.do(t, http.MethodGet, "/v1/fees/"+fees[0].ID, e.accountantToken, nil), http.StatusOK, &fee)
	assert.Equal(t, a.ID, fee.StudentID)

	e.run(t, []httpTest{
		{
			name: "no amounts", method: http.MethodPost, path: "/v1/fees/categories", token: e.accountantToken,
			body:     []byte(`{"name": "Empty"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"amounts": "this field is required"}),
		},
		{
			name: "unknown grade", method: http.MethodPost, path: "/v1/fees/categories", token: e.accountantToken,
			body:     marchallObj(t, map[string]interface{}{"name": "Bad", "amounts": []map[string]string{{"grade_id": "missing", "amount": "10"}}}),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"amounts[0].grade_id": "unknown grade"}),
		},
		{
			name: "grade without amount", method: http.MethodPost, path: "/v1/fees/categories/" + cat.ID + "/grades/" + f.g8.ID, token: e.accountantToken,
			wantCode: http.StatusBadRequest,
		},
		{name: "unknown category", method: http.MethodPost, path: "/v1/fees/categories/missing/grades/" + f.g7.ID, token: e.accountantToken, wantCode: http.StatusNotFound},
		{name: "teachers are not staff", path: "/v1/fees", token: e.teacherToken, wantCode: http.StatusForbidden},
	})

	t.Run("single student with discount", func(t *testing.T) {
		other := e.FeeCategory(t, "Transport", f.g7.ID, "500", 1, time.Time{})
		var fee student.StudentFee
		decode(t, e.do(t, http.MethodPost, "/v1/fees/assignments", e.accountantToken, map[string]string{
			"student_id":      b.ID,
			"fee_category_id": other.ID,
			"discount":        "100",
		}), http.StatusCreated, &fee)
		assert.True(t, testutil.Money("400").Equal(fee.PendingAmount))
	})
}

func TestFeeApi_RecordPayment(t *testing.T) {
	e := setup(t)
	f := e.school(t)
	st := e.Student(t, f.c7a.ID, "Pendo", "")
	cat := e.FeeCategory(t, "Tuition", f.g7.ID, "5000", 2, time.Time{})
	results, err := e.School.AssignFeeCategoryToGrade(ctx, cat.ID, f.g7.ID)
	require.NoError(t, err)
	feeID := results[0].StudentFeeID
	cash := e.LedgerByName(t, ledger.LedgerCash)
	income := e.LedgerByName(t, ledger.LedgerStudentFees)

	path := "/v1/fees/" + feeID + "/payments"
	payment := func(amount string) map[string]string {
		return map[string]string{
			"amount":            amount,
			"date":              "2026-03-02",
			"deposit_ledger_id": cash.ID,
			"income_ledger_id":  income.ID,
		}
	}

	var receipt student.PaymentReceipt
	decode(t, e.do(t, http.MethodPost, path, e.accountantToken, payment("3000")), http.StatusCreated, &receipt)
	assert.Equal(t, "RCT-2026-000001", receipt.Voucher.VoucherNumber)
	assert.Equal(t, "Three thousand", receipt.AmountInWords)
	assert.Equal(t, student.FeePartial, receipt.Fee.Status)
	assert.True(t, testutil.Money("2000").Equal(receipt.Fee.PendingAmount))
	assert.Equal(t, st.ID, receipt.Fee.StudentID)

	e.run(t, []httpTest{
		{
			name: "overpayment", method: http.MethodPost, path: path, token: e.accountantToken,
			body: marchallObj(t, payment("2000.01")), wantCode: http.StatusBadRequest,
		},
		{
			name: "zero", method: http.MethodPost, path: path, token: e.accountantToken,
			body: marchallObj(t, payment("0")), wantCode: http.StatusBadRequest,
		},
		{
			name: "missing ledgers", method: http.MethodPost, path: path, token: e.accountantToken,
			body:     []byte(`{"amount": "10"}`),
			wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{
				"deposit_ledger_id": "this field is required",
				"income_ledger_id":  "this field is required",
			}),
		},
		{
			name: "unknown fee", method: http.MethodPost, path: "/v1/fees/missing/payments", token: e.accountantToken,
			body: marchallObj(t, payment("10")), wantCode: http.StatusNotFound,
		},
	})

	bal, err := e.Ledger.GetLedgerBalance(ctx, cash.ID, nil)
	require.NoError(t, err)
	assert.True(t, testutil.Money("3000").Equal(bal), "rejected payments left the ledger untouched")

	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "shule_fees_payments_total 1")
	assert.Contains(t, rec.Body.String(), `shule_http_requests_total{code="400",method="POST",route="/v1/fees/:id/payments"} 3`)
}

func TestFeeApi_Reminders(t *testing.T) {
	e := setup(t)
	f := e.school(t)
	e.Student(t, f.c7a.ID, "Sefu", "sefu.parent@example.com")
	e.Student(t, f.c7a.ID, "Tumaini", "")
	cat := e.FeeCategory(t, "Tuition", f.g7.ID, "5000", 1, time.Time{})
	_, err := e.School.AssignFeeCategoryToGrade(ctx, cat.ID, f.g7.ID)
	require.NoError(t, err)

	e.run(t, []httpTest{
		{
			name: "sent", method: http.MethodPost, path: "/v1/fees/reminders", token: e.accountantToken,
			wantCode: http.StatusOK, wantData: []byte(`{"sent": 1}`),
		},
	})
	require.Len(t, e.Mailer.SentMessages(), 1)
	assert.Equal(t, "sefu.parent@example.com", e.Mailer.SentMessages()[0].To[0].Address)
}
