package student

import (
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
)

type (
	EnrollmentStatus string
	FeeStatus        string
	PromotionStatus  string
	AssignmentStatus string
)

const (
	EnrollmentActive   EnrollmentStatus = "ACTIVE"
	EnrollmentPromoted EnrollmentStatus = "PROMOTED"

	FeePending FeeStatus = "PENDING"
	FeePartial FeeStatus = "PARTIAL"
	FeePaid    FeeStatus = "PAID"

	Promoted   PromotionStatus = "PROMOTED"
	Ineligible PromotionStatus = "INELIGIBLE"
	Failed     PromotionStatus = "FAILED"

	AssignmentCreated AssignmentStatus = "CREATED"
	AssignmentSkipped AssignmentStatus = "SKIPPED"
	AssignmentFailed  AssignmentStatus = "FAILED"

	// MaxRollSequence is the largest roll sequence of a class: roll numbers are 3 digits.
	MaxRollSequence = 999
)

type (
	AcademicYear struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		StartDate time.Time `json:"start_date"`
		EndDate   time.Time `json:"end_date"`
		IsCurrent bool      `json:"is_current"`
	}

	Grade struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Level int    `json:"level"`
	}

	Class struct {
		ID      string `json:"id"`
		GradeID string `json:"grade_id"`
		Name    string `json:"name"`
	}

	Student struct {
		ID            string    `json:"id"`
		Name          string    `json:"name"`
		GuardianName  string    `json:"guardian_name"`
		GuardianEmail string    `json:"guardian_email"`
		GradeID       string    `json:"grade_id"`
		ClassID       string    `json:"class_id"`
		RollClassID   string    `json:"roll_class_id,omitempty"` // class the roll number was issued in
		RollSequence  int       `json:"roll_sequence,omitempty"`
		RollNumber    string    `json:"roll_number,omitempty"`
		CreatedAt     time.Time `json:"created_at"`
	}

	Enrollment struct {
		ID             string           `json:"id"`
		StudentID      string           `json:"student_id"`
		AcademicYearID string           `json:"academic_year_id"`
		GradeID        string           `json:"grade_id"`
		ClassID        string           `json:"class_id"`
		Status         EnrollmentStatus `json:"status"`
		PromotedAt     *time.Time       `json:"promoted_at,omitempty"`
	}

	GradeAmount struct {
		GradeID string          `json:"grade_id" validate:"required"`
		Amount  decimal.Decimal `json:"amount" validate:"gt=0,money"`
	}

	FeeCategory struct {
		ID               string        `json:"id"`
		Name             string        `json:"name"`
		Description      string        `json:"description"`
		DueDate          time.Time     `json:"due_date"`
		InstallmentCount int           `json:"installment_count"`
		Amounts          []GradeAmount `json:"amounts"`
	}

	StudentFee struct {
		ID              string          `json:"id"`
		StudentID       string          `json:"student_id"`
		FeeCategoryID   string          `json:"fee_category_id"`
		FeeCategoryName string          `json:"fee_category_name"`
		AcademicYearID  string          `json:"academic_year_id"`
		TotalAmount     decimal.Decimal `json:"total_amount"`
		Discount        decimal.Decimal `json:"discount"`
		PaidAmount      decimal.Decimal `json:"paid_amount"`
		PendingAmount   decimal.Decimal `json:"pending_amount"`
		Status          FeeStatus       `json:"status"`
		DueDate         time.Time       `json:"due_date"`
		CreatedAt       time.Time       `json:"created_at"`
		Installments    []Installment   `json:"installments"`
	}

	Installment struct {
		ID           string          `json:"id"`
		StudentFeeID string          `json:"student_fee_id"`
		Order        int             `json:"installment_order"`
		Amount       decimal.Decimal `json:"amount"`
		PaidAmount   decimal.Decimal `json:"paid_amount"`
		DueDate      time.Time       `json:"due_date"`
		Status       FeeStatus       `json:"status"`
	}
)

// AmountFor returns the base amount of the category for a grade.
func (c FeeCategory) AmountFor(gradeID string) (decimal.Decimal, bool) {
	for _, a := range c.Amounts {
		if a.GradeID == gradeID {
			return a.Amount, true
		}
	}
	return decimal.Zero, false
}

func (s Student) GuardianAddress() (mail.Address, bool) {
	if s.GuardianEmail == "" {
		return mail.Address{}, false
	}
	return mail.Address{Name: s.GuardianName, Address: s.GuardianEmail}, true
}

// FormatRollNumber builds the human readable roll number: class "7 A", sequence 4 -> "7A004".
func FormatRollNumber(className string, seq int) string {
	return fmt.Sprintf("%s%03d", core.CodeString(className), seq)
}

// Payable is what the student owes for the fee overall: total less discount.
func (f StudentFee) Payable() decimal.Decimal {
	return f.TotalAmount.Sub(f.Discount)
}

func feeStatus(payable, paid decimal.Decimal) FeeStatus {
	switch {
	case paid.GreaterThanOrEqual(payable):
		return FeePaid
	case paid.IsPositive():
		return FeePartial
	default:
		return FeePending
	}
}

// applyPayment settles installments in order and refreshes the fee totals.
func (f *StudentFee) applyPayment(amount decimal.Decimal) {
	remaining := amount
	for i := range f.Installments {
		if !remaining.IsPositive() {
			break
		}
		inst := &f.Installments[i]
		due := inst.Amount.Sub(inst.PaidAmount)
		if !due.IsPositive() {
			continue
		}
		pay := decimal.Min(due, remaining)
		inst.PaidAmount = inst.PaidAmount.Add(pay)
		inst.Status = feeStatus(inst.Amount, inst.PaidAmount)
		remaining = remaining.Sub(pay)
	}

	f.PaidAmount = f.PaidAmount.Add(amount)
	f.PendingAmount = f.Payable().Sub(f.PaidAmount)
	f.Status = feeStatus(f.Payable(), f.PaidAmount)
}

// splitInstallments divides payable into count installments rounded to the cent, due monthly from firstDue.
// The rounding remainder goes to the last installment.
func splitInstallments(payable decimal.Decimal, count int, firstDue time.Time) []Installment {
	if count < 1 {
		count = 1
	}
	share := payable.Div(decimal.NewFromInt(int64(count))).Truncate(2)
	insts := make([]Installment, 0, count)
	allocated := decimal.Zero
	for i := 0; i < count; i++ {
		amount := share
		if i == count-1 {
			amount = payable.Sub(allocated)
		}
		allocated = allocated.Add(amount)
		insts = append(insts, Installment{
			Order:      i + 1,
			Amount:     amount,
			PaidAmount: decimal.Zero,
			DueDate:    firstDue.AddDate(0, i, 0),
			Status:     feeStatus(amount, decimal.Zero),
		})
	}
	return insts
}

type (
	// Eligibility is the outcome of the fee-clearance check gating a promotion.
	Eligibility struct {
		StudentID            string          `json:"student_id"`
		CurrentYearID        string          `json:"current_year_id"`
		TargetYearID         string          `json:"target_year_id"`
		Eligible             bool            `json:"eligible"`
		Overridden           bool            `json:"overridden"`
		PendingAmount        decimal.Decimal `json:"pending_amount"`
		BlockingInstallments []Installment   `json:"blocking_installments"`
	}

	PromotionResult struct {
		StudentID            string          `json:"student_id"`
		Status               PromotionStatus `json:"status"`
		Reason               string          `json:"reason,omitempty"`
		Overridden           bool            `json:"overridden,omitempty"`
		PendingAmount        decimal.Decimal `json:"pending_amount"`
		BlockingInstallments []Installment   `json:"blocking_installments,omitempty"`
	}

	FeeAssignmentResult struct {
		StudentID    string           `json:"student_id"`
		Status       AssignmentStatus `json:"status"`
		StudentFeeID string           `json:"student_fee_id,omitempty"`
		Reason       string           `json:"reason,omitempty"`
	}

	RollNumber struct {
		StudentID string `json:"student_id"`
		ClassID   string `json:"class_id"`
		Sequence  int    `json:"sequence"`
		Number    string `json:"roll_number"`
	}

	PaymentReceipt struct {
		Fee           StudentFee     `json:"fee"`
		Voucher       ledger.Voucher `json:"voucher"`
		AmountInWords string         `json:"amount_in_words"`
	}
)

type (
	NewAcademicYear struct {
		Name      string    `json:"name" validate:"required,max=50"`
		StartDate time.Time `json:"start_date" validate:"required"`
		EndDate   time.Time `json:"end_date" validate:"required"`
		IsCurrent bool      `json:"is_current"`
	}

	NewGrade struct {
		Name  string `json:"name" validate:"required,max=50,alphanum_"`
		Level int    `json:"level" validate:"gte=0"`
	}

	NewClass struct {
		GradeID string `json:"grade_id" validate:"required"`
		Name    string `json:"name" validate:"required,max=50,alphanum_"`
	}

	NewStudent struct {
		Name          string `json:"name" validate:"required,max=100"`
		GuardianName  string `json:"guardian_name" validate:"max=100"`
		GuardianEmail string `json:"guardian_email" validate:"omitempty,email"`
		ClassID       string `json:"class_id" validate:"required"`
	}

	NewFeeCategory struct {
		Name             string        `json:"name" validate:"required,max=100"`
		Description      string        `json:"description" validate:"max=500"`
		DueDate          time.Time     `json:"due_date"`
		InstallmentCount int           `json:"installment_count" validate:"gte=0,lte=12"`
		Amounts          []GradeAmount `json:"amounts" validate:"required,min=1,dive"`
	}

	NewStudentFee struct {
		StudentID     string          `json:"student_id" validate:"required"`
		FeeCategoryID string          `json:"fee_category_id" validate:"required"`
		Discount      decimal.Decimal `json:"discount" validate:"gte=0,money"`
	}

	Promotion struct {
		StudentIDs    []string `json:"student_ids" validate:"required,min=1,dive,required"`
		TargetGradeID string   `json:"target_grade_id" validate:"required"`
		TargetClassID string   `json:"target_class_id" validate:"required"`
		TargetYearID  string   `json:"target_year_id" validate:"required"`
		Override      bool     `json:"override"`
	}

	FeePayment struct {
		StudentFeeID    string          `json:"-"`
		Amount          decimal.Decimal `json:"amount" validate:"gt=0,money"`
		Date            time.Time       `json:"date"`
		DepositLedgerID string          `json:"deposit_ledger_id" validate:"required"` // cash or bank
		IncomeLedgerID  string          `json:"income_ledger_id" validate:"required"`
		Narration       string          `json:"narration" validate:"max=500"`
	}

	Filter struct {
		IDs     []string
		GradeID string
		ClassID string
	}

	FeeFilter struct {
		StudentID      string
		AcademicYearID string
		PendingOnly    bool
	}
)

func (p Promotion) validate() error {
	var flds []core.FieldError
	if len(p.StudentIDs) == 0 {
		flds = append(flds, core.FieldError{Field: "student_ids", Error: "at least one student is required"})
	}
	if p.TargetGradeID == "" {
		flds = append(flds, core.FieldError{Field: "target_grade_id", Error: "this field is required"})
	}
	if p.TargetClassID == "" {
		flds = append(flds, core.FieldError{Field: "target_class_id", Error: "this field is required"})
	}
	if p.TargetYearID == "" {
		flds = append(flds, core.FieldError{Field: "target_year_id", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New("invalid promotion request"), flds...)
	}
	return nil
}

func (p FeePayment) validate() error {
	var flds []core.FieldError
	if !p.Amount.IsPositive() {
		flds = append(flds, core.FieldError{Field: "amount", Error: "must be greater than 0"})
	} else if !core.IsMoney(p.Amount) {
		flds = append(flds, core.FieldError{Field: "amount", Error: "must have at most 2 decimal places"})
	}
	if p.DepositLedgerID == "" {
		flds = append(flds, core.FieldError{Field: "deposit_ledger_id", Error: "this field is required"})
	}
	if p.IncomeLedgerID == "" {
		flds = append(flds, core.FieldError{Field: "income_ledger_id", Error: "this field is required"})
	}
	if len(flds) > 0 {
		return core.NewValidationError(errors.New("invalid payment"), flds...)
	}
	return nil
}
