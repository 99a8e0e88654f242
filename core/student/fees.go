package student

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
)

var (
	errNoGradeAmount = errors.New("fee category has no amount for this grade")
	errDiscountLimit = errors.New("discount cannot exceed the fee amount")
	errOverpayment   = errors.New("payment exceeds the pending amount")
	errUnknownGrade  = errors.New("unknown grade")
)

func (svc *Service) CreateFeeCategory(ctx context.Context, nc NewFeeCategory) (FeeCategory, error) {
	var flds []core.FieldError
	for i, a := range nc.Amounts {
		if _, err := svc.repo.GetGrade(ctx, a.GradeID); err != nil {
			if !core.IsNotFound(err) {
				return FeeCategory{}, err
			}
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("amounts[%d].grade_id", i), Error: errUnknownGrade.Error()})
		}
		if !a.Amount.IsPositive() || !core.IsMoney(a.Amount) {
			flds = append(flds, core.FieldError{Field: fmt.Sprintf("amounts[%d].amount", i), Error: "must be a positive amount with at most 2 decimal places"})
		}
	}
	if len(flds) > 0 {
		return FeeCategory{}, core.NewValidationError(errors.New("invalid fee category"), flds...)
	}

	count := nc.InstallmentCount
	if count < 1 {
		count = 1
	}
	return svc.repo.CreateFeeCategory(ctx, FeeCategory{
		Name:             core.CleanString(nc.Name),
		Description:      core.CleanString(nc.Description),
		DueDate:          nc.DueDate.UTC(),
		InstallmentCount: count,
		Amounts:          nc.Amounts,
	})
}

func (svc *Service) GetFeeCategory(ctx context.Context, id string) (FeeCategory, error) {
	return svc.repo.GetFeeCategory(ctx, id)
}

func (svc *Service) GetStudentFee(ctx context.Context, id string) (StudentFee, error) {
	return svc.repo.GetStudentFee(ctx, id)
}

func (svc *Service) QueryStudentFees(ctx context.Context, filter FeeFilter) ([]StudentFee, error) {
	return svc.repo.QueryStudentFees(ctx, filter)
}

// AssignFeeCategoryToGrade creates the fee of the category for every student currently in the grade
// who does not have it yet for the current academic year. Re-running it never duplicates fees:
// students who already have it are reported as skipped.
func (svc *Service) AssignFeeCategoryToGrade(ctx context.Context, categoryID, gradeID string) ([]FeeAssignmentResult, error) {
	current, err := svc.currentYear(ctx)
	if err != nil {
		return nil, err
	}
	cat, err := svc.repo.GetFeeCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	if _, err = svc.repo.GetGrade(ctx, gradeID); err != nil {
		return nil, err
	}
	amount, ok := cat.AmountFor(gradeID)
	if !ok {
		return nil, core.NewValidationError(errNoGradeAmount, core.FieldError{Field: "grade_id", Error: errNoGradeAmount.Error()})
	}

	students, err := svc.repo.QueryStudents(ctx, Filter{GradeID: gradeID})
	if err != nil {
		return nil, errors.Wrap(err, "querying grade students")
	}

	results := make([]FeeAssignmentResult, 0, len(students))
	counts := make(map[AssignmentStatus]int, 3)
	for _, st := range students {
		res, _ := svc.assignFee(ctx, st, cat, current, amount, decimal.Zero)
		counts[res.Status]++
		results = append(results, res)
	}

	svc.logger.Info("fee category assigned to grade", map[string]interface{}{
		"fee_category": cat.Name,
		"grade_id":     gradeID,
		"created":      counts[AssignmentCreated],
		"skipped":      counts[AssignmentSkipped],
		"failed":       counts[AssignmentFailed],
	})
	return results, nil
}

// AssignFeeCategoryToStudent creates one student's fee for the current academic year, or returns the
// existing one.
func (svc *Service) AssignFeeCategoryToStudent(ctx context.Context, nf NewStudentFee) (StudentFee, error) {
	if nf.Discount.IsNegative() || !core.IsMoney(nf.Discount) {
		return StudentFee{}, core.NewValidationError(
			errors.New("invalid discount"),
			core.FieldError{Field: "discount", Error: "must be 0 or greater with at most 2 decimal places"},
		)
	}
	current, err := svc.currentYear(ctx)
	if err != nil {
		return StudentFee{}, err
	}
	st, err := svc.repo.GetStudent(ctx, nf.StudentID)
	if err != nil {
		return StudentFee{}, err
	}
	cat, err := svc.repo.GetFeeCategory(ctx, nf.FeeCategoryID)
	if err != nil {
		return StudentFee{}, err
	}
	amount, ok := cat.AmountFor(st.GradeID)
	if !ok {
		return StudentFee{}, core.NewValidationError(errNoGradeAmount, core.FieldError{Field: "fee_category_id", Error: errNoGradeAmount.Error()})
	}
	if nf.Discount.GreaterThan(amount) {
		return StudentFee{}, core.NewValidationError(errDiscountLimit, core.FieldError{Field: "discount", Error: errDiscountLimit.Error()})
	}

	if _, err = svc.assignFee(ctx, st, cat, current, amount, nf.Discount); err != nil {
		return StudentFee{}, errors.Wrap(err, "assigning fee")
	}
	return svc.repo.FindStudentFee(ctx, st.ID, cat.ID, current.ID)
}

// assignFee reports the outcome for one student. The error is set only for a FAILED result.
func (svc *Service) assignFee(ctx context.Context, st Student, cat FeeCategory, year AcademicYear, amount, discount decimal.Decimal) (FeeAssignmentResult, error) {
	res := FeeAssignmentResult{StudentID: st.ID}

	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := svc.repo.FindStudentFee(ctx, st.ID, cat.ID, year.ID)
		if err == nil {
			res.Status = AssignmentSkipped
			res.StudentFeeID = existing.ID
			res.Reason = "already assigned"
			return nil
		}
		if !core.IsNotFound(err) {
			return err
		}

		dueDate := cat.DueDate
		if dueDate.IsZero() {
			dueDate = year.StartDate
		}
		fee := StudentFee{
			StudentID:       st.ID,
			FeeCategoryID:   cat.ID,
			FeeCategoryName: cat.Name,
			AcademicYearID:  year.ID,
			TotalAmount:     amount,
			Discount:        discount,
			PaidAmount:      decimal.Zero,
			DueDate:         dueDate,
			CreatedAt:       svc.now().UTC(),
		}
		fee.PendingAmount = fee.Payable()
		fee.Status = feeStatus(fee.Payable(), decimal.Zero)
		fee.Installments = splitInstallments(fee.Payable(), cat.InstallmentCount, dueDate)

		created, err := svc.repo.CreateStudentFee(ctx, fee)
		if err != nil {
			return err
		}
		res.Status = AssignmentCreated
		res.StudentFeeID = created.ID
		return nil
	})

	switch {
	case err == nil:
		return res, nil
	case core.IsDuplicate(err):
		// a concurrent run created it first
		return FeeAssignmentResult{StudentID: st.ID, Status: AssignmentSkipped, Reason: "already assigned"}, nil
	default:
		svc.logger.Warn("fee assignment failed", err, map[string]interface{}{"student_id": st.ID, "fee_category_id": cat.ID})
		return FeeAssignmentResult{StudentID: st.ID, Status: AssignmentFailed, Reason: err.Error()}, err
	}
}

// RecordFeePayment applies a payment to the fee's installments in order and posts the matching
// RECEIPT voucher (deposit ledger DEBIT, income ledger CREDIT), all in one transaction.
func (svc *Service) RecordFeePayment(ctx context.Context, p FeePayment) (PaymentReceipt, error) {
	if err := p.validate(); err != nil {
		return PaymentReceipt{}, err
	}

	var receipt PaymentReceipt
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		fee, err := svc.repo.LockStudentFee(ctx, p.StudentFeeID)
		if err != nil {
			return err
		}
		if p.Amount.GreaterThan(fee.PendingAmount) {
			return core.NewValidationError(errOverpayment, core.FieldError{
				Field: "amount",
				Error: fmt.Sprintf("%s (pending: %s)", errOverpayment, fee.PendingAmount.StringFixed(2)),
			})
		}
		st, err := svc.repo.GetStudent(ctx, fee.StudentID)
		if err != nil {
			return err
		}

		fee.applyPayment(p.Amount)
		if err = svc.repo.UpdateStudentFeePayment(ctx, fee); err != nil {
			return errors.Wrap(err, "updating student fee")
		}

		narration := p.Narration
		if narration == "" {
			narration = fmt.Sprintf("%s fee payment - %s", fee.FeeCategoryName, st.Name)
			if st.RollNumber != "" {
				narration += " (" + st.RollNumber + ")"
			}
		}
		voucher, err := svc.vouchers.PostVoucher(ctx, ledger.NewVoucher{
			Type:      ledger.Receipt,
			Date:      p.Date,
			Narration: narration,
			Entries: []ledger.NewEntry{
				{LedgerID: p.DepositLedgerID, Side: ledger.Debit, Amount: p.Amount},
				{LedgerID: p.IncomeLedgerID, Side: ledger.Credit, Amount: p.Amount},
			},
		})
		if err != nil {
			return err
		}

		receipt = PaymentReceipt{Fee: fee, Voucher: voucher, AmountInWords: ledger.AmountInWords(p.Amount)}
		return nil
	})
	if err != nil {
		return PaymentReceipt{}, err
	}
	return receipt, nil
}
