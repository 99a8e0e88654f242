package student

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core"
)

// CheckPromotionEligibility reports whether a student may be promoted to the target year.
// A student is eligible only when every fee of the current year is fully paid, unless override is set.
// Otherwise the unpaid installments are returned as the blocking reason.
func (svc *Service) CheckPromotionEligibility(ctx context.Context, studentID, targetYearID string, override bool) (Eligibility, error) {
	current, err := svc.currentYear(ctx)
	if err != nil {
		return Eligibility{}, err
	}
	target, err := svc.targetYear(ctx, current, targetYearID)
	if err != nil {
		return Eligibility{}, err
	}
	st, err := svc.repo.GetStudent(ctx, studentID)
	if err != nil {
		return Eligibility{}, err
	}
	return svc.eligibility(ctx, st, current, target, override)
}

func (svc *Service) eligibility(ctx context.Context, st Student, current, target AcademicYear, override bool) (Eligibility, error) {
	fees, err := svc.repo.QueryStudentFees(ctx, FeeFilter{StudentID: st.ID, AcademicYearID: current.ID})
	if err != nil {
		return Eligibility{}, errors.Wrap(err, "querying student fees")
	}

	elig := Eligibility{
		StudentID:            st.ID,
		CurrentYearID:        current.ID,
		TargetYearID:         target.ID,
		PendingAmount:        decimal.Zero,
		BlockingInstallments: make([]Installment, 0),
	}
	for _, fee := range fees {
		if !fee.PendingAmount.IsPositive() {
			continue
		}
		elig.PendingAmount = elig.PendingAmount.Add(fee.PendingAmount)
		for _, inst := range fee.Installments {
			if inst.Status != FeePaid {
				elig.BlockingInstallments = append(elig.BlockingInstallments, inst)
			}
		}
	}

	elig.Eligible = elig.PendingAmount.IsZero()
	if !elig.Eligible && override {
		elig.Eligible = true
		elig.Overridden = true
	}
	return elig, nil
}

// PromoteStudents moves each student to the target grade, class and academic year.
// Every student is promoted in its own transaction: one student's failure or ineligibility is reported
// in its result and never aborts the batch. Roll numbers are left untouched.
func (svc *Service) PromoteStudents(ctx context.Context, p Promotion) ([]PromotionResult, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	current, err := svc.currentYear(ctx)
	if err != nil {
		return nil, err
	}
	target, err := svc.targetYear(ctx, current, p.TargetYearID)
	if err != nil {
		return nil, err
	}
	if _, err = svc.repo.GetGrade(ctx, p.TargetGradeID); err != nil {
		return nil, err
	}
	class, err := svc.repo.GetClass(ctx, p.TargetClassID)
	if err != nil {
		return nil, err
	}
	if class.GradeID != p.TargetGradeID {
		return nil, core.NewValidationError(errClassNotInGrade, core.FieldError{Field: "target_class_id", Error: errClassNotInGrade.Error()})
	}

	seen := make(map[string]struct{}, len(p.StudentIDs))
	results := make([]PromotionResult, 0, len(p.StudentIDs))
	counts := make(map[PromotionStatus]int, 3)
	for _, id := range p.StudentIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		res := svc.promoteStudent(ctx, id, current, target, class, p.Override)
		counts[res.Status]++
		results = append(results, res)
	}

	svc.logger.Info("students promoted", map[string]interface{}{
		"target_year": target.Name,
		"promoted":    counts[Promoted],
		"ineligible":  counts[Ineligible],
		"failed":      counts[Failed],
	})
	return results, nil
}

func (svc *Service) promoteStudent(ctx context.Context, studentID string, current, target AcademicYear, class Class, override bool) PromotionResult {
	res := PromotionResult{StudentID: studentID, PendingAmount: decimal.Zero}

	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		st, err := svc.repo.LockStudent(ctx, studentID)
		if err != nil {
			return err
		}

		elig, err := svc.eligibility(ctx, st, current, target, override)
		if err != nil {
			return err
		}
		res.PendingAmount = elig.PendingAmount
		if !elig.Eligible {
			res.Status = Ineligible
			res.Reason = "outstanding fees must be cleared before promotion"
			res.BlockingInstallments = elig.BlockingInstallments
			return nil
		}
		res.Overridden = elig.Overridden

		now := svc.now().UTC()
		prior, err := svc.repo.GetEnrollment(ctx, st.ID, current.ID)
		switch {
		case err == nil:
			prior.Status = EnrollmentPromoted
			prior.PromotedAt = &now
			err = svc.repo.UpdateEnrollment(ctx, prior)
		case core.IsNotFound(err):
			_, err = svc.repo.CreateEnrollment(ctx, Enrollment{
				StudentID:      st.ID,
				AcademicYearID: current.ID,
				GradeID:        st.GradeID,
				ClassID:        st.ClassID,
				Status:         EnrollmentPromoted,
				PromotedAt:     &now,
			})
		}
		if err != nil {
			return errors.Wrap(err, "closing current enrollment")
		}

		next, err := svc.repo.GetEnrollment(ctx, st.ID, target.ID)
		switch {
		case err == nil:
			next.GradeID = class.GradeID
			next.ClassID = class.ID
			next.Status = EnrollmentActive
			next.PromotedAt = nil
			err = svc.repo.UpdateEnrollment(ctx, next)
		case core.IsNotFound(err):
			_, err = svc.repo.CreateEnrollment(ctx, Enrollment{
				StudentID:      st.ID,
				AcademicYearID: target.ID,
				GradeID:        class.GradeID,
				ClassID:        class.ID,
				Status:         EnrollmentActive,
			})
		}
		if err != nil {
			return errors.Wrap(err, "opening target enrollment")
		}

		if err = svc.repo.UpdateStudentPlacement(ctx, st.ID, class.GradeID, class.ID); err != nil {
			return errors.Wrap(err, "updating student placement")
		}
		res.Status = Promoted
		return nil
	})
	if err != nil {
		svc.logger.Warn("student promotion failed", err, map[string]interface{}{"student_id": studentID})
		return PromotionResult{StudentID: studentID, Status: Failed, Reason: err.Error(), PendingAmount: decimal.Zero}
	}
	return res
}
