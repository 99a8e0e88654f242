package student

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	errNotInClass = errors.New("student does not belong to this class")
	errClassFull  = fmt.Errorf("class has no roll numbers left (max %d)", MaxRollSequence)
)

// AssignRollNumber gives the student the lowest unused roll sequence of the class and the matching
// roll number (class code + 3 digit sequence). Re-running it for an already numbered student returns
// the existing roll number. Concurrent assignments racing for the same number are retried a bounded
// number of times before a core.ConflictError is returned.
func (svc *Service) AssignRollNumber(ctx context.Context, studentID, classID string) (RollNumber, error) {
	if svc.locker == nil {
		return svc.assignRollNumber(ctx, studentID, classID)
	}

	var rn RollNumber
	err := svc.locker.WithClassLock(ctx, classID, func(ctx context.Context) error {
		var err error
		rn, err = svc.assignRollNumber(ctx, studentID, classID)
		return err
	})
	return rn, err
}

func (svc *Service) assignRollNumber(ctx context.Context, studentID, classID string) (RollNumber, error) {
	for attempt := 1; attempt <= svc.rollRetries; attempt++ {
		var rn RollNumber
		var assigned bool
		err := svc.tx.InTx(ctx, func(ctx context.Context) error {
			st, err := svc.repo.LockStudent(ctx, studentID)
			if err != nil {
				return err
			}
			class, err := svc.repo.GetClass(ctx, classID)
			if err != nil {
				return err
			}
			if st.ClassID != class.ID {
				return core.NewValidationError(errNotInClass, core.FieldError{Field: "class_id", Error: errNotInClass.Error()})
			}
			if st.RollClassID == class.ID && st.RollSequence > 0 {
				rn = RollNumber{StudentID: st.ID, ClassID: class.ID, Sequence: st.RollSequence, Number: st.RollNumber}
				return nil
			}

			used, err := svc.repo.UsedRollSequences(ctx, class.ID)
			if err != nil {
				return errors.Wrap(err, "querying used roll sequences")
			}
			seq, ok := lowestUnused(used)
			if !ok {
				return core.NewValidationError(errClassFull, core.FieldError{Field: "class_id", Error: errClassFull.Error()})
			}

			rn = RollNumber{StudentID: st.ID, ClassID: class.ID, Sequence: seq, Number: FormatRollNumber(class.Name, seq)}
			assigned = true
			return svc.repo.SetRollNumber(ctx, st.ID, class.ID, seq, rn.Number)
		})
		if err == nil {
			if assigned {
				svc.logger.Info("roll number assigned", map[string]interface{}{"student_id": rn.StudentID, "roll_number": rn.Number})
			}
			return rn, nil
		}
		if !core.IsConflict(err) && !core.IsDuplicate(err) {
			return RollNumber{}, err
		}
		svc.logger.Warn("roll number collision, retrying", map[string]interface{}{
			"student_id": studentID,
			"class_id":   classID,
			"attempt":    attempt,
		})
	}
	return RollNumber{}, core.NewConflictError(fmt.Sprintf("could not assign a roll number after %d attempts", svc.rollRetries))
}

// lowestUnused returns the smallest sequence in [1, MaxRollSequence] absent from used.
func lowestUnused(used []int) (int, bool) {
	taken := make(map[int]struct{}, len(used))
	for _, seq := range used {
		taken[seq] = struct{}{}
	}
	for seq := 1; seq <= MaxRollSequence; seq++ {
		if _, ok := taken[seq]; !ok {
			return seq, true
		}
	}
	return 0, false
}
