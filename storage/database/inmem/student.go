package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/student"
)

type studentRepository struct {
	db *DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db}
}

// Academic years

func (repo *studentRepository) CreateAcademicYear(_ context.Context, year student.AcademicYear) (student.AcademicYear, error) {
	err := repo.db.write(func(t *tables) error {
		for _, y := range t.years {
			if strings.EqualFold(y.Name, year.Name) {
				return core.NewDuplicateError("academic year name", year.Name)
			}
		}
		year.ID = t.newID()
		year.IsCurrent = false
		t.years[year.ID] = year
		return nil
	})
	return year, err
}

func (repo *studentRepository) GetAcademicYear(_ context.Context, id string) (year student.AcademicYear, err error) {
	err = repo.db.read(func(t *tables) error {
		var ok bool
		if year, ok = t.years[id]; !ok {
			return core.NewNotFoundError("academic year", id)
		}
		return nil
	})
	return year, err
}

func (repo *studentRepository) GetCurrentAcademicYear(_ context.Context) (year student.AcademicYear, err error) {
	err = repo.db.read(func(t *tables) error {
		for _, y := range t.years {
			if y.IsCurrent {
				year = y
				return nil
			}
		}
		return core.NewNotFoundError("current academic year", "")
	})
	return year, err
}

func (repo *studentRepository) QueryAcademicYears(_ context.Context) (years []student.AcademicYear, err error) {
	err = repo.db.read(func(t *tables) error {
		years = make([]student.AcademicYear, 0, len(t.years))
		for _, y := range t.years {
			years = append(years, y)
		}
		sort.Slice(years, func(i, j int) bool { return years[i].StartDate.After(years[j].StartDate) })
		return nil
	})
	return years, err
}

func (repo *studentRepository) SetCurrentAcademicYear(_ context.Context, id string) error {
	return repo.db.write(func(t *tables) error {
		if _, ok := t.years[id]; !ok {
			return core.NewNotFoundError("academic year", id)
		}
		for yid, y := range t.years {
			y.IsCurrent = yid == id
			t.years[yid] = y
		}
		return nil
	})
}

// Grades and classes

func (repo *studentRepository) CreateGrade(_ context.Context, grade student.Grade) (student.Grade, error) {
	err := repo.db.write(func(t *tables) error {
		for _, g := range t.grades {
			if strings.EqualFold(g.Name, grade.Name) {
				return core.NewDuplicateError("grade name", grade.Name)
			}
		}
		grade.ID = t.newID()
		t.grades[grade.ID] = grade
		return nil
	})
	return grade, err
}

func (repo *studentRepository) GetGrade(_ context.Context, id string) (grade student.Grade, err error) {
	err = repo.db.read(func(t *tables) error {
		var ok bool
		if grade, ok = t.grades[id]; !ok {
			return core.NewNotFoundError("grade", id)
		}
		return nil
	})
	return grade, err
}

func (repo *studentRepository) CreateClass(_ context.Context, class student.Class) (student.Class, error) {
	err := repo.db.write(func(t *tables) error {
		if _, ok := t.grades[class.GradeID]; !ok {
			return core.NewNotFoundError("grade", class.GradeID)
		}
		for _, c := range t.classes {
			if c.GradeID == class.GradeID && strings.EqualFold(c.Name, class.Name) {
				return core.NewDuplicateError("class name", class.Name)
			}
		}
		class.ID = t.newID()
		t.classes[class.ID] = class
		return nil
	})
	return class, err
}

func (repo *studentRepository) GetClass(_ context.Context, id string) (class student.Class, err error) {
	err = repo.db.read(func(t *tables) error {
		var ok bool
		if class, ok = t.classes[id]; !ok {
			return core.NewNotFoundError("class", id)
		}
		return nil
	})
	return class, err
}

// Students

func (repo *studentRepository) CreateStudent(_ context.Context, st student.Student) (student.Student, error) {
	err := repo.db.write(func(t *tables) error {
		st.ID = t.newID()
		t.students[st.ID] = st
		return nil
	})
	return st, err
}

func (repo *studentRepository) GetStudent(_ context.Context, id string) (st student.Student, err error) {
	err = repo.db.read(func(t *tables) error {
		var ok bool
		if st, ok = t.students[id]; !ok {
			return core.NewNotFoundError("student", id)
		}
		return nil
	})
	return st, err
}

// LockStudent is a plain read: transactions are already serialized.
func (repo *studentRepository) LockStudent(ctx context.Context, id string) (student.Student, error) {
	return repo.GetStudent(ctx, id)
}

func (repo *studentRepository) QueryStudents(_ context.Context, filter student.Filter) (students []student.Student, err error) {
	err = repo.db.read(func(t *tables) error {
		ids := make(map[string]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = struct{}{}
		}
		students = make([]student.Student, 0)
		for _, st := range t.students {
			if len(ids) > 0 {
				if _, ok := ids[st.ID]; !ok {
					continue
				}
			}
			if filter.GradeID != "" && st.GradeID != filter.GradeID {
				continue
			}
			if filter.ClassID != "" && st.ClassID != filter.ClassID {
				continue
			}
			students = append(students, st)
		}
		sort.Slice(students, func(i, j int) bool {
			if students[i].Name != students[j].Name {
				return students[i].Name < students[j].Name
			}
			return t.before(students[i].ID, students[j].ID)
		})
		return nil
	})
	return students, err
}

func (repo *studentRepository) UpdateStudentPlacement(_ context.Context, id, gradeID, classID string) error {
	return repo.db.write(func(t *tables) error {
		st, ok := t.students[id]
		if !ok {
			return core.NewNotFoundError("student", id)
		}
		st.GradeID = gradeID
		st.ClassID = classID
		t.students[id] = st
		return nil
	})
}

func (repo *studentRepository) UsedRollSequences(_ context.Context, classID string) (used []int, err error) {
	err = repo.db.read(func(t *tables) error {
		used = make([]int, 0)
		for _, st := range t.students {
			if st.RollClassID == classID && st.RollSequence > 0 {
				used = append(used, st.RollSequence)
			}
		}
		sort.Ints(used)
		return nil
	})
	return used, err
}

func (repo *studentRepository) SetRollNumber(_ context.Context, studentID, classID string, seq int, number string) error {
	return repo.db.write(func(t *tables) error {
		st, ok := t.students[studentID]
		if !ok {
			return core.NewNotFoundError("student", studentID)
		}
		for _, other := range t.students {
			if other.ID == studentID {
				continue
			}
			if other.RollClassID != classID {
				continue
			}
			if other.RollSequence == seq {
				return core.NewConflictError("roll sequence already taken in class")
			}
			if other.RollNumber == number {
				return core.NewConflictError("roll number already taken in class")
			}
		}
		st.RollClassID = classID
		st.RollSequence = seq
		st.RollNumber = number
		t.students[studentID] = st
		return nil
	})
}

// Enrollments

func (repo *studentRepository) GetEnrollment(_ context.Context, studentID, yearID string) (enr student.Enrollment, err error) {
	err = repo.db.read(func(t *tables) error {
		for _, e := range t.enrollments {
			if e.StudentID == studentID && e.AcademicYearID == yearID {
				enr = e
				return nil
			}
		}
		return core.NewNotFoundError("enrollment", "")
	})
	return enr, err
}

func (repo *studentRepository) CreateEnrollment(_ context.Context, enr student.Enrollment) (student.Enrollment, error) {
	err := repo.db.write(func(t *tables) error {
		for _, e := range t.enrollments {
			if e.StudentID == enr.StudentID && e.AcademicYearID == enr.AcademicYearID {
				return core.NewDuplicateError("enrollment", "")
			}
		}
		enr.ID = t.newID()
		t.enrollments[enr.ID] = enr
		return nil
	})
	return enr, err
}

func (repo *studentRepository) UpdateEnrollment(_ context.Context, enr student.Enrollment) error {
	return repo.db.write(func(t *tables) error {
		if _, ok := t.enrollments[enr.ID]; !ok {
			return core.NewNotFoundError("enrollment", enr.ID)
		}
		t.enrollments[enr.ID] = enr
		return nil
	})
}

// Fees

func (repo *studentRepository) CreateFeeCategory(_ context.Context, cat student.FeeCategory) (student.FeeCategory, error) {
	err := repo.db.write(func(t *tables) error {
		for _, c := range t.categories {
			if strings.EqualFold(c.Name, cat.Name) {
				return core.NewDuplicateError("fee category name", cat.Name)
			}
		}
		cat.ID = t.newID()
		cat.Amounts = append([]student.GradeAmount(nil), cat.Amounts...)
		t.categories[cat.ID] = cat
		return nil
	})
	return cat, err
}

func (repo *studentRepository) GetFeeCategory(_ context.Context, id string) (cat student.FeeCategory, err error) {
	err = repo.db.read(func(t *tables) error {
		var ok bool
		if cat, ok = t.categories[id]; !ok {
			return core.NewNotFoundError("fee category", id)
		}
		return nil
	})
	return cat, err
}

func (repo *studentRepository) CreateStudentFee(_ context.Context, fee student.StudentFee) (student.StudentFee, error) {
	err := repo.db.write(func(t *tables) error {
		if _, ok := t.students[fee.StudentID]; !ok {
			return core.NewNotFoundError("student", fee.StudentID)
		}
		for _, f := range t.fees {
			if f.StudentID == fee.StudentID && f.FeeCategoryID == fee.FeeCategoryID && f.AcademicYearID == fee.AcademicYearID {
				return core.NewDuplicateError("student fee", fee.FeeCategoryName)
			}
		}
		fee.ID = t.newID()
		insts := make([]student.Installment, 0, len(fee.Installments))
		for _, inst := range fee.Installments {
			inst.ID = t.newID()
			inst.StudentFeeID = fee.ID
			t.installments[inst.ID] = inst
			insts = append(insts, inst)
		}
		stored := fee
		stored.Installments = nil
		t.fees[fee.ID] = stored
		fee.Installments = insts
		return nil
	})
	return fee, err
}

// withInstallments attaches the fee's installments in order.
func (t *tables) withInstallments(fee student.StudentFee) student.StudentFee {
	insts := make([]student.Installment, 0)
	for _, inst := range t.installments {
		if inst.StudentFeeID == fee.ID {
			insts = append(insts, inst)
		}
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i].Order < insts[j].Order })
	fee.Installments = insts
	return fee
}

func (repo *studentRepository) GetStudentFee(_ context.Context, id string) (fee student.StudentFee, err error) {
	err = repo.db.read(func(t *tables) error {
		f, ok := t.fees[id]
		if !ok {
			return core.NewNotFoundError("student fee", id)
		}
		fee = t.withInstallments(f)
		return nil
	})
	return fee, err
}

func (repo *studentRepository) LockStudentFee(ctx context.Context, id string) (student.StudentFee, error) {
	return repo.GetStudentFee(ctx, id)
}

func (repo *studentRepository) FindStudentFee(_ context.Context, studentID, categoryID, yearID string) (fee student.StudentFee, err error) {
	err = repo.db.read(func(t *tables) error {
		for _, f := range t.fees {
			if f.StudentID == studentID && f.FeeCategoryID == categoryID && f.AcademicYearID == yearID {
				fee = t.withInstallments(f)
				return nil
			}
		}
		return core.NewNotFoundError("student fee", "")
	})
	return fee, err
}

func (repo *studentRepository) QueryStudentFees(_ context.Context, filter student.FeeFilter) (fees []student.StudentFee, err error) {
	err = repo.db.read(func(t *tables) error {
		fees = make([]student.StudentFee, 0)
		for _, f := range t.fees {
			if filter.StudentID != "" && f.StudentID != filter.StudentID {
				continue
			}
			if filter.AcademicYearID != "" && f.AcademicYearID != filter.AcademicYearID {
				continue
			}
			if filter.PendingOnly && !f.PendingAmount.IsPositive() {
				continue
			}
			fees = append(fees, t.withInstallments(f))
		}
		sort.Slice(fees, func(i, j int) bool {
			if fees[i].StudentID != fees[j].StudentID {
				return t.before(fees[i].StudentID, fees[j].StudentID)
			}
			if !fees[i].DueDate.Equal(fees[j].DueDate) {
				return fees[i].DueDate.Before(fees[j].DueDate)
			}
			return t.before(fees[i].ID, fees[j].ID)
		})
		return nil
	})
	return fees, err
}

func (repo *studentRepository) UpdateStudentFeePayment(_ context.Context, fee student.StudentFee) error {
	return repo.db.write(func(t *tables) error {
		stored, ok := t.fees[fee.ID]
		if !ok {
			return core.NewNotFoundError("student fee", fee.ID)
		}
		stored.PaidAmount = fee.PaidAmount
		stored.PendingAmount = fee.PendingAmount
		stored.Status = fee.Status
		t.fees[fee.ID] = stored

		for _, inst := range fee.Installments {
			cur, ok := t.installments[inst.ID]
			if !ok {
				return core.NewNotFoundError("installment", inst.ID)
			}
			cur.PaidAmount = inst.PaidAmount
			cur.Status = inst.Status
			t.installments[inst.ID] = cur
		}
		return nil
	})
}
