package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/student"
)

type (
	yearRow struct {
		ID        string    `db:"id"`
		Name      string    `db:"name"`
		StartDate time.Time `db:"start_date"`
		EndDate   time.Time `db:"end_date"`
		IsCurrent bool      `db:"is_current"`
	}

	studentRow struct {
		ID            string      `db:"id"`
		Name          string      `db:"name"`
		GuardianName  string      `db:"guardian_name"`
		GuardianEmail string      `db:"guardian_email"`
		GradeID       string      `db:"grade_id"`
		ClassID       string      `db:"class_id"`
		RollClassID   null.String `db:"roll_class_id"`
		RollSequence  null.Int    `db:"roll_sequence"`
		RollNumber    null.String `db:"roll_number"`
		CreatedAt     time.Time   `db:"created_at"`
	}

	enrollmentRow struct {
		ID             string    `db:"id"`
		StudentID      string    `db:"student_id"`
		AcademicYearID string    `db:"academic_year_id"`
		GradeID        string    `db:"grade_id"`
		ClassID        string    `db:"class_id"`
		Status         string    `db:"status"`
		PromotedAt     null.Time `db:"promoted_at"`
	}

	categoryRow struct {
		ID               string    `db:"id"`
		Name             string    `db:"name"`
		Description      string    `db:"description"`
		DueDate          null.Time `db:"due_date"`
		InstallmentCount int       `db:"installment_count"`
	}

	gradeAmountRow struct {
		GradeID string          `db:"grade_id"`
		Amount  decimal.Decimal `db:"amount"`
	}

	feeRow struct {
		ID              string          `db:"id"`
		StudentID       string          `db:"student_id"`
		FeeCategoryID   string          `db:"fee_category_id"`
		FeeCategoryName string          `db:"fee_category_name"`
		AcademicYearID  string          `db:"academic_year_id"`
		TotalAmount     decimal.Decimal `db:"total_amount"`
		Discount        decimal.Decimal `db:"discount"`
		PaidAmount      decimal.Decimal `db:"paid_amount"`
		PendingAmount   decimal.Decimal `db:"pending_amount"`
		Status          string          `db:"status"`
		DueDate         time.Time       `db:"due_date"`
		CreatedAt       time.Time       `db:"created_at"`
	}

	installmentRow struct {
		ID           string          `db:"id"`
		StudentFeeID string          `db:"student_fee_id"`
		Order        int             `db:"installment_order"`
		Amount       decimal.Decimal `db:"amount"`
		PaidAmount   decimal.Decimal `db:"paid_amount"`
		DueDate      time.Time       `db:"due_date"`
		Status       string          `db:"status"`
	}
)

func (r yearRow) toYear() student.AcademicYear {
	return student.AcademicYear{ID: r.ID, Name: r.Name, StartDate: r.StartDate.UTC(), EndDate: r.EndDate.UTC(), IsCurrent: r.IsCurrent}
}

func (r studentRow) toStudent() student.Student {
	return student.Student{
		ID:            r.ID,
		Name:          r.Name,
		GuardianName:  r.GuardianName,
		GuardianEmail: r.GuardianEmail,
		GradeID:       r.GradeID,
		ClassID:       r.ClassID,
		RollClassID:   r.RollClassID.String,
		RollSequence:  r.RollSequence.Int,
		RollNumber:    r.RollNumber.String,
		CreatedAt:     r.CreatedAt,
	}
}

func (r enrollmentRow) toEnrollment() student.Enrollment {
	return student.Enrollment{
		ID:             r.ID,
		StudentID:      r.StudentID,
		AcademicYearID: r.AcademicYearID,
		GradeID:        r.GradeID,
		ClassID:        r.ClassID,
		Status:         student.EnrollmentStatus(r.Status),
		PromotedAt:     r.PromotedAt.Ptr(),
	}
}

func (r feeRow) toFee() student.StudentFee {
	return student.StudentFee{
		ID:              r.ID,
		StudentID:       r.StudentID,
		FeeCategoryID:   r.FeeCategoryID,
		FeeCategoryName: r.FeeCategoryName,
		AcademicYearID:  r.AcademicYearID,
		TotalAmount:     r.TotalAmount,
		Discount:        r.Discount,
		PaidAmount:      r.PaidAmount,
		PendingAmount:   r.PendingAmount,
		Status:          student.FeeStatus(r.Status),
		DueDate:         r.DueDate.UTC(),
		CreatedAt:       r.CreatedAt,
	}
}

func (r installmentRow) toInstallment() student.Installment {
	return student.Installment{
		ID:           r.ID,
		StudentFeeID: r.StudentFeeID,
		Order:        r.Order,
		Amount:       r.Amount,
		PaidAmount:   r.PaidAmount,
		DueDate:      r.DueDate.UTC(),
		Status:       student.FeeStatus(r.Status),
	}
}

var (
	selectYears    = psql.Select("id", "name", "start_date", "end_date", "is_current").From("academic_years")
	selectStudents = psql.Select(
		"id", "name", "guardian_name", "guardian_email", "grade_id", "class_id",
		"roll_class_id", "roll_sequence", "roll_number", "created_at",
	).From("students")
	selectEnrollments = psql.Select(
		"id", "student_id", "academic_year_id", "grade_id", "class_id", "status", "promoted_at",
	).From("enrollments")
	selectFees = psql.Select(
		"f.id", "f.student_id", "f.fee_category_id", "c.name AS fee_category_name", "f.academic_year_id",
		"f.total_amount", "f.discount", "f.paid_amount", "f.pending_amount", "f.status", "f.due_date", "f.created_at",
	).From("student_fees f").Join("fee_categories c ON c.id = f.fee_category_id")
)

type studentRepository struct {
	querier
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *sqlx.DB) student.Repository {
	return &studentRepository{querier{db: db}}
}

// Academic years

func (repo *studentRepository) CreateAcademicYear(ctx context.Context, year student.AcademicYear) (student.AcademicYear, error) {
	year.IsCurrent = false
	qb := psql.Insert("academic_years").Columns("name", "start_date", "end_date").Values(year.Name, year.StartDate, year.EndDate)
	if err := repo.insert(ctx, qb, &year.ID, "creating academic year"); err != nil {
		return student.AcademicYear{}, err
	}
	return year, nil
}

func (repo *studentRepository) GetAcademicYear(ctx context.Context, id string) (student.AcademicYear, error) {
	var row yearRow
	if err := repo.get(ctx, &row, selectYears.Where(sq.Eq{"id": id}), "academic year", id); err != nil {
		return student.AcademicYear{}, err
	}
	return row.toYear(), nil
}

func (repo *studentRepository) GetCurrentAcademicYear(ctx context.Context) (student.AcademicYear, error) {
	var row yearRow
	if err := repo.get(ctx, &row, selectYears.Where(sq.Eq{"is_current": true}), "current academic year", ""); err != nil {
		return student.AcademicYear{}, err
	}
	return row.toYear(), nil
}

func (repo *studentRepository) QueryAcademicYears(ctx context.Context) ([]student.AcademicYear, error) {
	var rows []yearRow
	if err := repo.sel(ctx, &rows, selectYears.OrderBy("start_date DESC"), "querying academic years"); err != nil {
		return nil, err
	}
	years := make([]student.AcademicYear, 0, len(rows))
	for _, r := range rows {
		years = append(years, r.toYear())
	}
	return years, nil
}

// SetCurrentAcademicYear clears the flag first: the partial unique index allows a single current year at any time.
func (repo *studentRepository) SetCurrentAcademicYear(ctx context.Context, id string) error {
	if _, err := repo.run(ctx, psql.Update("academic_years").Set("is_current", false).Where(sq.Eq{"is_current": true}), "clearing current academic year"); err != nil {
		return err
	}
	n, err := repo.run(ctx, psql.Update("academic_years").Set("is_current", true).Where(sq.Eq{"id": id}), "setting current academic year")
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NewNotFoundError("academic year", id)
	}
	return nil
}

// Grades and classes

func (repo *studentRepository) CreateGrade(ctx context.Context, grade student.Grade) (student.Grade, error) {
	qb := psql.Insert("grades").Columns("name", "level").Values(grade.Name, grade.Level)
	if err := repo.insert(ctx, qb, &grade.ID, "creating grade"); err != nil {
		return student.Grade{}, err
	}
	return grade, nil
}

func (repo *studentRepository) GetGrade(ctx context.Context, id string) (grade student.Grade, err error) {
	err = repo.get(ctx, &grade, psql.Select("id", "name", "level").From("grades").Where(sq.Eq{"id": id}), "grade", id)
	return grade, err
}

func (repo *studentRepository) CreateClass(ctx context.Context, class student.Class) (student.Class, error) {
	qb := psql.Insert("classes").Columns("grade_id", "name").Values(class.GradeID, class.Name)
	if err := repo.insert(ctx, qb, &class.ID, "creating class"); err != nil {
		return student.Class{}, err
	}
	return class, nil
}

func (repo *studentRepository) GetClass(ctx context.Context, id string) (student.Class, error) {
	var row struct {
		ID      string `db:"id"`
		GradeID string `db:"grade_id"`
		Name    string `db:"name"`
	}
	if err := repo.get(ctx, &row, psql.Select("id", "grade_id", "name").From("classes").Where(sq.Eq{"id": id}), "class", id); err != nil {
		return student.Class{}, err
	}
	return student.Class{ID: row.ID, GradeID: row.GradeID, Name: row.Name}, nil
}

// Students

func (repo *studentRepository) CreateStudent(ctx context.Context, st student.Student) (student.Student, error) {
	qb := psql.Insert("students").
		Columns("name", "guardian_name", "guardian_email", "grade_id", "class_id", "created_at").
		Values(st.Name, st.GuardianName, st.GuardianEmail, st.GradeID, st.ClassID, st.CreatedAt)
	if err := repo.insert(ctx, qb, &st.ID, "creating student"); err != nil {
		return student.Student{}, err
	}
	return st, nil
}

func (repo *studentRepository) GetStudent(ctx context.Context, id string) (student.Student, error) {
	return repo.getStudent(ctx, selectStudents.Where(sq.Eq{"id": id}), id)
}

func (repo *studentRepository) LockStudent(ctx context.Context, id string) (student.Student, error) {
	return repo.getStudent(ctx, selectStudents.Where(sq.Eq{"id": id}).Suffix("FOR UPDATE"), id)
}

func (repo *studentRepository) getStudent(ctx context.Context, qb sq.SelectBuilder, id string) (student.Student, error) {
	var row studentRow
	if err := repo.get(ctx, &row, qb, "student", id); err != nil {
		return student.Student{}, err
	}
	return row.toStudent(), nil
}

func (repo *studentRepository) QueryStudents(ctx context.Context, filter student.Filter) ([]student.Student, error) {
	qb := selectStudents.OrderBy("name", "created_at")
	if len(filter.IDs) > 0 {
		qb = qb.Where(sq.Eq{"id": filter.IDs})
	}
	if filter.GradeID != "" {
		qb = qb.Where(sq.Eq{"grade_id": filter.GradeID})
	}
	if filter.ClassID != "" {
		qb = qb.Where(sq.Eq{"class_id": filter.ClassID})
	}

	var rows []studentRow
	if err := repo.sel(ctx, &rows, qb, "querying students"); err != nil {
		return nil, err
	}
	students := make([]student.Student, 0, len(rows))
	for _, r := range rows {
		students = append(students, r.toStudent())
	}
	return students, nil
}

func (repo *studentRepository) UpdateStudentPlacement(ctx context.Context, id, gradeID, classID string) error {
	qb := psql.Update("students").SetMap(map[string]interface{}{"grade_id": gradeID, "class_id": classID}).Where(sq.Eq{"id": id})
	n, err := repo.run(ctx, qb, "updating student placement")
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NewNotFoundError("student", id)
	}
	return nil
}

func (repo *studentRepository) UsedRollSequences(ctx context.Context, classID string) ([]int, error) {
	var used []int
	qb := psql.Select("roll_sequence").From("students").
		Where(sq.Eq{"roll_class_id": classID}).
		Where(sq.NotEq{"roll_sequence": nil}).
		OrderBy("roll_sequence")
	if err := repo.sel(ctx, &used, qb, "querying roll sequences"); err != nil {
		return nil, err
	}
	return used, nil
}

// SetRollNumber relies on the (roll_class_id, roll_sequence) and roll_number unique constraints:
// a concurrent assignment of the same number surfaces as a core.ConflictError.
func (repo *studentRepository) SetRollNumber(ctx context.Context, studentID, classID string, seq int, number string) error {
	qb := psql.Update("students").
		SetMap(map[string]interface{}{"roll_class_id": classID, "roll_sequence": seq, "roll_number": number}).
		Where(sq.Eq{"id": studentID})
	n, err := repo.run(ctx, qb, "setting roll number")
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NewNotFoundError("student", studentID)
	}
	return nil
}

// Enrollments

func (repo *studentRepository) GetEnrollment(ctx context.Context, studentID, yearID string) (student.Enrollment, error) {
	var row enrollmentRow
	qb := selectEnrollments.Where(sq.Eq{"student_id": studentID, "academic_year_id": yearID})
	if err := repo.get(ctx, &row, qb, "enrollment", ""); err != nil {
		return student.Enrollment{}, err
	}
	return row.toEnrollment(), nil
}

func (repo *studentRepository) CreateEnrollment(ctx context.Context, enr student.Enrollment) (student.Enrollment, error) {
	qb := psql.Insert("enrollments").
		Columns("student_id", "academic_year_id", "grade_id", "class_id", "status", "promoted_at").
		Values(enr.StudentID, enr.AcademicYearID, enr.GradeID, enr.ClassID, string(enr.Status), null.TimeFromPtr(enr.PromotedAt))
	if err := repo.insert(ctx, qb, &enr.ID, "creating enrollment"); err != nil {
		return student.Enrollment{}, err
	}
	return enr, nil
}

func (repo *studentRepository) UpdateEnrollment(ctx context.Context, enr student.Enrollment) error {
	qb := psql.Update("enrollments").SetMap(map[string]interface{}{
		"grade_id":    enr.GradeID,
		"class_id":    enr.ClassID,
		"status":      string(enr.Status),
		"promoted_at": null.TimeFromPtr(enr.PromotedAt),
	}).Where(sq.Eq{"id": enr.ID})
	n, err := repo.run(ctx, qb, "updating enrollment")
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NewNotFoundError("enrollment", enr.ID)
	}
	return nil
}

// Fee categories

func (repo *studentRepository) CreateFeeCategory(ctx context.Context, cat student.FeeCategory) (student.FeeCategory, error) {
	qb := psql.Insert("fee_categories").
		Columns("name", "description", "due_date", "installment_count").
		Values(cat.Name, cat.Description, null.NewTime(cat.DueDate, !cat.DueDate.IsZero()), cat.InstallmentCount)
	if err := repo.insert(ctx, qb, &cat.ID, "creating fee category"); err != nil {
		return student.FeeCategory{}, err
	}

	if len(cat.Amounts) > 0 {
		amounts := psql.Insert("fee_category_amounts").Columns("fee_category_id", "grade_id", "amount")
		for _, a := range cat.Amounts {
			amounts = amounts.Values(cat.ID, a.GradeID, a.Amount)
		}
		if _, err := repo.run(ctx, amounts, "creating fee category amounts"); err != nil {
			return student.FeeCategory{}, err
		}
	}
	return cat, nil
}

func (repo *studentRepository) GetFeeCategory(ctx context.Context, id string) (student.FeeCategory, error) {
	var row categoryRow
	qb := psql.Select("id", "name", "description", "due_date", "installment_count").From("fee_categories").Where(sq.Eq{"id": id})
	if err := repo.get(ctx, &row, qb, "fee category", id); err != nil {
		return student.FeeCategory{}, err
	}

	var amounts []gradeAmountRow
	aqb := psql.Select("fa.grade_id", "fa.amount").
		From("fee_category_amounts fa").
		Join("grades g ON g.id = fa.grade_id").
		Where(sq.Eq{"fa.fee_category_id": id}).
		OrderBy("g.level", "g.name")
	if err := repo.sel(ctx, &amounts, aqb, "querying fee category amounts"); err != nil {
		return student.FeeCategory{}, err
	}

	cat := student.FeeCategory{
		ID:               row.ID,
		Name:             row.Name,
		Description:      row.Description,
		DueDate:          row.DueDate.Time.UTC(),
		InstallmentCount: row.InstallmentCount,
		Amounts:          make([]student.GradeAmount, 0, len(amounts)),
	}
	if !row.DueDate.Valid {
		cat.DueDate = time.Time{}
	}
	for _, a := range amounts {
		cat.Amounts = append(cat.Amounts, student.GradeAmount{GradeID: a.GradeID, Amount: a.Amount})
	}
	return cat, nil
}

// Student fees

func (repo *studentRepository) CreateStudentFee(ctx context.Context, fee student.StudentFee) (student.StudentFee, error) {
	qb := psql.Insert("student_fees").
		Columns(
			"student_id", "fee_category_id", "academic_year_id", "total_amount", "discount",
			"paid_amount", "pending_amount", "status", "due_date", "created_at",
		).
		Values(
			fee.StudentID, fee.FeeCategoryID, fee.AcademicYearID, fee.TotalAmount, fee.Discount,
			fee.PaidAmount, fee.PendingAmount, string(fee.Status), fee.DueDate, fee.CreatedAt,
		)
	if err := repo.insert(ctx, qb, &fee.ID, "creating student fee"); err != nil {
		return student.StudentFee{}, err
	}

	if len(fee.Installments) > 0 {
		ins := psql.Insert("installments").
			Columns("student_fee_id", "installment_order", "amount", "paid_amount", "due_date", "status").
			Suffix("RETURNING id")
		for _, inst := range fee.Installments {
			ins = ins.Values(fee.ID, inst.Order, inst.Amount, inst.PaidAmount, inst.DueDate, string(inst.Status))
		}
		var ids []string
		if err := repo.sel(ctx, &ids, ins, "creating installments"); err != nil {
			return student.StudentFee{}, err
		}
		for i := range fee.Installments {
			fee.Installments[i].StudentFeeID = fee.ID
			if i < len(ids) {
				fee.Installments[i].ID = ids[i]
			}
		}
	}
	return fee, nil
}

func (repo *studentRepository) GetStudentFee(ctx context.Context, id string) (student.StudentFee, error) {
	return repo.getFee(ctx, selectFees.Where(sq.Eq{"f.id": id}), id)
}

func (repo *studentRepository) LockStudentFee(ctx context.Context, id string) (student.StudentFee, error) {
	return repo.getFee(ctx, selectFees.Where(sq.Eq{"f.id": id}).Suffix("FOR UPDATE OF f"), id)
}

func (repo *studentRepository) FindStudentFee(ctx context.Context, studentID, categoryID, yearID string) (student.StudentFee, error) {
	qb := selectFees.Where(sq.Eq{"f.student_id": studentID, "f.fee_category_id": categoryID, "f.academic_year_id": yearID})
	return repo.getFee(ctx, qb, "")
}

func (repo *studentRepository) getFee(ctx context.Context, qb sq.SelectBuilder, id string) (student.StudentFee, error) {
	var row feeRow
	if err := repo.get(ctx, &row, qb, "student fee", id); err != nil {
		return student.StudentFee{}, err
	}
	fees, err := repo.withInstallments(ctx, []feeRow{row})
	if err != nil {
		return student.StudentFee{}, err
	}
	return fees[0], nil
}

func (repo *studentRepository) QueryStudentFees(ctx context.Context, filter student.FeeFilter) ([]student.StudentFee, error) {
	qb := selectFees.OrderBy("f.student_id", "f.due_date", "f.created_at")
	if filter.StudentID != "" {
		qb = qb.Where(sq.Eq{"f.student_id": filter.StudentID})
	}
	if filter.AcademicYearID != "" {
		qb = qb.Where(sq.Eq{"f.academic_year_id": filter.AcademicYearID})
	}
	if filter.PendingOnly {
		qb = qb.Where(sq.Gt{"f.pending_amount": 0})
	}

	var rows []feeRow
	if err := repo.sel(ctx, &rows, qb, "querying student fees"); err != nil {
		return nil, err
	}
	return repo.withInstallments(ctx, rows)
}

// withInstallments loads the installments of every fee in one query.
func (repo *studentRepository) withInstallments(ctx context.Context, rows []feeRow) ([]student.StudentFee, error) {
	fees := make([]student.StudentFee, 0, len(rows))
	if len(rows) == 0 {
		return fees, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	var insts []installmentRow
	qb := psql.Select("id", "student_fee_id", "installment_order", "amount", "paid_amount", "due_date", "status").
		From("installments").
		Where(sq.Eq{"student_fee_id": ids}).
		OrderBy("student_fee_id", "installment_order")
	if err := repo.sel(ctx, &insts, qb, "querying installments"); err != nil {
		return nil, err
	}
	byFee := make(map[string][]student.Installment, len(rows))
	for _, inst := range insts {
		byFee[inst.StudentFeeID] = append(byFee[inst.StudentFeeID], inst.toInstallment())
	}

	for _, r := range rows {
		fee := r.toFee()
		fee.Installments = byFee[r.ID]
		if fee.Installments == nil {
			fee.Installments = make([]student.Installment, 0)
		}
		fees = append(fees, fee)
	}
	return fees, nil
}

func (repo *studentRepository) UpdateStudentFeePayment(ctx context.Context, fee student.StudentFee) error {
	qb := psql.Update("student_fees").SetMap(map[string]interface{}{
		"paid_amount":    fee.PaidAmount,
		"pending_amount": fee.PendingAmount,
		"status":         string(fee.Status),
	}).Where(sq.Eq{"id": fee.ID})
	n, err := repo.run(ctx, qb, "updating student fee")
	if err != nil {
		return err
	}
	if n == 0 {
		return core.NewNotFoundError("student fee", fee.ID)
	}

	for _, inst := range fee.Installments {
		iqb := psql.Update("installments").SetMap(map[string]interface{}{
			"paid_amount": inst.PaidAmount,
			"status":      string(inst.Status),
		}).Where(sq.Eq{"id": inst.ID})
		if _, err = repo.run(ctx, iqb, "updating installment"); err != nil {
			return err
		}
	}
	return nil
}
