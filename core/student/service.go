package student

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/ledger"
)

const defaultRollRetries = 5

var (
	errYearDates       = errors.New("end date must be after start date")
	errSameYear        = errors.New("target academic year must differ from the current academic year")
	errClassNotInGrade = errors.New("target class does not belong to the target grade")
)

type (
	Repository interface {
		CreateAcademicYear(ctx context.Context, year AcademicYear) (AcademicYear, error)
		GetAcademicYear(ctx context.Context, id string) (AcademicYear, error)
		GetCurrentAcademicYear(ctx context.Context) (AcademicYear, error)
		QueryAcademicYears(ctx context.Context) ([]AcademicYear, error)
		// SetCurrentAcademicYear flags the year as current and clears the flag of every other year.
		SetCurrentAcademicYear(ctx context.Context, id string) error

		CreateGrade(ctx context.Context, grade Grade) (Grade, error)
		GetGrade(ctx context.Context, id string) (Grade, error)
		CreateClass(ctx context.Context, class Class) (Class, error)
		GetClass(ctx context.Context, id string) (Class, error)

		CreateStudent(ctx context.Context, st Student) (Student, error)
		GetStudent(ctx context.Context, id string) (Student, error)
		// LockStudent returns the student, locked for update until the transaction ends.
		LockStudent(ctx context.Context, id string) (Student, error)
		QueryStudents(ctx context.Context, filter Filter) ([]Student, error)
		UpdateStudentPlacement(ctx context.Context, id, gradeID, classID string) error
		UsedRollSequences(ctx context.Context, classID string) ([]int, error)
		// SetRollNumber fails with a core.ConflictError when the sequence or number is already taken.
		SetRollNumber(ctx context.Context, studentID, classID string, seq int, number string) error

		GetEnrollment(ctx context.Context, studentID, yearID string) (Enrollment, error)
		CreateEnrollment(ctx context.Context, enr Enrollment) (Enrollment, error)
		UpdateEnrollment(ctx context.Context, enr Enrollment) error

		CreateFeeCategory(ctx context.Context, cat FeeCategory) (FeeCategory, error)
		GetFeeCategory(ctx context.Context, id string) (FeeCategory, error)

		// CreateStudentFee fails with a core.DuplicateError when the student already has the fee for the year.
		CreateStudentFee(ctx context.Context, fee StudentFee) (StudentFee, error)
		GetStudentFee(ctx context.Context, id string) (StudentFee, error)
		LockStudentFee(ctx context.Context, id string) (StudentFee, error)
		FindStudentFee(ctx context.Context, studentID, categoryID, yearID string) (StudentFee, error)
		QueryStudentFees(ctx context.Context, filter FeeFilter) ([]StudentFee, error)
		UpdateStudentFeePayment(ctx context.Context, fee StudentFee) error
	}

	// VoucherPoster posts the ledger side of fee payments.
	VoucherPoster interface {
		PostVoucher(ctx context.Context, nv ledger.NewVoucher) (ledger.Voucher, error)
	}

	// ClassLocker serializes roll number assignment per class across processes.
	ClassLocker interface {
		WithClassLock(ctx context.Context, classID string, fn func(ctx context.Context) error) error
	}

	Service struct {
		repo        Repository
		tx          core.Transactor
		vouchers    VoucherPoster
		mailer      core.EmailService
		logger      core.Logger
		locker      ClassLocker
		schoolName  string
		rollRetries int
		now         func() time.Time
	}
)

func NewService(
	repo Repository,
	tx core.Transactor,
	vouchers VoucherPoster,
	mailer core.EmailService,
	logger core.Logger,
	conf *core.Config,
) *Service {
	return &Service{
		repo:        repo,
		tx:          tx,
		vouchers:    vouchers,
		mailer:      mailer,
		logger:      logger,
		schoolName:  conf.AppName,
		rollRetries: defaultRollRetries,
		now:         time.Now,
	}
}

// UseClassLocker enables a distributed lock around roll number assignment.
// Storage uniqueness constraints stay authoritative; the lock only reduces retries.
func (svc *Service) UseClassLocker(locker ClassLocker) {
	svc.locker = locker
}

func (svc *Service) today() time.Time {
	y, m, d := svc.now().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// currentYear reads the single current academic year; every workflow starts with it.
func (svc *Service) currentYear(ctx context.Context) (AcademicYear, error) {
	year, err := svc.repo.GetCurrentAcademicYear(ctx)
	if err != nil {
		return AcademicYear{}, errors.Wrap(err, "reading current academic year")
	}
	return year, nil
}

// targetYear loads the promotion target year, which must differ from the current one.
func (svc *Service) targetYear(ctx context.Context, current AcademicYear, id string) (AcademicYear, error) {
	target, err := svc.repo.GetAcademicYear(ctx, id)
	if err != nil {
		return AcademicYear{}, err
	}
	if target.ID == current.ID {
		return AcademicYear{}, core.NewValidationError(errSameYear, core.FieldError{Field: "target_year_id", Error: errSameYear.Error()})
	}
	return target, nil
}

// Academic structure

func (svc *Service) CreateAcademicYear(ctx context.Context, ny NewAcademicYear) (AcademicYear, error) {
	if !ny.EndDate.After(ny.StartDate) {
		return AcademicYear{}, core.NewValidationError(errYearDates, core.FieldError{Field: "end_date", Error: errYearDates.Error()})
	}

	var year AcademicYear
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		year, err = svc.repo.CreateAcademicYear(ctx, AcademicYear{
			Name:      core.CleanString(ny.Name),
			StartDate: ny.StartDate.UTC(),
			EndDate:   ny.EndDate.UTC(),
		})
		if err != nil {
			return err
		}
		if ny.IsCurrent {
			year.IsCurrent = true
			return svc.repo.SetCurrentAcademicYear(ctx, year.ID)
		}
		return nil
	})
	return year, err
}

func (svc *Service) QueryAcademicYears(ctx context.Context) ([]AcademicYear, error) {
	return svc.repo.QueryAcademicYears(ctx)
}

func (svc *Service) CurrentAcademicYear(ctx context.Context) (AcademicYear, error) {
	return svc.currentYear(ctx)
}

// SetCurrentAcademicYear switches the current academic year. Exactly one year is current afterwards.
func (svc *Service) SetCurrentAcademicYear(ctx context.Context, id string) (AcademicYear, error) {
	var year AcademicYear
	err := svc.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		if year, err = svc.repo.GetAcademicYear(ctx, id); err != nil {
			return err
		}
		year.IsCurrent = true
		return svc.repo.SetCurrentAcademicYear(ctx, id)
	})
	if err != nil {
		return AcademicYear{}, err
	}
	svc.logger.Info("current academic year changed", map[string]interface{}{"academic_year": year.Name})
	return year, nil
}

func (svc *Service) CreateGrade(ctx context.Context, ng NewGrade) (Grade, error) {
	return svc.repo.CreateGrade(ctx, Grade{Name: core.CleanString(ng.Name), Level: ng.Level})
}

func (svc *Service) CreateClass(ctx context.Context, nc NewClass) (Class, error) {
	if _, err := svc.repo.GetGrade(ctx, nc.GradeID); err != nil {
		return Class{}, err
	}
	return svc.repo.CreateClass(ctx, Class{GradeID: nc.GradeID, Name: core.CleanString(nc.Name)})
}

// Students

func (svc *Service) CreateStudent(ctx context.Context, ns NewStudent) (Student, error) {
	class, err := svc.repo.GetClass(ctx, ns.ClassID)
	if err != nil {
		return Student{}, err
	}
	return svc.repo.CreateStudent(ctx, Student{
		Name:          core.CleanString(ns.Name),
		GuardianName:  core.CleanString(ns.GuardianName),
		GuardianEmail: core.CleanString(ns.GuardianEmail, true /* lower */),
		GradeID:       class.GradeID,
		ClassID:       class.ID,
		CreatedAt:     svc.now().UTC(),
	})
}

func (svc *Service) GetStudent(ctx context.Context, id string) (Student, error) {
	return svc.repo.GetStudent(ctx, id)
}

func (svc *Service) QueryStudents(ctx context.Context, filter Filter) ([]Student, error) {
	return svc.repo.QueryStudents(ctx, filter)
}

func (svc *Service) GetEnrollment(ctx context.Context, studentID, yearID string) (Enrollment, error) {
	return svc.repo.GetEnrollment(ctx, studentID, yearID)
}
