package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/student"
)

type (
	studentApi struct {
		*Server
		svc *student.Service
	}

	academicYearRequest struct {
		Name      string `json:"name"`
		StartDate Date   `json:"start_date"`
		EndDate   Date   `json:"end_date"`
		IsCurrent bool   `json:"is_current"`
	}

	rollNumberRequest struct {
		ClassID string `json:"class_id"` // defaults to the student's current class
	}
)

func registerStudentAPI(v1 *echo.Group, s *Server) {
	api := studentApi{Server: s, svc: s.School}
	admin := rolesMiddleware(RoleAdmin)
	staff := rolesMiddleware(RoleAdmin, RoleAccountant)

	years := v1.Group("/academic-years")
	years.GET("", api.queryAcademicYears, staff)
	years.POST("", api.createAcademicYear, admin)
	years.POST("/:id/current", api.setCurrentAcademicYear, admin)

	v1.POST("/grades", api.createGrade, admin)
	v1.POST("/classes", api.createClass, admin)

	g := v1.Group("/students")
	g.GET("", api.query, staff)
	g.POST("", api.create, admin)
	g.POST("/promotions", api.promote, admin)
	g.GET("/:id", api.retrieve, staff)
	g.GET("/:id/eligibility", api.eligibility, staff)
	g.POST("/:id/roll-number", api.assignRollNumber, admin)
}

func (api *studentApi) queryAcademicYears(ctx echo.Context) error {
	c, cancel := api.requestContext(ctx)
	defer cancel()

	years, err := api.svc.QueryAcademicYears(c)
	if err != nil {
		return errors.Wrap(err, "querying academic years")
	}
	if years == nil {
		years = []student.AcademicYear{}
	}
	return ctx.JSON(http.StatusOK, years)
}

func (api *studentApi) createAcademicYear(ctx echo.Context) error {
	var req academicYearRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to academicYearRequest")
	}
	data := student.NewAcademicYear{Name: req.Name, StartDate: req.StartDate.Time, EndDate: req.EndDate.Time, IsCurrent: req.IsCurrent}
	if err := api.Validate.Struct(data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	year, err := api.svc.CreateAcademicYear(c, data)
	if err != nil {
		return errors.Wrap(err, "creating academic year")
	}
	return ctx.JSON(http.StatusCreated, year)
}

func (api *studentApi) setCurrentAcademicYear(ctx echo.Context) error {
	c, cancel := api.requestContext(ctx)
	defer cancel()

	year, err := api.svc.SetCurrentAcademicYear(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "setting current academic year")
	}
	return ctx.JSON(http.StatusOK, year)
}

func (api *studentApi) createGrade(ctx echo.Context) error {
	var data student.NewGrade
	if err := bind(ctx, api.Validate, &data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	grade, err := api.svc.CreateGrade(c, data)
	if err != nil {
		return errors.Wrap(err, "creating grade")
	}
	return ctx.JSON(http.StatusCreated, grade)
}

func (api *studentApi) createClass(ctx echo.Context) error {
	var data student.NewClass
	if err := bind(ctx, api.Validate, &data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	class, err := api.svc.CreateClass(c, data)
	if err != nil {
		return errors.Wrap(err, "creating class")
	}
	return ctx.JSON(http.StatusCreated, class)
}

func (api *studentApi) query(ctx echo.Context) error {
	filter := student.Filter{
		GradeID: ctx.QueryParam("grade_id"),
		ClassID: ctx.QueryParam("class_id"),
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	students, err := api.svc.QueryStudents(c, filter)
	if err != nil {
		return errors.Wrap(err, "querying students")
	}
	if students == nil {
		students = []student.Student{}
	}
	return ctx.JSON(http.StatusOK, students)
}

func (api *studentApi) create(ctx echo.Context) error {
	var data student.NewStudent
	if err := bind(ctx, api.Validate, &data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	st, err := api.svc.CreateStudent(c, data)
	if err != nil {
		return errors.Wrap(err, "creating student")
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *studentApi) retrieve(ctx echo.Context) error {
	c, cancel := api.requestContext(ctx)
	defer cancel()

	st, err := api.svc.GetStudent(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *studentApi) eligibility(ctx echo.Context) error {
	targetYear := ctx.QueryParam("target_year")
	if targetYear == "" {
		return core.NewValidationError(errors.New("target year required"), core.FieldError{Field: "target_year", Error: "this field is required"})
	}
	override, err := boolParam(ctx, "override")
	if err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	elig, err := api.svc.CheckPromotionEligibility(c, ctx.Param("id"), targetYear, override)
	if err != nil {
		return errors.Wrap(err, "checking promotion eligibility")
	}
	return ctx.JSON(http.StatusOK, elig)
}

func (api *studentApi) promote(ctx echo.Context) error {
	var data student.Promotion
	if err := bind(ctx, api.Validate, &data); err != nil {
		return err
	}

	// promotions touch many rows: no request timeout
	results, err := api.svc.PromoteStudents(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "promoting students")
	}
	for _, res := range results {
		api.Metrics.promotions.WithLabelValues(string(res.Status)).Inc()
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *studentApi) assignRollNumber(ctx echo.Context) error {
	var req rollNumberRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to rollNumberRequest")
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	id := ctx.Param("id")
	classID := req.ClassID
	if classID == "" {
		st, err := api.svc.GetStudent(c, id)
		if err != nil {
			return errors.Wrap(err, "getting student")
		}
		classID = st.ClassID
	}

	rn, err := api.svc.AssignRollNumber(c, id, classID)
	if err != nil {
		return errors.Wrap(err, "assigning roll number")
	}
	return ctx.JSON(http.StatusOK, rn)
}
