package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core/student"
)

type (
	feeApi struct {
		*Server
		svc *student.Service
	}

	feeCategoryRequest struct {
		Name             string                `json:"name"`
		Description      string                `json:"description"`
		DueDate          Date                  `json:"due_date"`
		InstallmentCount int                   `json:"installment_count"`
		Amounts          []student.GradeAmount `json:"amounts"`
	}

	paymentRequest struct {
		Amount          decimal.Decimal `json:"amount"`
		Date            Date            `json:"date"`
		DepositLedgerID string          `json:"deposit_ledger_id"`
		IncomeLedgerID  string          `json:"income_ledger_id"`
		Narration       string          `json:"narration"`
	}
)

func registerFeeAPI(v1 *echo.Group, s *Server) {
	api := feeApi{Server: s, svc: s.School}

	g := v1.Group("/fees", rolesMiddleware(RoleAdmin, RoleAccountant))
	g.GET("", api.query)
	g.POST("/categories", api.createCategory)
	g.GET("/categories/:id", api.retrieveCategory)
	g.POST("/categories/:id/grades/:grade_id", api.assignToGrade)
	g.POST("/assignments", api.assignToStudent)
	g.POST("/reminders", api.sendReminders)
	g.GET("/:id", api.retrieve)
	g.POST("/:id/payments", api.recordPayment)
}

func (api *feeApi) query(ctx echo.Context) error {
	pending, err := boolParam(ctx, "pending")
	if err != nil {
		return err
	}
	filter := student.FeeFilter{
		StudentID:      ctx.QueryParam("student_id"),
		AcademicYearID: ctx.QueryParam("academic_year_id"),
		PendingOnly:    pending,
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	fees, err := api.svc.QueryStudentFees(c, filter)
	if err != nil {
		return errors.Wrap(err, "querying student fees")
	}
	if fees == nil {
		fees = []student.StudentFee{}
	}
	return ctx.JSON(http.StatusOK, fees)
}

func (api *feeApi) createCategory(ctx echo.Context) error {
	var req feeCategoryRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to feeCategoryRequest")
	}
	data := student.NewFeeCategory{
		Name:             req.Name,
		Description:      req.Description,
		DueDate:          req.DueDate.Time,
		InstallmentCount: req.InstallmentCount,
		Amounts:          req.Amounts,
	}
	if err := api.Validate.Struct(data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	cat, err := api.svc.CreateFeeCategory(c, data)
	if err != nil {
		return errors.Wrap(err, "creating fee category")
	}
	return ctx.JSON(http.StatusCreated, cat)
}

func (api *feeApi) retrieveCategory(ctx echo.Context) error {
	c, cancel := api.requestContext(ctx)
	defer cancel()

	cat, err := api.svc.GetFeeCategory(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting fee category")
	}
	return ctx.JSON(http.StatusOK, cat)
}

func (api *feeApi) assignToGrade(ctx echo.Context) error {
	// one fee per student of the grade: no request timeout
	results, err := api.svc.AssignFeeCategoryToGrade(ctx.Request().Context(), ctx.Param("id"), ctx.Param("grade_id"))
	if err != nil {
		return errors.Wrap(err, "assigning fee category to grade")
	}
	return ctx.JSON(http.StatusOK, results)
}

func (api *feeApi) assignToStudent(ctx echo.Context) error {
	var data student.NewStudentFee
	if err := bind(ctx, api.Validate, &data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	fee, err := api.svc.AssignFeeCategoryToStudent(c, data)
	if err != nil {
		return errors.Wrap(err, "assigning fee category to student")
	}
	return ctx.JSON(http.StatusCreated, fee)
}

func (api *feeApi) retrieve(ctx echo.Context) error {
	c, cancel := api.requestContext(ctx)
	defer cancel()

	fee, err := api.svc.GetStudentFee(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting student fee")
	}
	return ctx.JSON(http.StatusOK, fee)
}

func (api *feeApi) recordPayment(ctx echo.Context) error {
	var req paymentRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to paymentRequest")
	}
	data := student.FeePayment{
		StudentFeeID:    ctx.Param("id"),
		Amount:          req.Amount,
		Date:            req.Date.Time,
		DepositLedgerID: req.DepositLedgerID,
		IncomeLedgerID:  req.IncomeLedgerID,
		Narration:       req.Narration,
	}
	if err := api.Validate.Struct(data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	receipt, err := api.svc.RecordFeePayment(c, data)
	if err != nil {
		return errors.Wrap(err, "recording fee payment")
	}
	api.Metrics.payments.Inc()
	return ctx.JSON(http.StatusCreated, receipt)
}

func (api *feeApi) sendReminders(ctx echo.Context) error {
	sent, err := api.svc.SendFeeReminders(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "sending fee reminders")
	}
	api.Metrics.remindersSent.Add(float64(sent))
	return ctx.JSON(http.StatusOK, echo.Map{"sent": sent})
}
