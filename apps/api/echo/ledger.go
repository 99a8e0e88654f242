package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/shule/core/ledger"
)

type (
	ledgerApi struct {
		*Server
		svc *ledger.Service
	}

	voucherRequest struct {
		Type      ledger.VoucherType `json:"type"`
		Date      Date               `json:"date"`
		Narration string             `json:"narration"`
		Entries   []ledger.NewEntry  `json:"entries"`
	}

	reversalRequest struct {
		Date Date `json:"date"`
	}

	balanceResponse struct {
		LedgerID string          `json:"ledger_id"`
		AsOf     *time.Time      `json:"as_of,omitempty"`
		Balance  decimal.Decimal `json:"balance"`
	}
)

func registerLedgerAPI(v1 *echo.Group, s *Server) {
	api := ledgerApi{Server: s, svc: s.Ledger}

	g := v1.Group("/ledger", rolesMiddleware(RoleAdmin, RoleAccountant))
	g.GET("/groups", api.queryGroups)
	g.POST("/groups", api.createGroup)
	g.GET("/ledgers", api.queryLedgers)
	g.POST("/ledgers", api.createLedger)
	g.GET("/ledgers/:id", api.retrieveLedger)
	g.GET("/ledgers/:id/balance", api.balance)
	g.GET("/ledgers/:id/statement", api.statement)
	g.GET("/trial-balance", api.trialBalance)
	g.GET("/vouchers", api.queryVouchers)
	g.POST("/vouchers", api.postVoucher)
	g.GET("/vouchers/:id", api.retrieveVoucher)
	g.POST("/vouchers/:id/reverse", api.reverseVoucher)
}

func (api *ledgerApi) queryGroups(ctx echo.Context) error {
	c, cancel := api.requestContext(ctx)
	defer cancel()

	groups, err := api.svc.QueryGroups(c)
	if err != nil {
		return errors.Wrap(err, "querying groups")
	}
	if groups == nil {
		groups = []ledger.Group{}
	}
	return ctx.JSON(http.StatusOK, groups)
}

func (api *ledgerApi) createGroup(ctx echo.Context) error {
	var data ledger.NewGroup
	if err := bind(ctx, api.Validate, &data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	grp, err := api.svc.CreateGroup(c, data)
	if err != nil {
		return errors.Wrap(err, "creating group")
	}
	return ctx.JSON(http.StatusCreated, grp)
}

func (api *ledgerApi) queryLedgers(ctx echo.Context) error {
	filter := ledger.LedgerFilter{
		GroupID:  ctx.QueryParam("group_id"),
		Category: ledger.Category(ctx.QueryParam("category")),
		Search:   ctx.QueryParam("search"),
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	ledgers, err := api.svc.QueryLedgers(c, filter)
	if err != nil {
		return errors.Wrap(err, "querying ledgers")
	}
	if ledgers == nil {
		ledgers = []ledger.Ledger{}
	}
	return ctx.JSON(http.StatusOK, ledgers)
}

func (api *ledgerApi) createLedger(ctx echo.Context) error {
	var data ledger.NewLedger
	if err := bind(ctx, api.Validate, &data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	ldg, err := api.svc.CreateLedger(c, data)
	if err != nil {
		return errors.Wrap(err, "creating ledger")
	}
	return ctx.JSON(http.StatusCreated, ldg)
}

func (api *ledgerApi) retrieveLedger(ctx echo.Context) error {
	c, cancel := api.requestContext(ctx)
	defer cancel()

	ldg, err := api.svc.GetLedger(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting ledger")
	}
	return ctx.JSON(http.StatusOK, ldg)
}

func (api *ledgerApi) balance(ctx echo.Context) error {
	asOf, err := dateParam(ctx, "as_of")
	if err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	id := ctx.Param("id")
	bal, err := api.svc.GetLedgerBalance(c, id, asOf)
	if err != nil {
		return errors.Wrap(err, "getting ledger balance")
	}
	return ctx.JSON(http.StatusOK, balanceResponse{LedgerID: id, AsOf: asOf, Balance: bal})
}

func (api *ledgerApi) statement(ctx echo.Context) error {
	from, err := dateParam(ctx, "from")
	if err != nil {
		return err
	}
	to, err := dateParam(ctx, "to")
	if err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	stmt, err := api.svc.LedgerStatement(c, ctx.Param("id"), from, to)
	if err != nil {
		return errors.Wrap(err, "building ledger statement")
	}
	return ctx.JSON(http.StatusOK, stmt)
}

func (api *ledgerApi) trialBalance(ctx echo.Context) error {
	asOf, err := dateParam(ctx, "as_of")
	if err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	tb, err := api.svc.TrialBalance(c, asOf)
	if err != nil {
		return errors.Wrap(err, "building trial balance")
	}
	return ctx.JSON(http.StatusOK, tb)
}

func (api *ledgerApi) queryVouchers(ctx echo.Context) error {
	from, err := dateParam(ctx, "from")
	if err != nil {
		return err
	}
	to, err := dateParam(ctx, "to")
	if err != nil {
		return err
	}
	filter := ledger.VoucherFilter{
		Type:     ledger.VoucherType(ctx.QueryParam("type")),
		From:     from,
		To:       to,
		LedgerID: ctx.QueryParam("ledger_id"),
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	c, cancel := api.requestContext(ctx)
	defer cancel()

	vouchers, err := api.svc.QueryVouchers(c, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying vouchers")
	}
	if vouchers == nil {
		vouchers = []ledger.Voucher{}
	}
	return ctx.JSON(http.StatusOK, vouchers)
}

func (api *ledgerApi) postVoucher(ctx echo.Context) error {
	var req voucherRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to voucherRequest")
	}
	data := ledger.NewVoucher{Type: req.Type, Date: req.Date.Time, Narration: req.Narration, Entries: req.Entries}
	if err := api.Validate.Struct(data); err != nil {
		return err
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	v, err := api.svc.PostVoucher(c, data)
	if err != nil {
		return errors.Wrap(err, "posting voucher")
	}
	api.Metrics.vouchersPosted.WithLabelValues(string(v.Type)).Inc()
	return ctx.JSON(http.StatusCreated, v)
}

func (api *ledgerApi) retrieveVoucher(ctx echo.Context) error {
	c, cancel := api.requestContext(ctx)
	defer cancel()

	v, err := api.svc.GetVoucher(c, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting voucher")
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *ledgerApi) reverseVoucher(ctx echo.Context) error {
	var req reversalRequest
	if err := ctx.Bind(&req); err != nil {
		return errors.Wrap(err, "binding to reversalRequest")
	}

	c, cancel := api.requestContext(ctx)
	defer cancel()

	v, err := api.svc.ReverseVoucher(c, ctx.Param("id"), req.Date.Ptr())
	if err != nil {
		return errors.Wrap(err, "reversing voucher")
	}
	api.Metrics.vouchersReversed.Inc()
	return ctx.JSON(http.StatusCreated, v)
}
