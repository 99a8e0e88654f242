package echoapi

import (
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

const (
	orderingParam = "ordering"
	dateLayout    = "2006-01-02"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field == "" {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// Date is a calendar day on the wire: "2006-01-02". RFC 3339 timestamps are accepted too.
type Date struct {
	time.Time
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Errorf("%q is not a date (YYYY-MM-DD)", s)
	}
	return t, nil
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		d.Time = time.Time{}
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return errors.Errorf("invalid date %s", b)
	}
	if s == "" {
		d.Time = time.Time{}
		return nil
	}
	t, err := parseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func (d Date) Ptr() *time.Time {
	if d.IsZero() {
		return nil
	}
	return &d.Time
}

// bind decodes the request body into dst and runs the struct validators.
func bind(ctx echo.Context, validate *validator.Validate, dst interface{}) error {
	if err := ctx.Bind(dst); err != nil {
		return core.NewValidationError(errors.New("malformed request body"), core.FieldError{Field: "body", Error: bindMessage(err)})
	}
	if err := validate.Struct(dst); err != nil {
		return err
	}
	return nil
}

func bindMessage(err error) string {
	if herr, ok := err.(*echo.HTTPError); ok {
		if msg, ok := herr.Message.(string); ok {
			return msg
		}
	}
	return err.Error()
}

// dateParam reads an optional YYYY-MM-DD query parameter.
func dateParam(ctx echo.Context, name string) (*time.Time, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return nil, nil
	}
	t, err := parseDate(val)
	if err != nil {
		return nil, core.NewValidationError(err, core.FieldError{Field: name, Error: err.Error()})
	}
	return &t, nil
}

// boolParam reads an optional boolean query parameter.
func boolParam(ctx echo.Context, name string) (bool, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, core.NewValidationError(err, core.FieldError{Field: name, Error: "must be true or false"})
	}
	return b, nil
}
