package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/relvacode/iso8601"

	"github.com/sells-group/adform-extractor/internal/failure"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Validate checks the job parameters and the connector settings and returns
// a single ConfigValidation failure listing every problem.
func (c *Config) Validate() error {
	var fields []failure.FieldError

	if err := validate.Struct(c.Parameters); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return failure.Wrap(failure.ConfigValidation, err, "validate parameters")
		}
		for _, fe := range verrs {
			fields = append(fields, failure.FieldError{
				Field:   strings.TrimPrefix(fe.Namespace(), "Parameters."),
				Message: fieldMessage(fe),
			})
		}
	}

	if _, err := c.Parameters.Source.End(); err != nil {
		fields = append(fields, failure.FieldError{Field: "source.date_to", Message: err.Error()})
	}
	if _, err := c.Engine.MemoryLimitSize(); err != nil {
		fields = append(fields, failure.FieldError{Field: "engine.memory_limit", Message: "invalid size"})
	}
	if c.Engine.Threads < 1 {
		fields = append(fields, failure.FieldError{Field: "engine.threads", Message: "must be at least 1"})
	}
	if c.API.PageSize < 1 {
		fields = append(fields, failure.FieldError{Field: "api.page_size", Message: "must be at least 1"})
	}

	if len(fields) > 0 {
		return failure.Validation(fields)
	}
	return nil
}

// End returns the configured window end, or the zero time when the window
// ends now.
func (s Source) End() (time.Time, error) {
	dateTo := strings.TrimSpace(s.DateTo)
	if dateTo == "" || strings.EqualFold(dateTo, "now") {
		return time.Time{}, nil
	}
	t, err := iso8601.ParseString(dateTo)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ISO-8601 date %q", s.DateTo)
	}
	return t.UTC(), nil
}

// Interval returns the window length from days_interval and hours_interval.
func (s Source) Interval() time.Duration {
	var d time.Duration
	if s.DaysInterval != nil {
		d += time.Duration(*s.DaysInterval) * 24 * time.Hour
	}
	if s.HoursInterval != nil {
		d += time.Duration(*s.HoursInterval) * time.Hour
	}
	return d
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field required"
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "min":
		if fe.Kind() == reflect.Slice {
			return "must contain at least " + fe.Param() + " item(s)"
		}
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
