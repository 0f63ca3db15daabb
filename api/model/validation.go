package model

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"appcore/api/apperr"
)

var dns1123Re = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Resource names become substrate object names.
		_ = validate.RegisterValidation("dns1123", func(fl validator.FieldLevel) bool {
			v := fl.Field().String()
			return len(v) <= 63 && dns1123Re.MatchString(v)
		})
	})
	return validate
}

// Validate checks struct tags on a request and returns a validation-class
// error listing every offending field.
func Validate(op string, req any) error {
	err := validatorInstance().Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(op, "%v", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldMessage(fe))
	}
	sort.Strings(fields)
	return apperr.Validation(op, "%s", strings.Join(fields, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "dns1123":
		return fmt.Sprintf("%s must be a lowercase DNS-1123 label", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
