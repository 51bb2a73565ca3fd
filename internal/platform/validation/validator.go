package validation

import (
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	cdomain "github.com/corvusHold/certmail/internal/credential/domain"
)

type defaultValidator struct{ v *validator.Validate }

func (d *defaultValidator) Validate(i interface{}) error {
	return d.v.Struct(i)
}

// New returns an echo.Validator implementation with the app-specific tags
// registered.
func New() echo.Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("appsecret", func(fl validator.FieldLevel) bool {
		return cdomain.ValidateSecret(cdomain.NormalizeSecret(fl.Field().String())) == nil
	})
	return &defaultValidator{v: v}
}
