package schedule

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/chama/core"
)

var (
	weekdayMaskTag  = "weekdaymask"
	weekdayMaskText = "at least one weekday is required"
)

// InitValidators registers this package's custom validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(weekdayMaskTag, weekdayMaskValidation)
	core.RegisterCustomTranslation(validate, translator, weekdayMaskTag, weekdayMaskText)
}

// weekdayMaskValidation requires a non-empty 7-bit weekday set.
func weekdayMaskValidation(fl validator.FieldLevel) bool {
	return WeekdayMask(fl.Field().Uint()).IsValid()
}
