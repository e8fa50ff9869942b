package session

import (
	"math"
	"regexp"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// ValidationError carries every input violation found in one pass so the
// caller can display all of them at once.
type ValidationError struct {
	Violations []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "session: validation failed"
	}
	return "session: validation failed: " + strings.Join(e.Violations, "; ")
}

var (
	emailShapeRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[A-Za-z]{2,}$`)
	digitsOnlyRe = regexp.MustCompile(`^[0-9]{10}$`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// NewValidator builds the validator used for payment intent input. All rules
// run together; violations are never short-circuited.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("emailshape", func(fl validator.FieldLevel) bool {
		return emailShapeRe.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	_ = v.RegisterValidation("phone10", func(fl validator.FieldLevel) bool {
		return digitsOnlyRe.MatchString(NormalizePhone(fl.Field().String()))
	})
	_ = v.RegisterValidation("posfinite", func(fl validator.FieldLevel) bool {
		amount := fl.Field().Float()
		return amount > 0 && !math.IsInf(amount, 0) && !math.IsNaN(amount)
	})
	return v
}

// NormalizePhone strips all whitespace from the provided phone number.
func NormalizePhone(phone string) string {
	return whitespaceRe.ReplaceAllString(phone, "")
}

type intentInput struct {
	ItemRef string   `validate:"required"`
	Email   string   `validate:"required,emailshape"`
	Phone   string   `validate:"required,phone10"`
	UserID  string   `validate:"required"`
	Amount  *float64 `validate:"omitempty,posfinite"`
}

var violationMessages = map[string]string{
	"ItemRef": "item reference is required",
	"Email":   "email must match local@domain.tld",
	"Phone":   "phone must contain exactly 10 digits",
	"UserID":  "user id is required",
	"Amount":  "amount must be a positive finite number",
}

// fieldOrder keeps the violation list deterministic for display and tests.
var fieldOrder = []string{"ItemRef", "Email", "Phone", "UserID", "Amount"}

func validateIntent(v *validator.Validate, intent PaymentIntent) *ValidationError {
	input := intentInput{
		ItemRef: strings.TrimSpace(intent.ItemRef),
		Email:   strings.TrimSpace(intent.Payer.Email),
		Phone:   intent.Payer.Phone,
		UserID:  strings.TrimSpace(intent.Payer.ID),
		Amount:  intent.Amount,
	}
	err := v.Struct(input)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return &ValidationError{Violations: []string{err.Error()}}
	}
	failed := make(map[string]bool, len(fieldErrs))
	for _, fe := range fieldErrs {
		failed[fe.StructField()] = true
	}
	violations := make([]string, 0, len(failed))
	for _, field := range fieldOrder {
		if failed[field] {
			violations = append(violations, violationMessages[field])
		}
	}
	return &ValidationError{Violations: violations}
}
