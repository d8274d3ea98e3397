// Package validation содержит функции валидации входных данных.
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/mmeshcher/digibite-marketplace/internal/model"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

// Error описывает ошибку разбора или валидации тела запроса.
type Error struct {
	Message string
	Fields  map[string]string
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return e.Message + ": " + strings.Join(parts, ", ")
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return f.Name
		}
		return tag
	})

	mustRegister(v, "payment_method", func(fl validator.FieldLevel) bool {
		return model.PaymentMethod(fl.Field().String()).Valid()
	})
	mustRegister(v, "order_status", func(fl validator.FieldLevel) bool {
		_, err := model.ParseOrderStatus(fl.Field().String())
		return err == nil
	})
	mustRegister(v, "account_number", func(fl validator.FieldLevel) bool {
		return IsValidAccountNumber(fl.Field().String())
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validator %s: %v", tag, err))
	}
}

// IsValidAccountNumber проверяет номер банковского счёта: от 6 до 20 цифр, допускаются пробелы и дефисы.
func IsValidAccountNumber(number string) bool {
	digits := 0
	for _, ch := range number {
		switch {
		case unicode.IsDigit(ch):
			digits++
		case ch == ' ' || ch == '-':
		default:
			return false
		}
	}
	return digits >= 6 && digits <= 20
}

// Struct проверяет структуру по тегам validate.
func Struct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

// DecodeJSON читает JSON из тела запроса в dest и проверяет его по тегам validate.
func DecodeJSON(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()

	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return &Error{Message: "invalid request body", Fields: map[string]string{"body": err.Error()}}
	}
	return Struct(dest)
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return &Error{Message: "validation failed", Fields: map[string]string{"body": err.Error()}}
	}

	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Namespace()[strings.Index(fe.Namespace(), ".")+1:]] = validationMessage(fe)
	}
	return &Error{Message: "validation failed", Fields: fields}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "payment_method":
		return "must be gateway or cash"
	case "order_status":
		return "must be a known order status"
	case "account_number":
		return "must contain 6 to 20 digits"
	}
	return "is invalid"
}
