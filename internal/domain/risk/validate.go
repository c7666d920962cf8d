package risk

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	domainerrors "github.com/davidleathers/risk-scoring-engine/internal/domain/errors"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator with decimal support registered.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if d, ok := field.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// Validate rejects a context that is missing any required field.
func (tc *TransactionContext) Validate() error {
	if tc == nil {
		return domainerrors.NewValidationError("MISSING_TRANSACTION", "transaction context is required")
	}

	err := Validator().Struct(tc)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domainerrors.NewValidationError("INVALID_TRANSACTION", err.Error())
	}

	fields := make(map[string]interface{}, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		ns := fe.Namespace()
		if idx := strings.Index(ns, "."); idx >= 0 {
			ns = ns[idx+1:]
		}
		fields[ns] = fe.Tag()
		names = append(names, ns)
	}

	return domainerrors.NewValidationError("INVALID_TRANSACTION",
		fmt.Sprintf("invalid transaction fields: %s", strings.Join(names, ", "))).
		WithDetails(fields)
}
