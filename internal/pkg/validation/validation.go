package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"propshare-backend/internal/domain"
	"propshare-backend/internal/pkg/sharemath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

var txHashRe = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

var validate *validator.Validate

var customTags = map[string]validator.Func{
	"wallet": func(fl validator.FieldLevel) bool {
		return IsValidWallet(fl.Field().String())
	},
	"txhash": func(fl validator.FieldLevel) bool {
		return IsValidTxHash(fl.Field().String())
	},
	"baseunits": func(fl validator.FieldLevel) bool {
		_, err := sharemath.ParseBaseUnits(fl.Field().String())
		return err == nil
	},
	"displayunits": func(fl validator.FieldLevel) bool {
		_, err := sharemath.ParseUnits(fl.Field().String())
		return err == nil
	},
}

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	for tag, fn := range customTags {
		if err := validate.RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("validation: register %q: %v", tag, err))
		}
	}
}

// IsValidWallet accepts a 0x-prefixed 20-byte hex address.
func IsValidWallet(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func IsValidTxHash(s string) bool {
	return txHashRe.MatchString(s)
}

// Struct validates v against its `validate` tags. Failures wrap
// domain.ErrValidation and name the first offending field.
func Struct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s", domain.ErrValidation, describe(fe))
	}
	return fmt.Errorf("%w: %v", domain.ErrValidation, err)
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required", "required_without":
		return field + " is required"
	case "excluded_with":
		return field + " cannot be combined with " + strings.ToLower(fe.Param())
	case "wallet":
		return field + " must be a 0x-prefixed 20-byte address"
	case "txhash":
		return field + " must be a 0x-prefixed 32-byte hash"
	case "baseunits":
		return field + " must be a non-negative integer in base units"
	case "displayunits":
		return field + " must be a decimal amount with at most 18 fractional digits"
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
