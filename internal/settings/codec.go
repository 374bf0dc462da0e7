package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

// Encode renders v as the stored string for type t.
func Encode(t Type, v any) (string, error) {
	switch t {
	case TypeString, TypeEncrypted:
		switch s := v.(type) {
		case string:
			return s, nil
		case nil:
			return "", nil
		default:
			return fmt.Sprint(s), nil
		}
	case TypeNumber:
		d, err := toDecimal(v)
		if err != nil {
			return "", apperr.InvalidInput(fmt.Sprintf("value %v is not a number", v))
		}
		return d.String(), nil
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return strconv.FormatBool(b), nil
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(b))
			if err != nil {
				return "", apperr.InvalidInput(fmt.Sprintf("value %q is not a boolean", b))
			}
			return strconv.FormatBool(parsed), nil
		}
		return "", apperr.InvalidInput(fmt.Sprintf("value %v is not a boolean", v))
	case TypeJSON:
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return s, nil
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return "", apperr.InvalidInput("value is not JSON encodable")
		}
		return string(raw), nil
	}
	return "", apperr.InvalidInput(fmt.Sprintf("unknown setting type %q", t))
}

// Decode parses a stored string back into a typed value: string for string
// and encrypted, float64 for number, bool for boolean and the unmarshalled
// document for json.
func Decode(t Type, raw string) (any, error) {
	switch t {
	case TypeString, TypeEncrypted:
		return raw, nil
	case TypeNumber:
		return strconv.ParseFloat(raw, 64)
	case TypeBoolean:
		return strconv.ParseBool(raw)
	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("unknown setting type %q", t)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(n))
	}
	return decimal.Decimal{}, fmt.Errorf("unsupported number %T", v)
}
