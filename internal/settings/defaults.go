package settings

import (
	"context"
	"math"
	"strings"
)

const (
	CategoryPayment = "payment"
	CategoryGateway = "gateway"
	CategoryStore   = "store"

	DefaultDeadlineHours = 24
	DefaultCurrency      = "USD"
)

func Defaults() []Input {
	return []Input{
		{Category: CategoryPayment, Key: "bank_name", Type: TypeString, Value: "Storefront Bank", Description: "Bank receiving transfers"},
		{Category: CategoryPayment, Key: "account_name", Type: TypeString, Value: "Storefront Inc.", Description: "Account holder"},
		{Category: CategoryPayment, Key: "account_number", Type: TypeString, Value: "0000000000", IsSensitive: true, Description: "Account number"},
		{Category: CategoryPayment, Key: "routing_number", Type: TypeString, Value: "000000000", IsSensitive: true, Description: "Routing number"},
		{Category: CategoryPayment, Key: "swift_code", Type: TypeString, Value: "", Description: "SWIFT/BIC code"},
		{Category: CategoryPayment, Key: "bank_transfer_instructions", Type: TypeString,
			Value: "Use your order number as the transfer reference.", Description: "Shown with bank details"},
		{Category: CategoryPayment, Key: "payment_deadline_hours", Type: TypeNumber, Value: DefaultDeadlineHours, Description: "Hours to pay a bank transfer order"},
		{Category: CategoryPayment, Key: "mock_gateway_enabled", Type: TypeBoolean, Value: true, Description: "Accept mock and card_test payments"},
		{Category: CategoryGateway, Key: "api_key", Type: TypeEncrypted, Value: "", Description: "Gateway API key"},
		{Category: CategoryGateway, Key: "secret_key", Type: TypeEncrypted, Value: "", Description: "Gateway secret key"},
		{Category: CategoryGateway, Key: "webhook_secret", Type: TypeEncrypted, Value: "", Description: "Gateway webhook signing secret"},
		{Category: CategoryStore, Key: "currency", Type: TypeString, Value: DefaultCurrency, Description: "Default cart currency"},
		{Category: CategoryStore, Key: "name", Type: TypeString, Value: "Storefront", Description: "Store display name"},
	}
}

func (s *Store) stringSetting(ctx context.Context, category, key string) (string, error) {
	v, err := s.GetSetting(ctx, category, key, true)
	if err != nil || v == nil {
		return "", err
	}
	str, _ := v.Value.(string)
	return str, nil
}

// PaymentDeadlineHours falls back to 24 when unset or not positive.
func (s *Store) PaymentDeadlineHours(ctx context.Context) (int, error) {
	v, err := s.GetSetting(ctx, CategoryPayment, "payment_deadline_hours", true)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return DefaultDeadlineHours, nil
	}
	f, ok := v.Value.(float64)
	if !ok || f < 1 {
		return DefaultDeadlineHours, nil
	}
	return int(math.Round(f)), nil
}

func (s *Store) StoreCurrency(ctx context.Context) (string, error) {
	c, err := s.stringSetting(ctx, CategoryStore, "currency")
	if err != nil {
		return "", err
	}
	if c = strings.ToUpper(strings.TrimSpace(c)); c == "" {
		return DefaultCurrency, nil
	}
	return c, nil
}

// MockGatewayEnabled defaults to true when the flag is absent.
func (s *Store) MockGatewayEnabled(ctx context.Context) (bool, error) {
	v, err := s.GetSetting(ctx, CategoryPayment, "mock_gateway_enabled", true)
	if err != nil || v == nil {
		return true, err
	}
	b, ok := v.Value.(bool)
	return !ok || b, nil
}

func (s *Store) BankDetails(ctx context.Context) (BankDetails, error) {
	var (
		d   BankDetails
		err error
	)
	for _, f := range []struct {
		key string
		dst *string
	}{
		{"bank_name", &d.BankName},
		{"account_name", &d.AccountName},
		{"account_number", &d.AccountNumber},
		{"routing_number", &d.RoutingNumber},
		{"swift_code", &d.SwiftCode},
		{"bank_transfer_instructions", &d.Instructions},
	} {
		if *f.dst, err = s.stringSetting(ctx, CategoryPayment, f.key); err != nil {
			return BankDetails{}, err
		}
	}
	if d.DeadlineHours, err = s.PaymentDeadlineHours(ctx); err != nil {
		return BankDetails{}, err
	}
	return d, nil
}
