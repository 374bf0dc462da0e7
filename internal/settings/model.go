// Package settings is the typed, encrypted-at-rest key/value configuration
// that drives payment behaviour (bank details, gateway credentials,
// deadlines). Reads go through a TTL cache.
package settings

import "time"

type Type string

const (
	TypeString    Type = "string"
	TypeNumber    Type = "number"
	TypeBoolean   Type = "boolean"
	TypeJSON      Type = "json"
	TypeEncrypted Type = "encrypted"
)

func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeJSON, TypeEncrypted:
		return true
	}
	return false
}

// Setting is the persisted row. Value holds the encoded, and possibly
// encrypted, representation.
type Setting struct {
	ID          string    `json:"id"`
	Category    string    `json:"category"`
	Key         string    `json:"key"`
	Type        Type      `json:"type"`
	Value       string    `json:"-"`
	IsSensitive bool      `json:"is_sensitive"`
	IsActive    bool      `json:"is_active"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// encrypted reports whether the stored value is ciphertext.
func (s *Setting) encrypted() bool { return s.IsSensitive || s.Type == TypeEncrypted }

// Value is a decoded setting as returned to callers.
// swagger:model SettingValue
type Value struct {
	Category    string `json:"category"    example:"payment"`
	Key         string `json:"key"         example:"bank_name"`
	Type        Type   `json:"type"        example:"string"`
	Value       any    `json:"value"`
	IsSensitive bool   `json:"is_sensitive"`
	Description string `json:"description,omitempty"`
}

// Input is an upsert request. IsActive defaults to true.
// swagger:model SettingInput
type Input struct {
	Category    string `json:"category"`
	Key         string `json:"key"`
	Type        Type   `json:"type"        example:"string"`
	Value       any    `json:"value"`
	IsSensitive bool   `json:"is_sensitive"`
	IsActive    *bool  `json:"is_active,omitempty"`
	Description string `json:"description,omitempty"`
}

// BankDetails is what a customer needs to pay by bank transfer.
// swagger:model BankDetails
type BankDetails struct {
	BankName      string `json:"bankName"`
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	RoutingNumber string `json:"routingNumber,omitempty"`
	SwiftCode     string `json:"swiftCode,omitempty"`
	Instructions  string `json:"instructions,omitempty"`
	DeadlineHours int    `json:"paymentDeadlineHours" example:"24"`
}
