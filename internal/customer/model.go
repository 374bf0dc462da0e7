package customer

import (
	"net/mail"
	"strings"
	"time"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
)

type Customer struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Info identifies a shopper at checkout.
// swagger:model CustomerInfo
type Info struct {
	Email     string `json:"email"     example:"ana@example.com"`
	FirstName string `json:"firstName" example:"Ana"`
	LastName  string `json:"lastName"  example:"Pérez"`
	Phone     string `json:"phone,omitempty" example:"+57 300 000 0000"`
}

func (i Info) Normalized() Info {
	i.Email = strings.ToLower(strings.TrimSpace(i.Email))
	i.FirstName = strings.TrimSpace(i.FirstName)
	i.LastName = strings.TrimSpace(i.LastName)
	i.Phone = strings.TrimSpace(i.Phone)
	return i
}

func (i Info) Validate() error {
	if i.Email == "" {
		return apperr.InvalidInput("customer email is required")
	}
	if _, err := mail.ParseAddress(i.Email); err != nil {
		return apperr.InvalidInput("customer email is invalid")
	}
	return nil
}

type AddressKind string

const (
	AddressShipping AddressKind = "shipping"
	AddressBilling  AddressKind = "billing"
)

// Address is a postal address as submitted at checkout.
// swagger:model Address
type Address struct {
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Line1      string `json:"line1"      example:"Calle 10 # 5-20"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"       example:"Bogotá"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"    example:"CO"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Validate() error {
	if strings.TrimSpace(a.Line1) == "" || strings.TrimSpace(a.City) == "" || strings.TrimSpace(a.Country) == "" {
		return apperr.InvalidInput("address requires line1, city and country")
	}
	return nil
}
