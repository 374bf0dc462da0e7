package catalog

import (
	"github.com/shopspring/decimal"
)

// Product is the catalog view the checkout needs. Money is decimal;
// StockQuantity is the units currently available for sale.
type Product struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	SKU             string           `json:"sku"`
	Slug            string           `json:"slug"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discounted_price,omitempty"`
	TaxRate         *decimal.Decimal `json:"tax_rate,omitempty"`
	StockQuantity   int              `json:"stock_quantity"`
	IsDigital       bool             `json:"is_digital"`
}

// EffectivePrice is what a shopper pays per unit: the discounted price when
// one is set and positive, otherwise the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountedPrice != nil && p.DiscountedPrice.IsPositive() {
		return *p.DiscountedPrice
	}
	return p.Price
}
