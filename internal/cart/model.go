package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront-checkout/internal/catalog"
)

var hundred = decimal.NewFromInt(100)

// ProductSnapshot freezes the catalog attributes of a product at the time it
// was added, so later catalog edits do not change an in-progress cart.
type ProductSnapshot struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	SKU             string           `json:"sku"`
	Slug            string           `json:"slug"`
	Price           decimal.Decimal  `json:"price"`
	DiscountedPrice *decimal.Decimal `json:"discounted_price,omitempty"`
	TaxRate         *decimal.Decimal `json:"tax_rate,omitempty"`
	IsDigital       bool             `json:"is_digital"`
}

func SnapshotOf(p *catalog.Product) ProductSnapshot {
	s := ProductSnapshot{
		ID:        p.ID,
		Name:      p.Name,
		SKU:       p.SKU,
		Slug:      p.Slug,
		Price:     p.Price,
		IsDigital: p.IsDigital,
	}
	if p.DiscountedPrice != nil {
		d := *p.DiscountedPrice
		s.DiscountedPrice = &d
	}
	if p.TaxRate != nil {
		r := *p.TaxRate
		s.TaxRate = &r
	}
	return s
}

type Item struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice decimal.Decimal  `json:"unit_price"`
	Subtotal  decimal.Decimal  `json:"subtotal"`
	TaxRate   *decimal.Decimal `json:"tax_rate,omitempty"`
	Product   ProductSnapshot  `json:"product"`
}

type Cart struct {
	ID        string          `json:"id"`
	Currency  string          `json:"currency"`
	Items     []Item          `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxTotal  decimal.Decimal `json:"tax_total"`
	Total     decimal.Decimal `json:"total"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (c *Cart) IsEmpty() bool { return len(c.Items) == 0 }

// AllDigital reports whether no line needs physical delivery.
func (c *Cart) AllDigital() bool {
	for _, it := range c.Items {
		if !it.Product.IsDigital {
			return false
		}
	}
	return true
}

func (c *Cart) itemIndex(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func (c *Cart) productIndex(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// recalculate restores subtotal = Σ item.subtotal and
// total = subtotal + taxTotal. It runs after every mutation.
func (c *Cart) recalculate(now time.Time) {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for i := range c.Items {
		it := &c.Items[i]
		it.Subtotal = it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		subtotal = subtotal.Add(it.Subtotal)
		if it.TaxRate != nil {
			tax = tax.Add(it.Subtotal.Mul(*it.TaxRate).Div(hundred))
		}
	}
	c.Subtotal = subtotal
	c.TaxTotal = tax.Round(2)
	c.Total = c.Subtotal.Add(c.TaxTotal)
	c.UpdatedAt = now
}

func (c *Cart) clone() *Cart {
	cp := *c
	cp.Items = make([]Item, len(c.Items))
	copy(cp.Items, c.Items)
	return &cp
}
