package cart

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
	"github.com/MikeMC777/storefront-checkout/internal/catalog"
)

// ErrInsufficientStock is the catalog sentinel, so callers can match either.
var (
	ErrInsufficientStock = catalog.ErrInsufficientStock
	ErrInvalidQuantity   = apperr.InvalidInput("quantity must be greater than zero")
)

// ProductSource is the slice of the catalog the cart needs.
type ProductSource interface {
	GetProductByID(ctx context.Context, id string) (*catalog.Product, error)
}

type Store struct {
	repo     Repository
	products ProductSource
	now      func() time.Time
}

func NewStore(repo Repository, products ProductSource) *Store {
	return &Store{repo: repo, products: products, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) CreateCart(ctx context.Context, currency string) (*Cart, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	c := &Cart{ID: uuid.NewString(), Currency: currency, Items: []Item{}}
	c.recalculate(s.now())
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	return c.clone(), nil
}

func (s *Store) GetCart(ctx context.Context, cartID string) (*Cart, error) {
	return s.repo.Get(ctx, cartID)
}

// AddItem adds quantity units of productID, merging into an existing line
// for the same product. The merged quantity must not exceed current stock.
func (s *Store) AddItem(ctx context.Context, cartID, productID string, quantity int) (*Cart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	return s.repo.Update(ctx, cartID, func(c *Cart) error {
		p, err := s.products.GetProductByID(ctx, productID)
		if err != nil {
			return err
		}
		want := quantity
		idx := c.productIndex(productID)
		if idx >= 0 {
			want += c.Items[idx].Quantity
		}
		if want > p.StockQuantity {
			return apperr.Wrap(ErrInsufficientStock,
				fmt.Errorf("product %s: requested %d, available %d", productID, want, p.StockQuantity))
		}
		if idx >= 0 {
			c.Items[idx].Quantity = want
		} else {
			snap := SnapshotOf(p)
			c.Items = append(c.Items, Item{
				ID:        uuid.NewString(),
				ProductID: p.ID,
				Quantity:  quantity,
				UnitPrice: p.EffectivePrice(),
				TaxRate:   snap.TaxRate,
				Product:   snap,
			})
		}
		c.recalculate(s.now())
		return nil
	})
}

// UpdateItem sets a line's quantity. A quantity of zero or less removes the
// line.
func (s *Store) UpdateItem(ctx context.Context, cartID, itemID string, quantity int) (*Cart, error) {
	return s.repo.Update(ctx, cartID, func(c *Cart) error {
		idx := c.itemIndex(itemID)
		if idx < 0 {
			return ErrItemNotFound
		}
		if quantity <= 0 {
			c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
			c.recalculate(s.now())
			return nil
		}
		p, err := s.products.GetProductByID(ctx, c.Items[idx].ProductID)
		if err != nil {
			return err
		}
		if quantity > p.StockQuantity {
			return apperr.Wrap(ErrInsufficientStock,
				fmt.Errorf("product %s: requested %d, available %d", p.ID, quantity, p.StockQuantity))
		}
		c.Items[idx].Quantity = quantity
		c.recalculate(s.now())
		return nil
	})
}

func (s *Store) RemoveItem(ctx context.Context, cartID, itemID string) (*Cart, error) {
	return s.repo.Update(ctx, cartID, func(c *Cart) error {
		idx := c.itemIndex(itemID)
		if idx < 0 {
			return ErrItemNotFound
		}
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
		c.recalculate(s.now())
		return nil
	})
}

// ClearCart empties the cart but keeps it addressable.
func (s *Store) ClearCart(ctx context.Context, cartID string) (*Cart, error) {
	return s.repo.Update(ctx, cartID, func(c *Cart) error {
		c.Items = []Item{}
		c.recalculate(s.now())
		return nil
	})
}

// DeleteCart destroys the cart; used once checkout completes.
func (s *Store) DeleteCart(ctx context.Context, cartID string) error {
	return s.repo.Delete(ctx, cartID)
}
