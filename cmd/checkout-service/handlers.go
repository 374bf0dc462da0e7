package main

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/storefront-checkout/internal/cart"
	"github.com/MikeMC777/storefront-checkout/internal/checkout"
	"github.com/MikeMC777/storefront-checkout/internal/httpx"
	"github.com/MikeMC777/storefront-checkout/internal/order"
	"github.com/MikeMC777/storefront-checkout/internal/payment"
	"github.com/MikeMC777/storefront-checkout/internal/settings"
)

type checkoutAPI interface {
	ProcessCheckout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
	GetAttempt(ctx context.Context, key string) (*checkout.Attempt, error)
}

type orderAPI interface {
	GetOrder(ctx context.Context, orderID string) (*order.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]order.Item, error)
	VerifyPayment(ctx context.Context, orderID string, verified bool) (*order.Order, error)
	CancelOrder(ctx context.Context, orderID, reason string) (*order.Order, error)
	UpdateOrderWithPickupDetails(ctx context.Context, orderID string, d order.PickupDetails) (*order.Order, error)
	GetOrdersWithExpiredPaymentDeadline(ctx context.Context, now time.Time, limit int) ([]order.Order, error)
}

type paymentAPI interface {
	BankDetails(ctx context.Context) (settings.BankDetails, error)
	GetPaymentsByOrder(ctx context.Context, orderID string) ([]payment.Payment, error)
	VerifyPayment(ctx context.Context, paymentID string, status payment.Status, proofURL *string) (*payment.Payment, error)
	UploadProof(ctx context.Context, paymentID, filename string, r io.Reader) (string, error)
}

type cartAPI interface {
	CreateCart(ctx context.Context, currency string) (*cart.Cart, error)
	GetCart(ctx context.Context, cartID string) (*cart.Cart, error)
	AddItem(ctx context.Context, cartID, productID string, quantity int) (*cart.Cart, error)
	UpdateItem(ctx context.Context, cartID, itemID string, quantity int) (*cart.Cart, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (*cart.Cart, error)
	ClearCart(ctx context.Context, cartID string) (*cart.Cart, error)
}

type settingsAPI interface {
	GetSetting(ctx context.Context, category, key string, decrypt bool) (*settings.Value, error)
	GetSettingsByCategory(ctx context.Context, category string, includeSensitive, decrypt bool) ([]settings.Value, error)
	UpsertSetting(ctx context.Context, in settings.Input) (*settings.Value, error)
	DeleteSetting(ctx context.Context, category, key string) error
	StoreCurrency(ctx context.Context) (string, error)
}

// ---------- checkout ----------

// checkoutHandler godoc
// @Summary  Check out a cart
// @Tags     checkout
// @Accept   json
// @Produce  json
// @Param    Idempotency-Key header string false "Replays return the first result"
// @Param    body body checkout.Request true "Checkout request"
// @Success  201 {object} checkout.Result
// @Failure  400 {object} httpx.ErrorBody
// @Failure  409 {object} httpx.ErrorBody
// @Failure  502 {object} httpx.ErrorBody
// @Router   /checkout [post]
func checkoutHandler(svc checkoutAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req checkout.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
			req.IdempotencyKey = key
		}
		res, err := svc.ProcessCheckout(c.Request.Context(), req)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

// getAttemptHandler godoc
// @Summary  Checkout attempt by idempotency key
// @Tags     checkout
// @Produce  json
// @Param    key path string true "Idempotency key"
// @Success  200 {object} checkout.Attempt
// @Failure  404 {object} httpx.ErrorBody
// @Router   /checkout/attempts/{key} [get]
func getAttemptHandler(svc checkoutAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := svc.GetAttempt(c.Request.Context(), c.Param("key"))
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

// ---------- orders ----------

// getOrderHandler godoc
// @Summary  Order by id
// @Tags     orders
// @Produce  json
// @Param    orderId path string true "Order id"
// @Success  200 {object} order.Order
// @Failure  404 {object} httpx.ErrorBody
// @Router   /orders/{orderId} [get]
func getOrderHandler(svc orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.GetOrder(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// getOrderItemsHandler godoc
// @Summary  Items of an order
// @Tags     orders
// @Produce  json
// @Param    orderId path string true "Order id"
// @Success  200 {array} order.Item
// @Failure  404 {object} httpx.ErrorBody
// @Router   /orders/{orderId}/items [get]
func getOrderItemsHandler(svc orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := svc.GetOrderItems(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

// verifyOrderPaymentHandler godoc
// @Summary  Record manual verification of an order's payment
// @Tags     orders
// @Accept   json
// @Produce  json
// @Param    orderId path string true "Order id"
// @Param    body body order.VerifyPaymentRequest true "Verification"
// @Success  200 {object} order.Order
// @Failure  409 {object} httpx.ErrorBody
// @Router   /orders/{orderId}/verify-payment [put]
func verifyOrderPaymentHandler(svc orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req order.VerifyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.Verified == nil {
			httpx.BadRequest(c, "verified is required")
			return
		}
		o, err := svc.VerifyPayment(c.Request.Context(), c.Param("orderId"), *req.Verified)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// cancelOrderHandler godoc
// @Summary  Cancel an order
// @Tags     orders
// @Accept   json
// @Produce  json
// @Param    orderId path string true "Order id"
// @Param    body body order.CancelOrderRequest false "Reason"
// @Success  200 {object} order.Order
// @Router   /orders/{orderId}/cancel [put]
func cancelOrderHandler(svc orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req order.CancelOrderRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				httpx.BadRequest(c, "invalid json")
				return
			}
		}
		o, err := svc.CancelOrder(c.Request.Context(), c.Param("orderId"), req.Reason)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// pickupHandler godoc
// @Summary  Attach pickup details to an order
// @Tags     orders
// @Accept   json
// @Produce  json
// @Param    orderId path string true "Order id"
// @Param    body body order.PickupDetails true "Pickup details"
// @Success  200 {object} order.Order
// @Router   /orders/{orderId}/pickup [put]
func pickupHandler(svc orderAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var d order.PickupDetails
		if err := c.ShouldBindJSON(&d); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		o, err := svc.UpdateOrderWithPickupDetails(c.Request.Context(), c.Param("orderId"), d)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// expiredDeadlinesHandler godoc
// @Summary  Unpaid orders past their payment deadline
// @Tags     orders
// @Produce  json
// @Param    limit query int false "Max results (default 100)"
// @Success  200 {array} order.Order
// @Router   /orders/expired-payment-deadlines [get]
func expiredDeadlinesHandler(svc orderAPI, now func() time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		if limit <= 0 || limit > 500 {
			limit = 100
		}
		orders, err := svc.GetOrdersWithExpiredPaymentDeadline(c.Request.Context(), now(), limit)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, orders)
	}
}

// ---------- payments ----------

// bankDetailsHandler godoc
// @Summary  Bank account to pay transfers into
// @Tags     payments
// @Produce  json
// @Success  200 {object} settings.BankDetails
// @Router   /payments/bank-details [get]
func bankDetailsHandler(svc paymentAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		d, err := svc.BankDetails(c.Request.Context())
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	}
}

// paymentsByOrderHandler godoc
// @Summary  Payments recorded for an order
// @Tags     payments
// @Produce  json
// @Param    orderId path string true "Order id"
// @Success  200 {array} payment.Payment
// @Router   /payments/order/{orderId} [get]
func paymentsByOrderHandler(svc paymentAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ps, err := svc.GetPaymentsByOrder(c.Request.Context(), c.Param("orderId"))
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, ps)
	}
}

type verifyPaymentRequest struct {
	Status          payment.Status `json:"status"          example:"completed"`
	PaymentProofURL *string        `json:"paymentProofUrl,omitempty"`
}

// verifyPaymentHandler godoc
// @Summary  Set the outcome of a manually verified payment
// @Tags     payments
// @Accept   json
// @Produce  json
// @Param    paymentId path string true "Payment id"
// @Param    body body verifyPaymentRequest true "Outcome"
// @Success  200 {object} payment.Payment
// @Failure  409 {object} httpx.ErrorBody
// @Router   /payments/verify/{paymentId} [put]
func verifyPaymentHandler(svc paymentAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyPaymentRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		p, err := svc.VerifyPayment(c.Request.Context(), c.Param("paymentId"), req.Status, req.PaymentProofURL)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// uploadProofHandler godoc
// @Summary  Upload a proof of payment
// @Tags     payments
// @Accept   multipart/form-data
// @Produce  json
// @Param    paymentId path string true "Payment id"
// @Param    file formData file true "jpg, png, webp or pdf up to 10MB"
// @Success  200 {object} map[string]string
// @Router   /payments/{paymentId}/upload-proof [post]
func uploadProofHandler(svc paymentAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, payment.MaxProofSize+1<<20)
		fh, err := c.FormFile("file")
		if err != nil {
			httpx.BadRequest(c, "file is required")
			return
		}
		if fh.Size > payment.MaxProofSize {
			httpx.BadRequest(c, "file exceeds 10MB")
			return
		}
		f, err := fh.Open()
		if err != nil {
			httpx.BadRequest(c, "file is unreadable")
			return
		}
		defer f.Close()

		url, err := svc.UploadProof(c.Request.Context(), c.Param("paymentId"), fh.Filename, f)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"paymentProofUrl": url})
	}
}

// ---------- cart ----------

type createCartRequest struct {
	Currency string `json:"currency,omitempty" example:"USD"`
}

type addItemRequest struct {
	ProductID string `json:"product_id" example:"7"`
	Quantity  int    `json:"quantity"   example:"2"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" example:"3"`
}

// createCartHandler godoc
// @Summary  Create a cart
// @Tags     cart
// @Accept   json
// @Produce  json
// @Param    body body createCartRequest false "Currency, defaults to the store currency"
// @Success  201 {object} cart.Cart
// @Router   /cart [post]
func createCartHandler(svc cartAPI, currency func(context.Context) (string, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createCartRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				httpx.BadRequest(c, "invalid json")
				return
			}
		}
		cur := strings.ToUpper(strings.TrimSpace(req.Currency))
		if cur == "" {
			var err error
			if cur, err = currency(c.Request.Context()); err != nil {
				httpx.Error(c, err)
				return
			}
		}
		ct, err := svc.CreateCart(c.Request.Context(), cur)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusCreated, ct)
	}
}

// getCartHandler godoc
// @Summary  Cart by id
// @Tags     cart
// @Produce  json
// @Param    id path string true "Cart id"
// @Success  200 {object} cart.Cart
// @Router   /cart/{id} [get]
func getCartHandler(svc cartAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ct, err := svc.GetCart(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, ct)
	}
}

// addItemHandler godoc
// @Summary  Add a product to a cart
// @Tags     cart
// @Accept   json
// @Produce  json
// @Param    id path string true "Cart id"
// @Param    body body addItemRequest true "Line"
// @Success  200 {object} cart.Cart
// @Router   /cart/{id}/items [post]
func addItemHandler(svc cartAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req addItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		ct, err := svc.AddItem(c.Request.Context(), c.Param("id"), req.ProductID, req.Quantity)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, ct)
	}
}

// updateItemHandler godoc
// @Summary  Change a line's quantity
// @Tags     cart
// @Accept   json
// @Produce  json
// @Param    id path string true "Cart id"
// @Param    itemId path string true "Item id"
// @Param    body body updateItemRequest true "Quantity"
// @Success  200 {object} cart.Cart
// @Router   /cart/{id}/items/{itemId} [put]
func updateItemHandler(svc cartAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateItemRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		ct, err := svc.UpdateItem(c.Request.Context(), c.Param("id"), c.Param("itemId"), req.Quantity)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, ct)
	}
}

// removeItemHandler godoc
// @Summary  Remove a line
// @Tags     cart
// @Produce  json
// @Param    id path string true "Cart id"
// @Param    itemId path string true "Item id"
// @Success  200 {object} cart.Cart
// @Router   /cart/{id}/items/{itemId} [delete]
func removeItemHandler(svc cartAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ct, err := svc.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("itemId"))
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, ct)
	}
}

// clearCartHandler godoc
// @Summary  Remove every item from a cart
// @Tags     cart
// @Produce  json
// @Param    id path string true "Cart id"
// @Success  200 {object} cart.Cart
// @Failure  404 {object} httpx.ErrorBody
// @Router   /cart/{id} [delete]
func clearCartHandler(svc cartAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		ct, err := svc.ClearCart(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, ct)
	}
}

// ---------- settings ----------

// listSettingsHandler godoc
// @Summary  Settings of a category
// @Tags     settings
// @Produce  json
// @Param    category path string true "Category"
// @Param    includeSensitive query bool false "Include sensitive values (masked as ciphertext)"
// @Success  200 {array} settings.Value
// @Router   /settings/{category} [get]
func listSettingsHandler(svc settingsAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		include, _ := strconv.ParseBool(c.DefaultQuery("includeSensitive", "false"))
		vs, err := svc.GetSettingsByCategory(c.Request.Context(), c.Param("category"), include, false)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, vs)
	}
}

// getSettingHandler godoc
// @Summary  One setting; sensitive values are returned encrypted
// @Tags     settings
// @Produce  json
// @Param    category path string true "Category"
// @Param    key path string true "Key"
// @Success  200 {object} settings.Value
// @Failure  404 {object} httpx.ErrorBody
// @Router   /settings/{category}/{key} [get]
func getSettingHandler(svc settingsAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := svc.GetSetting(c.Request.Context(), c.Param("category"), c.Param("key"), false)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		if v == nil {
			httpx.Error(c, settings.ErrNotFound)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// putSettingHandler godoc
// @Summary  Create or replace a setting
// @Tags     settings
// @Accept   json
// @Produce  json
// @Param    category path string true "Category"
// @Param    key path string true "Key"
// @Param    body body settings.Input true "Setting; category and key come from the path"
// @Success  200 {object} settings.Value
// @Router   /settings/{category}/{key} [put]
func putSettingHandler(svc settingsAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		var in settings.Input
		if err := c.ShouldBindJSON(&in); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		in.Category, in.Key = c.Param("category"), c.Param("key")
		v, err := svc.UpsertSetting(c.Request.Context(), in)
		if err != nil {
			httpx.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// deleteSettingHandler godoc
// @Summary  Delete a setting
// @Tags     settings
// @Param    category path string true "Category"
// @Param    key path string true "Key"
// @Success  204
// @Router   /settings/{category}/{key} [delete]
func deleteSettingHandler(svc settingsAPI) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteSetting(c.Request.Context(), c.Param("category"), c.Param("key")); err != nil {
			httpx.Error(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
