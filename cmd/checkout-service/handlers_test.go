package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
	"github.com/MikeMC777/storefront-checkout/internal/cart"
	"github.com/MikeMC777/storefront-checkout/internal/catalog"
	"github.com/MikeMC777/storefront-checkout/internal/checkout"
	"github.com/MikeMC777/storefront-checkout/internal/customer"
	"github.com/MikeMC777/storefront-checkout/internal/httpx"
	"github.com/MikeMC777/storefront-checkout/internal/notify"
	"github.com/MikeMC777/storefront-checkout/internal/order"
	"github.com/MikeMC777/storefront-checkout/internal/payment"
	"github.com/MikeMC777/storefront-checkout/internal/settings"
)

//
// ---------- IN-MEMORY APP ----------
//

type testApp struct {
	router   *gin.Engine
	catalog  *catalog.MemoryCatalog
	orders   *order.Manager
	orderDB  *order.MemoryRepo
	payDB    *payment.MemoryRepo
	settings *settings.Store
	now      time.Time
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	tax := decimal.NewFromInt(10)
	cat := catalog.NewMemoryCatalog(
		catalog.Product{ID: "7", Name: "Lamp", SKU: "LMP-7", Price: decimal.NewFromInt(50), TaxRate: &tax, StockQuantity: 5},
	)
	carts := cart.NewStore(cart.NewMemoryRepo(), cat)

	cipher, err := settings.NewCipher("handlers-test")
	if err != nil {
		t.Fatalf("cipher: %v", err)
	}
	st := settings.NewStore(settings.NewMemoryRepo(), cipher)
	if _, err := st.InitializeDefaults(ctx); err != nil {
		t.Fatalf("defaults: %v", err)
	}

	orderDB := order.NewMemoryRepo()
	orders := order.NewManager(orderDB, cat, nil)
	payDB := payment.NewMemoryRepo()
	payments := payment.NewService(payDB, orders, st, payment.NewLocalProofStore(t.TempDir(), "http://shop.test"), nil)

	gateways := payment.NewRegistry()
	gateways.Register(payment.MethodBankTransfer, payment.NewBankTransferGateway())
	gateways.Register(payment.MethodMock, payment.NewSwitchable(&payment.MockGateway{}, st.MockGatewayEnabled))

	orch := checkout.NewOrchestrator(checkout.Deps{
		Carts:     carts,
		Customers: customer.NewMemoryDirectory(),
		Orders:    orders,
		Payments:  payments,
		Gateways:  gateways,
		Settings:  st,
		Notifier:  notify.NewLogDispatcher(zap.NewNop()),
		Attempts:  checkout.NewMemoryRepo(),
	}, checkout.Config{})

	app := &testApp{catalog: cat, orders: orders, orderDB: orderDB, payDB: payDB, settings: st, now: time.Now()}
	app.router = newRouter(services{
		Checkout: orch,
		Orders:   orders,
		Payments: payments,
		Carts:    carts,
		Settings: st,
	}, routerOptions{
		Log:       zap.NewNop(),
		Registry:  prometheus.NewRegistry(),
		UploadDir: t.TempDir(),
		Now:       func() time.Time { return app.now },
	})
	return app
}

func (a *testApp) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Buffer
	if body != "" {
		rdr = bytes.NewBufferString(body)
	} else {
		rdr = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid json: %v body=%s", err, w.Body.String())
	}
	return v
}

func (a *testApp) cartWithLamp(t *testing.T, qty int) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/cart", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("create cart status=%d body=%s", w.Code, w.Body.String())
	}
	c := decodeJSON[cart.Cart](t, w)
	w = a.do(t, http.MethodPost, "/cart/"+c.ID+"/items", `{"product_id":"7","quantity":`+itoa(qty)+`}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add item status=%d body=%s", w.Code, w.Body.String())
	}
	return c.ID
}

func itoa(n int) string { return decimal.NewFromInt(int64(n)).String() }

func checkoutBody(cartID, method string) string {
	return `{"cartId":"` + cartID + `","paymentMethod":"` + method + `",
	  "customer":{"email":"ana@example.com","firstName":"Ana","lastName":"Pérez"},
	  "shippingAddress":{"line1":"Calle 10 # 5-20","city":"Bogotá","country":"CO"}}`
}

//
// ---------- TESTS ----------
//

func TestCheckout_HappyPathAndReplay(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	cartID := app.cartWithLamp(t, 2)

	w := app.do(t, http.MethodPost, "/checkout", checkoutBody(cartID, "mock"), "Idempotency-Key", "idem-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	first := decodeJSON[checkout.Result](t, w)
	if first.PaymentStatus != payment.StatusCompleted {
		t.Fatalf("paymentStatus=%s, want completed", first.PaymentStatus)
	}
	if !first.Totals.TotalAmount.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("total=%s, want 110", first.Totals.TotalAmount)
	}

	w = app.do(t, http.MethodPost, "/checkout", checkoutBody(cartID, "mock"), "Idempotency-Key", "idem-1")
	if w.Code != http.StatusCreated {
		t.Fatalf("replay status=%d body=%s", w.Code, w.Body.String())
	}
	second := decodeJSON[checkout.Result](t, w)
	if second.OrderNumber != first.OrderNumber {
		t.Fatalf("replay order=%s, want %s", second.OrderNumber, first.OrderNumber)
	}
	if app.orderDB.Count() != 1 {
		t.Fatalf("orders=%d, want 1", app.orderDB.Count())
	}

	w = app.do(t, http.MethodGet, "/checkout/attempts/idem-1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("attempt status=%d body=%s", w.Code, w.Body.String())
	}
	if a := decodeJSON[checkout.Attempt](t, w); a.Status != checkout.StatusCompleted {
		t.Fatalf("attempt status=%s", a.Status)
	}

	w = app.do(t, http.MethodGet, "/orders/"+first.OrderID+"/items", "")
	if w.Code != http.StatusOK {
		t.Fatalf("items status=%d body=%s", w.Code, w.Body.String())
	}
	if items := decodeJSON[[]order.Item](t, w); len(items) != 1 || items[0].Quantity != 2 {
		t.Fatalf("unexpected items body=%s", w.Body.String())
	}

	// cart is destroyed once checkout completes
	if w := app.do(t, http.MethodGet, "/cart/"+cartID, ""); w.Code != http.StatusNotFound {
		t.Fatalf("cart status=%d, want 404", w.Code)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	w := app.do(t, http.MethodPost, "/cart", `{"currency":"usd"}`)
	c := decodeJSON[cart.Cart](t, w)
	if c.Currency != "USD" {
		t.Fatalf("currency=%s", c.Currency)
	}

	w = app.do(t, http.MethodPost, "/checkout", checkoutBody(c.ID, "mock"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s (want 400)", w.Code, w.Body.String())
	}
	if e := decodeJSON[httpx.ErrorBody](t, w); e.Kind != apperr.KindInvalidInput || e.Message != "cart is empty" {
		t.Fatalf("unexpected error body=%s", w.Body.String())
	}
	if app.orderDB.Count() != 0 || app.payDB.Count() != 0 {
		t.Fatalf("empty cart must not create an order or payment")
	}
}

func TestCheckout_InvalidJSON(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	if w := app.do(t, http.MethodPost, "/checkout", `{"cartId":`); w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", w.Code)
	}
}

func TestCheckout_MockDisabledBySetting(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	w := app.do(t, http.MethodPut, "/settings/payment/mock_gateway_enabled", `{"type":"boolean","value":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put setting status=%d body=%s", w.Code, w.Body.String())
	}
	cartID := app.cartWithLamp(t, 1)

	w = app.do(t, http.MethodPost, "/checkout", checkoutBody(cartID, "mock"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s (want 400)", w.Code, w.Body.String())
	}
}

func TestCart_DefaultCurrencyFromSettings(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	w := app.do(t, http.MethodPut, "/settings/store/currency", `{"type":"string","value":"EUR"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put setting status=%d body=%s", w.Code, w.Body.String())
	}
	w = app.do(t, http.MethodPost, "/cart", "")
	if c := decodeJSON[cart.Cart](t, w); c.Currency != "EUR" {
		t.Fatalf("currency=%s, want EUR", c.Currency)
	}
}

func TestCart_ItemLifecycle(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	cartID := app.cartWithLamp(t, 1)
	c := decodeJSON[cart.Cart](t, app.do(t, http.MethodGet, "/cart/"+cartID, ""))
	itemID := c.Items[0].ID

	w := app.do(t, http.MethodPut, "/cart/"+cartID+"/items/"+itemID, `{"quantity":9}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("over stock status=%d body=%s (want 400)", w.Code, w.Body.String())
	}
	w = app.do(t, http.MethodPut, "/cart/"+cartID+"/items/"+itemID, `{"quantity":3}`)
	if c := decodeJSON[cart.Cart](t, w); !c.Total.Equal(decimal.NewFromInt(165)) {
		t.Fatalf("total=%s, want 165", c.Total)
	}
	w = app.do(t, http.MethodDelete, "/cart/"+cartID+"/items/"+itemID, "")
	if c := decodeJSON[cart.Cart](t, w); len(c.Items) != 0 || !c.Total.IsZero() {
		t.Fatalf("cart not emptied: %s", w.Body.String())
	}
}

func TestCart_ClearKeepsCart(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	cartID := app.cartWithLamp(t, 2)

	w := app.do(t, http.MethodDelete, "/cart/"+cartID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear status=%d body=%s", w.Code, w.Body.String())
	}
	w = app.do(t, http.MethodGet, "/cart/"+cartID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get after clear status=%d body=%s", w.Code, w.Body.String())
	}
	var body struct {
		ID    string            `json:"id"`
		Items []json.RawMessage `json:"items"`
		Total string            `json:"total"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v body=%s", err, w.Body.String())
	}
	if body.ID != cartID || body.Items == nil || len(body.Items) != 0 || body.Total != "0" {
		t.Fatalf("cart not cleared: %s", w.Body.String())
	}
	if w := app.do(t, http.MethodDelete, "/cart/missing", ""); w.Code != http.StatusNotFound {
		t.Fatalf("clear missing status=%d (want 404)", w.Code)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	w := app.do(t, http.MethodGet, "/orders/nope", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s (want 404)", w.Code, w.Body.String())
	}
}

func TestOrders_BankTransferLifecycle(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	cartID := app.cartWithLamp(t, 1)
	w := app.do(t, http.MethodPost, "/checkout", checkoutBody(cartID, "bank_transfer"))
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	res := decodeJSON[checkout.Result](t, w)
	if res.PaymentDeadline == nil {
		t.Fatalf("bank transfer must carry a payment deadline")
	}

	// not yet expired
	if list := decodeJSON[[]order.Order](t, app.do(t, http.MethodGet, "/orders/expired-payment-deadlines", "")); len(list) != 0 {
		t.Fatalf("expired=%d, want 0", len(list))
	}
	app.now = res.PaymentDeadline.Add(time.Minute)
	if list := decodeJSON[[]order.Order](t, app.do(t, http.MethodGet, "/orders/expired-payment-deadlines?limit=10", "")); len(list) != 1 {
		t.Fatalf("expired=%d, want 1", len(list))
	}

	if w := app.do(t, http.MethodPut, "/orders/"+res.OrderID+"/verify-payment", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing verified status=%d, want 400", w.Code)
	}
	w = app.do(t, http.MethodPut, "/orders/"+res.OrderID+"/cancel", `{"reason":"unpaid"}`)
	if o := decodeJSON[order.Order](t, w); o.Status != order.StatusCancelled {
		t.Fatalf("status=%s, want cancelled", o.Status)
	}
	w = app.do(t, http.MethodPut, "/orders/"+res.OrderID+"/verify-payment", `{"verified":true}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("verify cancelled status=%d body=%s (want 409)", w.Code, w.Body.String())
	}

	w = app.do(t, http.MethodPut, "/payments/verify/"+res.PaymentID, `{"status":"completed"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("payment verify on cancelled order status=%d body=%s (want 409)", w.Code, w.Body.String())
	}
	ps := decodeJSON[[]payment.Payment](t, app.do(t, http.MethodGet, "/payments/order/"+res.OrderID, ""))
	if len(ps) != 1 || ps[0].Status != payment.StatusPending {
		t.Fatalf("payment must stay pending: %+v", ps)
	}
}

func TestPayments_VerifyAndBankDetails(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	cartID := app.cartWithLamp(t, 1)
	res := decodeJSON[checkout.Result](t, app.do(t, http.MethodPost, "/checkout", checkoutBody(cartID, "bank_transfer")))

	if w := app.do(t, http.MethodPut, "/payments/verify/"+res.PaymentID, `{"status":"bogus"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bogus status=%d, want 400", w.Code)
	}
	w := app.do(t, http.MethodPut, "/payments/verify/"+res.PaymentID, `{"status":"completed","paymentProofUrl":"http://x/p.png"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("verify status=%d body=%s", w.Code, w.Body.String())
	}
	o := decodeJSON[order.Order](t, app.do(t, http.MethodGet, "/orders/"+res.OrderID, ""))
	if o.Status != order.StatusConfirmed || o.PaymentStatus != order.PaymentPaid {
		t.Fatalf("order %s/%s, want confirmed/paid", o.Status, o.PaymentStatus)
	}

	d := decodeJSON[settings.BankDetails](t, app.do(t, http.MethodGet, "/payments/bank-details", ""))
	if d.BankName == "" || d.DeadlineHours != settings.DefaultDeadlineHours {
		t.Fatalf("unexpected bank details %+v", d)
	}
}

func TestPayments_UploadProof(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	cartID := app.cartWithLamp(t, 1)
	res := decodeJSON[checkout.Result](t, app.do(t, http.MethodPost, "/checkout", checkoutBody(cartID, "bank_transfer")))

	upload := func(name string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, _ := mw.CreateFormFile("file", name)
		_, _ = fw.Write([]byte("%PDF-1.4 receipt"))
		_ = mw.Close()
		req := httptest.NewRequest(http.MethodPost, "/payments/"+res.PaymentID+"/upload-proof", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		app.router.ServeHTTP(w, req)
		return w
	}

	w := upload("receipt.pdf")
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	url := decodeJSON[map[string]string](t, w)["paymentProofUrl"]
	if !strings.HasPrefix(url, "http://shop.test/uploads/proofs/"+res.PaymentID) {
		t.Fatalf("url=%s", url)
	}

	if w := upload("receipt.exe"); w.Code != http.StatusBadRequest {
		t.Fatalf("exe status=%d, want 400", w.Code)
	}
	if w := app.do(t, http.MethodPost, "/payments/"+res.PaymentID+"/upload-proof", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("no file status=%d, want 400", w.Code)
	}
}

func TestSettings_SensitiveValues(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)

	w := app.do(t, http.MethodPut, "/settings/gateway/api_key", `{"type":"encrypted","value":"sk_live_123"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("put status=%d body=%s", w.Code, w.Body.String())
	}
	v := decodeJSON[settings.Value](t, app.do(t, http.MethodGet, "/settings/gateway/api_key", ""))
	if s, _ := v.Value.(string); !settings.IsEncrypted(s) {
		t.Fatalf("sensitive value returned in clear: %v", v.Value)
	}

	list := decodeJSON[[]settings.Value](t, app.do(t, http.MethodGet, "/settings/payment", ""))
	for _, v := range list {
		if v.IsSensitive {
			t.Fatalf("sensitive %s listed without includeSensitive", v.Key)
		}
	}

	all := decodeJSON[[]settings.Value](t, app.do(t, http.MethodGet, "/settings/payment?includeSensitive=true", ""))
	sensitive := 0
	for _, v := range all {
		if !v.IsSensitive {
			continue
		}
		sensitive++
		if s, _ := v.Value.(string); !settings.IsEncrypted(s) {
			t.Fatalf("sensitive %s listed in clear: %v", v.Key, v.Value)
		}
	}
	if sensitive == 0 {
		t.Fatalf("includeSensitive listed no sensitive settings: %+v", all)
	}

	if w := app.do(t, http.MethodDelete, "/settings/gateway/api_key", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", w.Code)
	}
	if w := app.do(t, http.MethodGet, "/settings/gateway/api_key", ""); w.Code != http.StatusNotFound {
		t.Fatalf("get deleted status=%d, want 404", w.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	app := newTestApp(t)
	if w := app.do(t, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz status=%d body=%s", w.Code, w.Body.String())
	}
	w := app.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "http_requests_total") {
		t.Fatalf("metrics status=%d body=%s", w.Code, w.Body.String())
	}
}
