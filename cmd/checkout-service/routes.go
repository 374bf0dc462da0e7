package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-checkout/internal/httpx"
	"github.com/MikeMC777/storefront-checkout/internal/settings"
)

// services is everything the HTTP surface calls into.
type services struct {
	Checkout checkoutAPI
	Orders   orderAPI
	Payments paymentAPI
	Carts    cartAPI
	Settings settingsAPI
}

type routerOptions struct {
	Log       *zap.Logger
	Registry  *prometheus.Registry
	UploadDir string
	Now       func() time.Time
}

func newRouter(svc services, opts routerOptions) *gin.Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), otelgin.Middleware("checkout-service"),
		httpx.Metrics(opts.Registry), httpx.Logger(opts.Log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if opts.UploadDir != "" {
		r.Static("/uploads", opts.UploadDir)
	}

	r.POST("/checkout", checkoutHandler(svc.Checkout))
	r.GET("/checkout/attempts/:key", getAttemptHandler(svc.Checkout))

	r.GET("/orders/expired-payment-deadlines", expiredDeadlinesHandler(svc.Orders, opts.Now))
	r.GET("/orders/:orderId", getOrderHandler(svc.Orders))
	r.GET("/orders/:orderId/items", getOrderItemsHandler(svc.Orders))
	r.PUT("/orders/:orderId/verify-payment", verifyOrderPaymentHandler(svc.Orders))
	r.PUT("/orders/:orderId/cancel", cancelOrderHandler(svc.Orders))
	r.PUT("/orders/:orderId/pickup", pickupHandler(svc.Orders))

	r.GET("/payments/bank-details", bankDetailsHandler(svc.Payments))
	r.GET("/payments/order/:orderId", paymentsByOrderHandler(svc.Payments))
	r.PUT("/payments/verify/:paymentId", verifyPaymentHandler(svc.Payments))
	r.POST("/payments/:paymentId/upload-proof", uploadProofHandler(svc.Payments))

	r.POST("/cart", createCartHandler(svc.Carts, svc.Settings.StoreCurrency))
	r.GET("/cart/:id", getCartHandler(svc.Carts))
	r.POST("/cart/:id/items", addItemHandler(svc.Carts))
	r.PUT("/cart/:id/items/:itemId", updateItemHandler(svc.Carts))
	r.DELETE("/cart/:id/items/:itemId", removeItemHandler(svc.Carts))
	r.DELETE("/cart/:id", clearCartHandler(svc.Carts))

	r.GET("/settings/:category", listSettingsHandler(svc.Settings))
	r.GET("/settings/:category/:key", getSettingHandler(svc.Settings))
	r.PUT("/settings/:category/:key", putSettingHandler(svc.Settings))
	r.DELETE("/settings/:category/:key", deleteSettingHandler(svc.Settings))

	return r
}

var _ settingsAPI = (*settings.Store)(nil)
