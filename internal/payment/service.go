package payment

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-checkout/internal/apperr"
	"github.com/MikeMC777/storefront-checkout/internal/order"
	"github.com/MikeMC777/storefront-checkout/internal/settings"
)

// OrderPayer is the order operation a completed payment triggers.
type OrderPayer interface {
	MarkOrderPaid(ctx context.Context, orderID string) (*order.Order, error)
}

// BankDetailsSource reads the configured bank transfer details.
type BankDetailsSource interface {
	BankDetails(ctx context.Context) (settings.BankDetails, error)
}

type Service struct {
	repo   Repository
	orders OrderPayer
	bank   BankDetailsSource
	proofs ProofStore
	log    *zap.Logger
}

func NewService(repo Repository, orders OrderPayer, bank BankDetailsSource, proofs ProofStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, orders: orders, bank: bank, proofs: proofs, log: log}
}

// Record is one gateway outcome to be stored against an order.
type Record struct {
	OrderID       string
	CustomerID    string
	Amount        decimal.Decimal
	Currency      string
	PaymentMethod string
	Result        *IntentResult
}

// RecordIntent stores a payment whose status is derived from the gateway
// result.
func (s *Service) RecordIntent(ctx context.Context, rec Record) (*Payment, error) {
	p := &Payment{
		ID:              uuid.NewString(),
		OrderID:         rec.OrderID,
		CustomerID:      rec.CustomerID,
		Amount:          rec.Amount,
		Currency:        rec.Currency,
		PaymentMethod:   rec.PaymentMethod,
		Status:          DeriveStatus(rec.Result.Status),
		GatewayResponse: rec.Result.Raw,
	}
	if rec.Result.TransactionID != "" {
		tx := rec.Result.TransactionID
		p.TransactionID = &tx
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.Info("payment recorded",
		zap.String("payment_id", p.ID),
		zap.String("order_id", p.OrderID),
		zap.String("method", p.PaymentMethod),
		zap.String("status", string(p.Status)))
	return p, nil
}

func (s *Service) GetPaymentsByOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return s.repo.ListByOrder(ctx, orderID)
}

// VerifyPayment settles a payment manually. Completing a payment marks its
// order paid first, so a cancelled order leaves the payment untouched.
func (s *Service) VerifyPayment(ctx context.Context, paymentID string, status Status, proofURL *string) (*Payment, error) {
	if status != StatusCompleted && status != StatusFailed && status != StatusRefunded {
		return nil, apperr.InvalidInput(fmt.Sprintf("status must be completed, failed or refunded, got %q", status))
	}
	if proofURL != nil && strings.TrimSpace(*proofURL) == "" {
		proofURL = nil
	}
	p, err := s.repo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if status == StatusCompleted {
		if _, err := s.orders.MarkOrderPaid(ctx, p.OrderID); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateStatus(ctx, paymentID, status, proofURL); err != nil {
		return nil, err
	}
	s.log.Info("payment verified",
		zap.String("payment_id", paymentID),
		zap.String("order_id", p.OrderID),
		zap.String("status", string(status)))
	return s.repo.GetByID(ctx, paymentID)
}

// UploadProof stores a proof-of-payment file and links it to the payment.
func (s *Service) UploadProof(ctx context.Context, paymentID, filename string, r io.Reader) (string, error) {
	if _, err := s.repo.GetByID(ctx, paymentID); err != nil {
		return "", err
	}
	url, err := s.proofs.Save(ctx, paymentID, filename, r)
	if err != nil {
		return "", err
	}
	if err := s.repo.SetProofURL(ctx, paymentID, url); err != nil {
		return "", err
	}
	return url, nil
}

func (s *Service) BankDetails(ctx context.Context) (settings.BankDetails, error) {
	return s.bank.BankDetails(ctx)
}
