package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Status represents the lifecycle state of a payment attempt.
type Status string

const (
	// StatusPending indicates the provider accepted the request and is waiting for the customer.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the payment completed and funds were captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the provider rejected or aborted the payment.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when no provider is registered for a payment method.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// PaymentRequest describes a payment the shop wants the provider to collect.
// Amount is an integer VND amount. OrderRef is the shop's internal reference
// used for reconciliation through ExtraData; it is never sent as the
// provider-facing order identifier.
type PaymentRequest struct {
	OrderRef  string
	Amount    int64
	OrderInfo string
	ExtraData string
}

// PaymentSession is the provider handshake result handed back to the caller.
type PaymentSession struct {
	Provider        string
	RequestID       string
	ProviderOrderID string
	PayURL          string
	Deeplink        string
	QRCodeURL       string
	ResultCode      int64
	Message         string
	Status          Status
}

// CallbackResult is the outcome of verifying an asynchronous provider notification.
type CallbackResult struct {
	Valid           bool
	Paid            bool
	RequestID       string
	ProviderOrderID string
	TransactionID   string
	Amount          int64
	ResultCode      int64
	Message         string
	ExtraData       string
}

// Provider abstracts an external payment gateway.
type Provider interface {
	Name() string
	RequestPayment(ctx context.Context, req PaymentRequest) (PaymentSession, error)
	VerifyCallback(ctx context.Context, payload WalletCallback) (CallbackResult, error)
}

// Manager routes payment operations to registered providers by name.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption customises Manager construction.
type ManagerOption func(*Manager)

// WithDefaultProvider selects the provider used when callers pass an empty name.
func WithDefaultProvider(name string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = normalizeProviderName(name)
	}
}

// NewManager constructs a Manager from the supplied providers.
func NewManager(providers []Provider, opts ...ManagerOption) (*Manager, error) {
	manager := &Manager{
		providers: make(map[string]Provider, len(providers)),
	}

	for _, provider := range providers {
		if provider == nil {
			continue
		}
		name := normalizeProviderName(provider.Name())
		if name == "" {
			return nil, errors.New("payments: provider name is required")
		}
		if _, exists := manager.providers[name]; exists {
			return nil, fmt.Errorf("payments: duplicate provider %q", name)
		}
		manager.providers[name] = provider
	}

	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}

	if manager.defaultProvider == "" && len(manager.providers) == 1 {
		for name := range manager.providers {
			manager.defaultProvider = name
		}
	}

	if manager.defaultProvider != "" {
		if _, ok := manager.providers[manager.defaultProvider]; !ok {
			return nil, fmt.Errorf("payments: default provider %q not registered", manager.defaultProvider)
		}
	}

	return manager, nil
}

// RequestPayment delegates to the named provider.
func (m *Manager) RequestPayment(ctx context.Context, provider string, req PaymentRequest) (PaymentSession, error) {
	resolved, err := m.resolveProvider(provider)
	if err != nil {
		return PaymentSession{}, err
	}
	return resolved.RequestPayment(ctx, req)
}

// VerifyCallback delegates to the named provider.
func (m *Manager) VerifyCallback(ctx context.Context, provider string, payload WalletCallback) (CallbackResult, error) {
	resolved, err := m.resolveProvider(provider)
	if err != nil {
		return CallbackResult{}, err
	}
	return resolved.VerifyCallback(ctx, payload)
}

func (m *Manager) resolveProvider(name string) (Provider, error) {
	if m == nil {
		return nil, ErrUnsupportedProvider
	}
	normalized := normalizeProviderName(name)
	if normalized == "" {
		normalized = m.defaultProvider
	}
	if normalized == "" {
		return nil, ErrUnsupportedProvider
	}
	provider, ok := m.providers[normalized]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, normalized)
	}
	return provider, nil
}

func normalizeProviderName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
