package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProviderNameWallet is the registry name of the e-wallet gateway.
const ProviderNameWallet = "wallet"

// ErrPaymentRejected is returned when the wallet gateway refuses to open a
// payment session. The accompanying PaymentSession still carries the
// provider's result code and message.
var ErrPaymentRejected = errors.New("payments: provider rejected payment request")

// WalletLogger defines the logging contract for wallet provider operations.
type WalletLogger func(ctx context.Context, event string, fields map[string]any)

type walletHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// WalletCallback is the asynchronous notification the wallet gateway posts to
// the IPN endpoint after the customer finishes (or abandons) a payment.
type WalletCallback struct {
	PartnerCode  string `json:"partnerCode"`
	OrderID      string `json:"orderId"`
	RequestID    string `json:"requestId"`
	Amount       int64  `json:"amount"`
	OrderInfo    string `json:"orderInfo"`
	OrderType    string `json:"orderType"`
	TransID      int64  `json:"transId"`
	ResultCode   int64  `json:"resultCode"`
	Message      string `json:"message"`
	PayType      string `json:"payType"`
	ResponseTime int64  `json:"responseTime"`
	ExtraData    string `json:"extraData"`
	Signature    string `json:"signature"`
}

// WalletProviderConfig configures the WalletProvider.
type WalletProviderConfig struct {
	PartnerCode    string
	AccessKey      string
	SecretKey      string
	Endpoint       string
	IPNURL         string
	RedirectURL    string
	RequestType    string
	RequestTimeout time.Duration
	HTTPClient     walletHTTPClient
	Logger         WalletLogger
	Clock          func() time.Time
	Random         func() int64
}

// WalletProvider implements the Provider interface against the HMAC signed
// REST API of the e-wallet gateway.
type WalletProvider struct {
	partnerCode string
	accessKey   string
	secretKey   []byte
	endpoint    string
	ipnURL      string
	redirectURL string
	requestType string
	client      walletHTTPClient
	logger      WalletLogger
	clock       func() time.Time
	random      func() int64
}

// NewWalletProvider constructs a wallet Provider using the given configuration.
func NewWalletProvider(cfg WalletProviderConfig) (*WalletProvider, error) {
	partnerCode := strings.TrimSpace(cfg.PartnerCode)
	accessKey := strings.TrimSpace(cfg.AccessKey)
	secretKey := strings.TrimSpace(cfg.SecretKey)
	endpoint := strings.TrimSpace(cfg.Endpoint)

	if partnerCode == "" {
		return nil, errors.New("wallet: partner code is required")
	}
	if accessKey == "" {
		return nil, errors.New("wallet: access key is required")
	}
	if secretKey == "" {
		return nil, errors.New("wallet: secret key is required")
	}
	if endpoint == "" {
		return nil, errors.New("wallet: endpoint is required")
	}

	requestType := strings.TrimSpace(cfg.RequestType)
	if requestType == "" {
		requestType = "captureWallet"
	}

	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	random := cfg.Random
	if random == nil {
		random = func() int64 { return rand.Int64N(10000) }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &WalletProvider{
		partnerCode: partnerCode,
		accessKey:   accessKey,
		secretKey:   []byte(secretKey),
		endpoint:    endpoint,
		ipnURL:      strings.TrimSpace(cfg.IPNURL),
		redirectURL: strings.TrimSpace(cfg.RedirectURL),
		requestType: requestType,
		client:      client,
		logger:      logger,
		clock: func() time.Time {
			return clock().UTC()
		},
		random: random,
	}, nil
}

// Name identifies the provider within the Manager registry.
func (p *WalletProvider) Name() string { return ProviderNameWallet }

type walletCreateRequest struct {
	PartnerCode string `json:"partnerCode"`
	AccessKey   string `json:"accessKey"`
	RequestID   string `json:"requestId"`
	Amount      int64  `json:"amount"`
	OrderID     string `json:"orderId"`
	OrderInfo   string `json:"orderInfo"`
	RedirectURL string `json:"redirectUrl"`
	IPNURL      string `json:"ipnUrl"`
	ExtraData   string `json:"extraData"`
	RequestType string `json:"requestType"`
	Lang        string `json:"lang"`
	Signature   string `json:"signature"`
}

type walletCreateResponse struct {
	RequestID  string `json:"requestId"`
	OrderID    string `json:"orderId"`
	PayURL     string `json:"payUrl"`
	Deeplink   string `json:"deeplink"`
	QRCodeURL  string `json:"qrCodeUrl"`
	ResultCode int64  `json:"resultCode"`
	Message    string `json:"message"`
}

// RequestPayment opens a payment session at the wallet gateway. The order and
// request identifiers sent to the provider are generated here and scoped to
// the provider; the shop's own order number travels only inside ExtraData.
func (p *WalletProvider) RequestPayment(ctx context.Context, req PaymentRequest) (PaymentSession, error) {
	if p == nil {
		return PaymentSession{}, errors.New("wallet: provider is nil")
	}
	if req.Amount <= 0 {
		return PaymentSession{}, errors.New("wallet: amount must be positive")
	}

	now := p.clock()
	providerOrderID := p.newReference(now)
	requestID := providerOrderID

	orderInfo := strings.TrimSpace(req.OrderInfo)
	if orderInfo == "" {
		orderInfo = "Thanh toan don hang " + strings.TrimSpace(req.OrderRef)
	}

	payload := walletCreateRequest{
		PartnerCode: p.partnerCode,
		AccessKey:   p.accessKey,
		RequestID:   requestID,
		Amount:      req.Amount,
		OrderID:     providerOrderID,
		OrderInfo:   orderInfo,
		RedirectURL: p.redirectURL,
		IPNURL:      p.ipnURL,
		ExtraData:   req.ExtraData,
		RequestType: p.requestType,
		Lang:        "vi",
	}
	payload.Signature = p.signCreateRequest(payload)

	body, err := json.Marshal(payload)
	if err != nil {
		return PaymentSession{}, fmt.Errorf("wallet: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return PaymentSession{}, fmt.Errorf("wallet: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger(ctx, "wallet.request.transport_error", map[string]any{
			"order_ref": req.OrderRef,
			"error":     err.Error(),
		})
		return PaymentSession{}, fmt.Errorf("wallet: call gateway: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PaymentSession{}, fmt.Errorf("wallet: read response: %w", err)
	}

	var decoded walletCreateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PaymentSession{}, fmt.Errorf("wallet: decode response: %w", err)
	}

	session := PaymentSession{
		Provider:        ProviderNameWallet,
		RequestID:       requestID,
		ProviderOrderID: providerOrderID,
		PayURL:          decoded.PayURL,
		Deeplink:        decoded.Deeplink,
		QRCodeURL:       decoded.QRCodeURL,
		ResultCode:      decoded.ResultCode,
		Message:         decoded.Message,
		Status:          StatusPending,
	}

	if resp.StatusCode >= 400 || decoded.ResultCode != 0 {
		session.Status = StatusFailed
		p.logger(ctx, "wallet.request.rejected", map[string]any{
			"order_ref":   req.OrderRef,
			"result_code": decoded.ResultCode,
			"http_status": resp.StatusCode,
		})
		return session, fmt.Errorf("%w: result code %d", ErrPaymentRejected, decoded.ResultCode)
	}

	return session, nil
}

// VerifyCallback recomputes the notification signature and reports whether the
// payload is authentic and whether the payment succeeded. A forged signature
// yields Valid=false without an error so callers can acknowledge and ignore.
func (p *WalletProvider) VerifyCallback(ctx context.Context, payload WalletCallback) (CallbackResult, error) {
	if p == nil {
		return CallbackResult{}, errors.New("wallet: provider is nil")
	}

	expected := p.signCallback(payload)
	provided := strings.TrimSpace(payload.Signature)

	if provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		p.logger(ctx, "wallet.callback.signature_mismatch", map[string]any{
			"provider_order_id": payload.OrderID,
			"request_id":        payload.RequestID,
		})
		return CallbackResult{Valid: false}, nil
	}

	return CallbackResult{
		Valid:           true,
		Paid:            payload.ResultCode == 0,
		RequestID:       payload.RequestID,
		ProviderOrderID: payload.OrderID,
		TransactionID:   strconv.FormatInt(payload.TransID, 10),
		Amount:          payload.Amount,
		ResultCode:      payload.ResultCode,
		Message:         payload.Message,
		ExtraData:       payload.ExtraData,
	}, nil
}

// newReference builds a provider-scoped identifier: unix seconds plus a
// 4-digit zero-padded random suffix.
func (p *WalletProvider) newReference(now time.Time) string {
	return fmt.Sprintf("%d_%04d", now.Unix(), p.random()%10000)
}

func (p *WalletProvider) signCreateRequest(req walletCreateRequest) string {
	raw := fmt.Sprintf(
		"accessKey=%s&amount=%s&extraData=%s&ipnUrl=%s&orderId=%s&orderInfo=%s&partnerCode=%s&redirectUrl=%s&requestId=%s&requestType=%s",
		p.accessKey,
		strconv.FormatInt(req.Amount, 10),
		req.ExtraData,
		req.IPNURL,
		req.OrderID,
		req.OrderInfo,
		req.PartnerCode,
		req.RedirectURL,
		req.RequestID,
		req.RequestType,
	)
	return p.hmacHex(raw)
}

func (p *WalletProvider) signCallback(payload WalletCallback) string {
	raw := fmt.Sprintf(
		"accessKey=%s&amount=%s&extraData=%s&message=%s&orderId=%s&orderInfo=%s&orderType=%s&partnerCode=%s&payType=%s&requestId=%s&responseTime=%s&resultCode=%s&transId=%s",
		p.accessKey,
		strconv.FormatInt(payload.Amount, 10),
		payload.ExtraData,
		payload.Message,
		payload.OrderID,
		payload.OrderInfo,
		payload.OrderType,
		payload.PartnerCode,
		payload.PayType,
		payload.RequestID,
		strconv.FormatInt(payload.ResponseTime, 10),
		strconv.FormatInt(payload.ResultCode, 10),
		strconv.FormatInt(payload.TransID, 10),
	)
	return p.hmacHex(raw)
}

func (p *WalletProvider) hmacHex(raw string) string {
	mac := hmac.New(sha256.New, p.secretKey)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
