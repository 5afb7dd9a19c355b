package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/jordanvale/loanbridge-backend/pkg/config"
	"github.com/jordanvale/loanbridge-backend/pkg/enums"
	pkgerrors "github.com/jordanvale/loanbridge-backend/pkg/errors"
	"github.com/jordanvale/loanbridge-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	defaultCallTimeout = 15 * time.Second
)

var (
	errAccessTokenRequired = errors.New("processor access token is required")
	errLocationRequired    = errors.New("processor location id is required")
	errInvalidProcessorEnv = fmt.Errorf("processor environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("processor logger is required")
)

var baseURLs = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// InitiateParams describe a new money movement to submit to the processor.
type InitiateParams struct {
	TransactionID  uuid.UUID
	LoanID         uuid.UUID
	Kind           enums.TransactionKind
	Amount         decimal.Decimal
	Currency       string
	SourceID       string
	IdempotencyKey string
}

// Client wraps the Square SDK with centralized auth, logging, bounded
// timeouts, idempotency keys, and error normalization. Disbursements and
// collections both ride the delayed-capture payment rail: create leaves the
// payment approved, complete captures it, and settlement is read back from
// the payment status.
type Client struct {
	sdk         *sqclient.Client
	environment string
	locationID  string
	sourceID    string
	currency    string
	timeout     time.Duration
	logger      *logger.Logger
}

// NewClient initializes the processor wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.ProcessorConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment)
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}

	currency, err := enums.ParseCurrency(strings.ToUpper(strings.TrimSpace(cfg.Currency)))
	if err != nil {
		return nil, err
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(baseURLs[env]),
		sqoption.WithToken(accessToken),
	)

	c := &Client{
		sdk:         sdk,
		environment: env,
		locationID:  locationID,
		sourceID:    strings.TrimSpace(cfg.DefaultSourceID),
		currency:    currency.String(),
		timeout:     timeout,
		logger:      logg,
	}

	logg.Info(ctx, "processor client initialized")
	return c, nil
}

// Environment reports the normalized processor environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// NewIdempotencyKey returns a unique key for processor operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "lb"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// Initiate submits a new transaction. The returned external id must be
// persisted before any retry; a lost response leaves the outcome ambiguous
// and callers are expected to FetchStatus before initiating again.
func (c *Client) Initiate(ctx context.Context, params InitiateParams) (*InitiateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	amountCents := params.Amount.Round(2).Mul(decimal.NewFromInt(100)).IntPart()
	c.log(ctx, "request", "initiate", map[string]any{
		"transaction_id": params.TransactionID,
		"loan_id":        params.LoanID,
		"kind":           params.Kind,
		"amount_cents":   amountCents,
	})

	sourceID := strings.TrimSpace(params.SourceID)
	if sourceID == "" {
		sourceID = c.sourceID
	}
	autocomplete := false
	req := &sq.CreatePaymentRequest{
		IdempotencyKey: c.ensureIdempotencyKey("txn.initiate", params.IdempotencyKey),
		SourceID:       sourceID,
		LocationID:     ptrString(c.locationID),
		Autocomplete:   &autocomplete,
		AmountMoney:    moneyPtr(amountCents, c.pickCurrency(params.Currency)),
		ReferenceID:    ptrString(params.TransactionID.String()),
		Note:           ptrString(fmt.Sprintf("loan %s %s slot", params.LoanID, params.Kind)),
	}

	resp, err := c.sdk.Payments.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "initiate", map[string]any{"error": err.Error()})
		return nil, c.mapProcessorError(err, "initiate")
	}

	payment := resp.GetPayment()
	result := &InitiateResult{
		ExternalID: stringValue(payment.GetID()),
		State:      normalizeRemoteState(stringValue(payment.GetStatus())),
	}
	c.log(ctx, "response", "initiate", map[string]any{
		"external_id": result.ExternalID,
		"state":       result.State,
	})
	return result, nil
}

// Authorize asks the processor to clear the transaction for settlement.
func (c *Client) Authorize(ctx context.Context, externalID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log(ctx, "request", "authorize", map[string]any{"external_id": externalID})

	req := &sq.CompletePaymentRequest{PaymentID: externalID}
	resp, err := c.sdk.Payments.Complete(ctx, req)
	if err != nil {
		c.log(ctx, "error", "authorize", map[string]any{"error": err.Error()})
		return c.mapProcessorError(err, "authorize")
	}

	payment := resp.GetPayment()
	c.log(ctx, "response", "authorize", map[string]any{
		"external_id": stringValue(payment.GetID()),
		"state":       normalizeRemoteState(stringValue(payment.GetStatus())),
	})
	return nil
}

// FetchStatus reads the authoritative processor status by external id.
func (c *Client) FetchStatus(ctx context.Context, externalID string) (*RemoteStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log(ctx, "request", "fetch_status", map[string]any{"external_id": externalID})

	req := &sq.GetPaymentsRequest{PaymentID: externalID}
	resp, err := c.sdk.Payments.Get(ctx, req)
	if err != nil {
		c.log(ctx, "error", "fetch_status", map[string]any{"error": err.Error()})
		return nil, c.mapProcessorError(err, "fetch status")
	}

	payment := resp.GetPayment()
	status := &RemoteStatus{
		ExternalID: stringValue(payment.GetID()),
		State:      normalizeRemoteState(stringValue(payment.GetStatus())),
	}
	if status.State == StateSettled {
		if settled := parseTimestamp(stringValue(payment.GetUpdatedAt())); settled != nil {
			status.SettledAt = settled
		}
	}
	if status.State == StateFailed || status.State == StateCanceled {
		if code := c.firstErrorCode(payment); code != "" {
			status.ErrorCode = &code
		}
	}

	c.log(ctx, "response", "fetch_status", map[string]any{
		"external_id": status.ExternalID,
		"state":       status.State,
	})
	return status, nil
}

func (c *Client) firstErrorCode(payment *sq.Payment) string {
	if payment == nil {
		return ""
	}
	// Square reports capture declines on the payment itself.
	if status := stringValue(payment.GetStatus()); strings.EqualFold(status, "CANCELED") {
		return "PROCESSOR_CANCELED"
	}
	return "PROCESSOR_FAILED"
}

func (c *Client) pickCurrency(requested string) string {
	if trimmed := strings.ToUpper(strings.TrimSpace(requested)); trimmed != "" {
		return trimmed
	}
	if c.currency != "" {
		return c.currency
	}
	return "USD"
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("processor %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("processor %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"source", "token", "account", "routing", "secret"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// mapProcessorError translates SDK failures into the gateway error taxonomy:
// timeouts, rejections with a processor code, and plain network failures.
func (c *Client) mapProcessorError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, fmt.Sprintf("processor %s timed out", op))
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusGatewayTimeout || apiErr.StatusCode == http.StatusRequestTimeout {
			return pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, fmt.Sprintf("processor %s timed out", op))
		}
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			wrapped := pkgerrors.Wrap(pkgerrors.CodeProcessorRejected, err, fmt.Sprintf("processor rejected %s", op))
			if code := c.firstAPIErrorCode(apiErr); code != "" {
				return wrapped.WithDetails(map[string]any{"processor_code": code})
			}
			return wrapped
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("processor %s failed", op))
}

// RejectionCode extracts the verbatim processor code from a gateway error,
// if the processor reported one.
func RejectionCode(err error) string {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeProcessorRejected {
		return ""
	}
	if details, ok := typed.Details().(map[string]any); ok {
		if code, ok := details["processor_code"].(string); ok {
			return code
		}
	}
	return string(pkgerrors.CodeProcessorRejected)
}

func (c *Client) firstAPIErrorCode(apiErr *sqcore.APIError) string {
	if apiErr == nil {
		return ""
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return ""
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return ""
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return ""
	}
	for _, sqErr := range payload.Errors {
		if sqErr != nil && sqErr.Code != "" {
			return string(sqErr.Code)
		}
	}
	return ""
}

func parseTimestamp(raw string) *time.Time {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func ptrString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func int64Ptr(value int64) *int64 {
	return &value
}

func currencyPtr(code string) *sq.Currency {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		trimmed = "USD"
	}
	currency := sq.Currency(trimmed)
	return &currency
}

func moneyPtr(amount int64, currency string) *sq.Money {
	if amount == 0 {
		return nil
	}
	return &sq.Money{
		Amount:   int64Ptr(amount),
		Currency: currencyPtr(currency),
	}
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidProcessorEnv
	}
}
