package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/saeid-a/TutorAppBack/internal/models"
)

// PaymentGateway is the external payment collaborator. It may be slow or
// fail transiently; callers bound it with a context timeout and must not
// hold any ledger lock across Process. idempotencyKey identifies the
// logical payment: retries of the same payment must send the same key so
// the gateway deduplicates instead of charging twice.
type PaymentGateway interface {
	Process(ctx context.Context, idempotencyKey string, amount float64, details models.PaymentDetails) (*PaymentResult, error)
}

// enrollmentPaymentKey derives the gateway idempotency key for an
// enrollment. Name-based UUIDs make the key stable across process
// restarts, so a resumed payment flow deduplicates at the gateway.
func enrollmentPaymentKey(enrollmentID int64) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("enrollment/%d", enrollmentID))).String()
}

type PaymentResult struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference"`
	Reason    string `json:"reason"`
}

type HTTPPaymentGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewHTTPPaymentGateway(baseURL, apiKey string) *HTTPPaymentGateway {
	return &HTTPPaymentGateway{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: http.DefaultClient,
	}
}

type processPaymentRequest struct {
	IdempotencyKey string                `json:"idempotency_key"`
	Amount         float64               `json:"amount"`
	PaymentDetails models.PaymentDetails `json:"payment_details"`
}

func (g *HTTPPaymentGateway) Process(ctx context.Context, idempotencyKey string, amount float64, details models.PaymentDetails) (*PaymentResult, error) {
	payload, err := json.Marshal(processPaymentRequest{
		IdempotencyKey: idempotencyKey,
		Amount:         amount,
		PaymentDetails: details,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payment request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/payments/process", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("process payment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("process payment: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result PaymentResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	return &result, nil
}
