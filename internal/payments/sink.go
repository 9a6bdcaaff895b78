package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// Record is one payment event shipped to the sink.
type Record struct {
	ID         string    `json:"id"`
	PlanID     string    `json:"planId"`
	Amount     float64   `json:"amount"`
	OccurredAt time.Time `json:"occurredAt"`
	UserID     string    `json:"userId"`
}

// Sink posts payment records to a collector endpoint. Delivery is best
// effort: errors are returned for the caller to log, never to retry or
// surface to the user.
type Sink struct {
	url    string
	client *http.Client
}

// NewSink builds a sink for the given collector URL.
func NewSink(url string) *Sink {
	return &Sink{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Record ships one payment event with a fresh ULID.
func (s *Sink) Record(ctx context.Context, planID string, amount float64, occurredAt time.Time, userID string) error {
	rec := Record{
		ID:         ulid.Make().String(),
		PlanID:     planID,
		Amount:     amount,
		OccurredAt: occurredAt.UTC(),
		UserID:     userID,
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("payments: encode record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("payments: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("payments: post record: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("payments: sink returned status %d", resp.StatusCode)
	}

	log.Debug().Str("plan", planID).Float64("amount", amount).Msg("Payment recorded")
	return nil
}
