package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/logging"
	"github.com/septivank/water-billing/internal/validator"
	"go.uber.org/zap"
)

// Submission is a reading sent by a field collector over the message broker
type Submission struct {
	RequestID       string    `json:"request_id"`
	HouseID         string    `json:"house_id"`
	HouseNumber     string    `json:"house_number"`
	MonthKey        string    `json:"month_key"`
	PreviousReading *float64  `json:"previous_reading"`
	CurrentReading  *float64  `json:"current_reading"`
	MeterImage      *string   `json:"meter_image"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// HandleSubmission records a reading received from the broker. A returned
// error dead-letters the message; writes queued offline count as handled.
func (s *BillingService) HandleSubmission(ctx context.Context, body []byte) error {
	var msg Submission
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal submission: %w", err)
	}

	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	reqLogger := logging.WithRequestID(s.logger, msg.RequestID)
	reqLogger.Info("processing reading submission",
		zap.String("house_id", msg.HouseID),
		zap.String("house_number", msg.HouseNumber),
		zap.String("month_key", msg.MonthKey))

	houseID, err := s.resolveSubmissionHouse(ctx, msg)
	if err != nil {
		reqLogger.Error("failed to resolve house", zap.Error(err))
		return err
	}

	result, err := s.RecordReading(ctx, houseID, validator.ReadingInput{
		MonthKey:        msg.MonthKey,
		PreviousReading: msg.PreviousReading,
		CurrentReading:  msg.CurrentReading,
		MeterImage:      msg.MeterImage,
	})
	if err != nil {
		reqLogger.Error("failed to record submitted reading", zap.Error(err))
		return fmt.Errorf("failed to record reading: %w", err)
	}

	reqLogger.Info("reading submission processed",
		zap.String("reading_id", result.Reading.ID.String()),
		zap.Bool("queued", result.Outcome.Queued))
	return nil
}

func (s *BillingService) resolveSubmissionHouse(ctx context.Context, msg Submission) (uuid.UUID, error) {
	if msg.HouseID != "" {
		id, err := uuid.Parse(msg.HouseID)
		if err != nil {
			return uuid.Nil, apperr.Validation("invalid house id %q", msg.HouseID)
		}
		return id, nil
	}

	number := strings.TrimSpace(msg.HouseNumber)
	if number == "" {
		return uuid.Nil, apperr.Validation("submission must name a house id or house number")
	}

	houses, _, err := s.ListHouses(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	for _, h := range houses {
		if strings.EqualFold(h.HouseNumber, number) {
			return h.ID, nil
		}
	}
	return uuid.Nil, apperr.NotFound("house number", number)
}
