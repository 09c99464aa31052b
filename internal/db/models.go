package db

import (
	"time"

	"github.com/google/uuid"
)

// House represents a billed household
type House struct {
	ID          uuid.UUID      `json:"id"`
	HouseNumber string         `json:"house_number"`
	OwnerName   string         `json:"owner_name"`
	CreatedAt   time.Time      `json:"created_at"`
	Readings    []MeterReading `json:"readings"`
}

// MeterReading represents one monthly meter reading for a house.
// RatePerUnit is the rate captured when the reading was recorded.
type MeterReading struct {
	ID              uuid.UUID `json:"id"`
	HouseID         uuid.UUID `json:"house_id"`
	MonthKey        string    `json:"month_key"`
	Month           string    `json:"month"`
	PreviousReading float64   `json:"previous_reading"`
	CurrentReading  float64   `json:"current_reading"`
	UnitsUsed       float64   `json:"units_used"`
	RatePerUnit     float64   `json:"rate_per_unit"`
	TotalAmount     float64   `json:"total_amount"`
	DateRecorded    time.Time `json:"date_recorded"`
	MeterImage      *string   `json:"meter_image"`
	CreatedAt       time.Time `json:"created_at"`
}

// WaterUnitRate represents a per-unit water price
type WaterUnitRate struct {
	ID            uuid.UUID `json:"id"`
	RatePerUnit   float64   `json:"rate_per_unit"`
	EffectiveFrom time.Time `json:"effective_from"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}
