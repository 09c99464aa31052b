package validator

import (
	"encoding/base64"
	"strings"

	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/tools/monthkey"
	"golang.org/x/text/unicode/norm"
)

// HouseInput represents the editable fields of a house
type HouseInput struct {
	HouseNumber string
	OwnerName   string
}

// ReadingInput represents the user-supplied fields of a meter reading
type ReadingInput struct {
	MonthKey        string
	PreviousReading *float64
	CurrentReading  *float64
	MeterImage      *string
}

// Validator handles form validation with configurable limits
type Validator struct {
	maxImageBytes int
}

// NewValidator creates a new validator with the specified image size limit
func NewValidator(maxImageBytes int) *Validator {
	return &Validator{
		maxImageBytes: maxImageBytes,
	}
}

// ValidateHouse trims, NFC-normalises and checks house fields
func (v *Validator) ValidateHouse(in HouseInput) (HouseInput, error) {
	in.HouseNumber = norm.NFC.String(strings.TrimSpace(in.HouseNumber))
	in.OwnerName = norm.NFC.String(strings.TrimSpace(in.OwnerName))

	if in.HouseNumber == "" {
		return in, apperr.Validation("house number is required")
	}
	if in.OwnerName == "" {
		return in, apperr.Validation("owner name is required")
	}
	return in, nil
}

// ValidateReading checks a reading form and returns the display label of its month
func (v *Validator) ValidateReading(in ReadingInput) (string, error) {
	if in.CurrentReading == nil || in.PreviousReading == nil {
		return "", apperr.Validation("both previous and current meter readings are required")
	}

	label, err := monthkey.Label(in.MonthKey)
	if err != nil {
		return "", apperr.Validation("month key %q must use the YYYY-MM format", in.MonthKey)
	}

	if in.MeterImage != nil {
		if err := v.validateImage(*in.MeterImage); err != nil {
			return "", err
		}
	}

	return label, nil
}

// validateImage accepts a base64 payload, optionally wrapped in a data URL
func (v *Validator) validateImage(image string) error {
	payload := image
	if strings.HasPrefix(image, "data:") {
		header, data, found := strings.Cut(image, ",")
		if !found || !strings.HasSuffix(header, ";base64") {
			return apperr.Validation("meter image must be a base64 data URL")
		}
		if !strings.HasPrefix(header, "data:image/") {
			return apperr.Validation("meter image must be an image")
		}
		payload = data
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return apperr.Validation("meter image is not valid base64")
	}
	if v.maxImageBytes > 0 && len(decoded) > v.maxImageBytes {
		return apperr.Validation("meter image exceeds %d bytes", v.maxImageBytes)
	}
	return nil
}
