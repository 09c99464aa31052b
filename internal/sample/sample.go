package sample

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Rate is the per-unit rate sample readings are billed at
const Rate = 5.0

const defaultBaseURL = "https://generativelanguage.googleapis.com"

const prompt = `Generate a list of 5 sample houses for a Thai village water billing system. ` +
	`Each house needs a 'house_number' (e.g., 123/45) and a realistic Thai 'owner_name'. ` +
	`For 'readings', create 2-3 months of historical data with 'month_key' as 'YYYY-MM', ` +
	`'previous_reading', 'current_reading' (current > previous) and 'date_recorded' as an ISO 8601 string. ` +
	`Respond with a JSON array only, using snake_case field names.`

// House is one generated house with its reading history
type House struct {
	HouseNumber string    `json:"house_number"`
	OwnerName   string    `json:"owner_name"`
	Readings    []Reading `json:"readings"`
}

// Reading is one generated monthly reading
type Reading struct {
	MonthKey        string    `json:"month_key"`
	PreviousReading float64   `json:"previous_reading"`
	CurrentReading  float64   `json:"current_reading"`
	DateRecorded    time.Time `json:"date_recorded"`
}

// Source reports where a sample set came from
type Source string

const (
	SourceGenerated Source = "generated"
	SourceStatic    Source = "static"
)

// Generator asks a generative language API for sample houses and falls back
// to a static list whenever that is not possible
type Generator struct {
	client *resty.Client
	apiKey string
	model  string
	logger *zap.Logger
}

// NewGenerator creates a generator. An empty apiKey always yields the static list.
func NewGenerator(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *Generator {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Generator{
		client: client,
		apiKey: apiKey,
		model:  model,
		logger: logger,
	}
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Generate returns sample houses. It never fails: any problem with the API
// is logged and the static list is returned.
func (g *Generator) Generate(ctx context.Context) ([]House, Source) {
	if g.apiKey == "" {
		g.logger.Info("sample API key not set, using static sample data")
		return Static(), SourceStatic
	}

	houses, err := g.generate(ctx)
	if err != nil {
		g.logger.Warn("sample generation failed, using static sample data", zap.Error(err))
		return Static(), SourceStatic
	}
	return houses, SourceGenerated
}

func (g *Generator) generate(ctx context.Context) ([]House, error) {
	var out generateResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("x-goog-api-key", g.apiKey).
		SetBody(generateRequest{
			Contents: []content{{Parts: []part{{Text: prompt}}}},
			GenerationConfig: generationConfig{
				ResponseMimeType: "application/json",
				Temperature:      0.9,
			},
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", g.model))
	if err != nil {
		return nil, fmt.Errorf("sample API request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("sample API returned %s", resp.Status())
	}

	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return nil, errors.New("sample API returned no candidates")
	}

	var houses []House
	text := strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text)
	if err := json.Unmarshal([]byte(text), &houses); err != nil {
		return nil, fmt.Errorf("sample API returned malformed data: %w", err)
	}
	if len(houses) == 0 {
		return nil, errors.New("sample API returned an empty list")
	}
	for i, h := range houses {
		if strings.TrimSpace(h.HouseNumber) == "" {
			return nil, fmt.Errorf("sample house %d has no house number", i)
		}
	}
	return houses, nil
}

// Static returns the built-in sample houses
func Static() []House {
	return []House{
		{
			HouseNumber: "11/22",
			OwnerName:   "สมศักดิ์ รักไทย",
			Readings: []Reading{
				{MonthKey: "2024-05", PreviousReading: 100, CurrentReading: 125, DateRecorded: time.Date(2024, 5, 31, 10, 0, 0, 0, time.UTC)},
				{MonthKey: "2024-06", PreviousReading: 125, CurrentReading: 155, DateRecorded: time.Date(2024, 6, 30, 10, 0, 0, 0, time.UTC)},
			},
		},
		{
			HouseNumber: "33/44",
			OwnerName:   "มานี มีนา",
			Readings:    []Reading{},
		},
		{
			HouseNumber: "55/66",
			OwnerName:   "สมศรี มีสุข",
			Readings: []Reading{
				{MonthKey: "2024-06", PreviousReading: 500, CurrentReading: 520, DateRecorded: time.Date(2024, 6, 30, 11, 0, 0, 0, time.UTC)},
			},
		},
	}
}
