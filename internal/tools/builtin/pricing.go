package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/nexus-core/internal/tools"
)

// Season buckets for stay pricing. Winter holidays price highest.
const (
	SeasonHigh = "high"
	SeasonMid  = "mid"
	SeasonLow  = "low"
)

// SeasonForDate returns the pricing season containing the date:
// December through March is high, July and August mid, the rest low.
func SeasonForDate(date time.Time) string {
	switch date.Month() {
	case time.December, time.January, time.February, time.March:
		return SeasonHigh
	case time.July, time.August:
		return SeasonMid
	default:
		return SeasonLow
	}
}

// RoomRate is one priced room/season combination.
type RoomRate struct {
	RoomTypeID    string `json:"roomTypeId"`
	Season        string `json:"season"`
	PricePerNight int64  `json:"pricePerNight"`
	MinStay       int    `json:"minStay"`
}

// StayQuote is the computed price for a stay.
type StayQuote struct {
	Nights       int    `json:"nights"`
	Total        int64  `json:"total"`
	MeetsMinStay bool   `json:"meetsMinStay"`
	Season       string `json:"season"`
}

// CalculateStayPrice quotes a stay: the season comes from the check-in
// date, the matching rate from (roomTypeId, season), and the total is
// nights x pricePerNight. Nights are whole days between check-in and
// check-out.
func CalculateStayPrice(rates []RoomRate, roomTypeID string, checkIn, checkOut time.Time) (StayQuote, error) {
	if !checkOut.After(checkIn) {
		return StayQuote{}, fmt.Errorf("check-out must be after check-in")
	}
	nights := int(checkOut.Sub(checkIn).Hours() / 24)
	season := SeasonForDate(checkIn)

	for _, rate := range rates {
		if rate.RoomTypeID != roomTypeID || rate.Season != season {
			continue
		}
		return StayQuote{
			Nights:       nights,
			Total:        int64(nights) * rate.PricePerNight,
			MeetsMinStay: nights >= rate.MinStay,
			Season:       season,
		}, nil
	}
	return StayQuote{}, fmt.Errorf("no rate for room %q in season %q", roomTypeID, season)
}

// StayPricing quotes stays from a rate table supplied in the call input.
type StayPricing struct{}

func NewStayPricing() *StayPricing { return &StayPricing{} }

func (s *StayPricing) Meta() tools.Metadata {
	return tools.Metadata{
		ID:          "stay_pricing",
		Name:        "Stay Pricing",
		Description: "Quote the price of a stay given a seasonal rate table, room type, and dates.",
		Category:    "booking",
		Risk:        tools.RiskLow,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"rates": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"roomTypeId": {"type": "string"},
							"season": {"type": "string", "enum": ["high", "mid", "low"]},
							"pricePerNight": {"type": "integer", "minimum": 0},
							"minStay": {"type": "integer", "minimum": 0}
						},
						"required": ["roomTypeId", "season", "pricePerNight"]
					}
				},
				"roomTypeId": {"type": "string"},
				"checkIn": {"type": "string", "format": "date"},
				"checkOut": {"type": "string", "format": "date"}
			},
			"required": ["rates", "roomTypeId", "checkIn", "checkOut"],
			"additionalProperties": false
		}`),
		OutputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"nights": {"type": "integer"},
				"total": {"type": "integer"},
				"meetsMinStay": {"type": "boolean"},
				"season": {"type": "string"}
			}
		}`),
	}
}

func (s *StayPricing) Execute(ctx context.Context, input json.RawMessage, rc *tools.RunContext) (string, error) {
	var params struct {
		Rates      []RoomRate `json:"rates"`
		RoomTypeID string     `json:"roomTypeId"`
		CheckIn    string     `json:"checkIn"`
		CheckOut   string     `json:"checkOut"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return "", fmt.Errorf("invalid parameters: %w", err)
	}

	checkIn, err := time.Parse("2006-01-02", params.CheckIn)
	if err != nil {
		return "", fmt.Errorf("invalid checkIn date: %w", err)
	}
	checkOut, err := time.Parse("2006-01-02", params.CheckOut)
	if err != nil {
		return "", fmt.Errorf("invalid checkOut date: %w", err)
	}

	quote, err := CalculateStayPrice(params.Rates, params.RoomTypeID, checkIn, checkOut)
	if err != nil {
		return "", err
	}
	out, _ := json.Marshal(quote)
	return string(out), nil
}
