package builtin

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func date(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestSeasonForDate(t *testing.T) {
	tests := []struct {
		date string
		want string
	}{
		{"2025-01-15", SeasonHigh},
		{"2025-12-24", SeasonHigh},
		{"2025-03-31", SeasonHigh},
		{"2025-07-10", SeasonMid},
		{"2025-08-31", SeasonMid},
		{"2025-05-01", SeasonLow},
		{"2025-10-15", SeasonLow},
	}
	for _, tt := range tests {
		if got := SeasonForDate(date(tt.date)); got != tt.want {
			t.Errorf("SeasonForDate(%s) = %s, want %s", tt.date, got, tt.want)
		}
	}
}

func TestCalculateStayPrice(t *testing.T) {
	rates := []RoomRate{
		{RoomTypeID: "standard", Season: SeasonHigh, PricePerNight: 10000, MinStay: 2},
	}

	quote, err := CalculateStayPrice(rates, "standard", date("2025-01-10"), date("2025-01-15"))
	if err != nil {
		t.Fatal(err)
	}
	if quote.Nights != 5 {
		t.Errorf("nights = %d, want 5", quote.Nights)
	}
	if quote.Total != 50000 {
		t.Errorf("total = %d, want 50000", quote.Total)
	}
	if !quote.MeetsMinStay {
		t.Error("meetsMinStay = false, want true")
	}
	if quote.Season != SeasonHigh {
		t.Errorf("season = %s, want high", quote.Season)
	}
}

func TestCalculateStayPriceNoMatchingRate(t *testing.T) {
	rates := []RoomRate{
		{RoomTypeID: "standard", Season: SeasonLow, PricePerNight: 5000},
	}
	if _, err := CalculateStayPrice(rates, "standard", date("2025-01-10"), date("2025-01-12")); err == nil {
		t.Fatal("expected error: no high-season rate")
	}
}

func TestCalculateStayPriceRejectsInvertedDates(t *testing.T) {
	if _, err := CalculateStayPrice(nil, "standard", date("2025-01-15"), date("2025-01-10")); err == nil {
		t.Fatal("expected error for check-out before check-in")
	}
}

func TestStayPricingExecute(t *testing.T) {
	s := NewStayPricing()
	input := `{
		"rates": [{"roomTypeId":"standard","season":"high","pricePerNight":10000,"minStay":2}],
		"roomTypeId": "standard",
		"checkIn": "2025-01-10",
		"checkOut": "2025-01-15"
	}`
	out, err := s.Execute(context.Background(), json.RawMessage(input), nil)
	if err != nil {
		t.Fatal(err)
	}
	var quote StayQuote
	if err := json.Unmarshal([]byte(out), &quote); err != nil {
		t.Fatal(err)
	}
	if quote.Nights != 5 || quote.Total != 50000 || !quote.MeetsMinStay || quote.Season != SeasonHigh {
		t.Errorf("quote = %+v", quote)
	}
}
