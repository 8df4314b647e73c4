package payload

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rfqflow/trip"
)

func ptr[T any](v T) *T { return &v }

func TestBudgetRange(t *testing.T) {
	tests := []struct {
		name string
		min  *int64
		max  *int64
		want *string
	}{
		{name: "both bounds", min: ptr(int64(1000)), max: ptr(int64(3000)), want: ptr("1000-3000 EUR")},
		{name: "max only", max: ptr(int64(3000)), want: ptr("up to 3000 EUR")},
		{name: "min only", min: ptr(int64(1000)), want: ptr("from 1000 EUR")},
		{name: "neither", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BudgetRange(tt.min, tt.max, "EUR"))
		})
	}
}

func TestBuild_FullRequest(t *testing.T) {
	// Departure is late evening in UTC-5, which is already the next day in UTC.
	ny := time.FixedZone("UTC-5", -5*3600)
	req := trip.Request{
		ID:            "trip-1",
		Destination:   " Dubai ",
		Origin:        "Berlin",
		TripType:      "family",
		DepartureDate: ptr(time.Date(2026, 2, 28, 22, 0, 0, 0, ny)),
		ReturnDate:    ptr(time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)),
		Adults:        2,
		Children:      2,
		ChildrenAges:  []int{5, 9},
		Infants:       1,
		BudgetMin:     ptr(int64(2000)),
		BudgetMax:     ptr(int64(5000)),
		Currency:      "EUR",
		Preferences:   []string{"beach", " ", "kids club"},
		Notes:         "Sea view please",
	}

	p := Build(req)

	assert.Equal(t, "trip-1", p.TripRequestID)
	assert.Equal(t, "Dubai", p.Destination)
	assert.Equal(t, "2026-03-01", p.DepartureDate)
	assert.Equal(t, "2026-03-08", p.ReturnDate)
	require.NotNil(t, p.BudgetRange)
	assert.Equal(t, "2000-5000 EUR", *p.BudgetRange)

	want := "Destination: Dubai\n" +
		"From: Berlin\n" +
		"Dates: 2026-03-01 to 2026-03-08\n" +
		"Travelers: 2 adults, 2 children (ages 5, 9), 1 infant\n" +
		"Trip type: family\n" +
		"Budget: 2000-5000 EUR\n" +
		"Preferences: beach, kids club\n" +
		"Notes: Sea view please"
	assert.Equal(t, want, p.Summary)
}

func TestBuild_OmitsEmptySections(t *testing.T) {
	p := Build(trip.Request{ID: "trip-2", Destination: "Paris", Adults: 1})

	assert.Equal(t, "Destination: Paris\nTravelers: 1 adult", p.Summary)
	assert.Nil(t, p.BudgetRange)
	assert.Empty(t, p.DepartureDate)
	assert.Empty(t, p.ReturnDate)
	assert.NotNil(t, p.ChildrenAges)
	assert.NotNil(t, p.Preferences)
}

func TestBuild_ChildrenWithoutAges(t *testing.T) {
	p := Build(trip.Request{Adults: 2, Children: 1, ReturnDate: ptr(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))})

	assert.Equal(t, "Dates: until 2026-05-01\nTravelers: 2 adults, 1 child", p.Summary)
}

func TestBuild_Deterministic(t *testing.T) {
	req := trip.Request{
		ID:           "trip-3",
		Destination:  "Rome",
		Adults:       2,
		ChildrenAges: []int{4},
		Children:     1,
		Preferences:  []string{"museums"},
		BudgetMin:    ptr(int64(500)),
		Currency:     "USD",
	}

	first, err := json.Marshal(Build(req))
	require.NoError(t, err)
	second, err := json.Marshal(Build(req))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBuild_CopiesSlices(t *testing.T) {
	req := trip.Request{ChildrenAges: []int{3}, Preferences: []string{"spa"}}
	p := Build(req)

	req.ChildrenAges[0] = 99
	req.Preferences[0] = "changed"

	assert.Equal(t, []int{3}, p.ChildrenAges)
	assert.Equal(t, []string{"spa"}, p.Preferences)
}
