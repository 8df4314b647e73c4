package payload

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"rfqflow/trip"
)

const dateLayout = "2006-01-02"

// Payload is the frozen snapshot of a trip request that is stored on every
// distribution and rendered later. It must not depend on the live request.
type Payload struct {
	TripRequestID string   `json:"trip_request_id"`
	Destination   string   `json:"destination"`
	Origin        string   `json:"origin"`
	TripType      string   `json:"trip_type"`
	DepartureDate string   `json:"departure_date"`
	ReturnDate    string   `json:"return_date"`
	Adults        int      `json:"adults"`
	Children      int      `json:"children"`
	ChildrenAges  []int    `json:"children_ages"`
	Infants       int      `json:"infants"`
	BudgetRange   *string  `json:"budget_range"`
	Currency      string   `json:"currency"`
	Preferences   []string `json:"preferences"`
	Notes         string   `json:"notes"`
	Summary       string   `json:"summary"`
}

// Build derives the payload for req. It reads no clock and iterates no maps,
// so the same request always yields the same payload.
func Build(req trip.Request) Payload {
	p := Payload{
		TripRequestID: req.ID,
		Destination:   strings.TrimSpace(req.Destination),
		Origin:        strings.TrimSpace(req.Origin),
		TripType:      strings.TrimSpace(req.TripType),
		DepartureDate: formatDate(req.DepartureDate),
		ReturnDate:    formatDate(req.ReturnDate),
		Adults:        req.Adults,
		Children:      req.Children,
		ChildrenAges:  append([]int{}, req.ChildrenAges...),
		Infants:       req.Infants,
		BudgetRange:   BudgetRange(req.BudgetMin, req.BudgetMax, req.Currency),
		Currency:      strings.TrimSpace(req.Currency),
		Preferences:   append([]string{}, req.Preferences...),
		Notes:         strings.TrimSpace(req.Notes),
	}
	p.Summary = summarize(p)
	return p
}

// BudgetRange formats the budget bounds, nil when neither is set.
func BudgetRange(lo, hi *int64, currency string) *string {
	ccy := strings.TrimSpace(currency)
	var s string
	switch {
	case lo != nil && hi != nil:
		s = fmt.Sprintf("%d-%d %s", *lo, *hi, ccy)
	case hi != nil:
		s = fmt.Sprintf("up to %d %s", *hi, ccy)
	case lo != nil:
		s = fmt.Sprintf("from %d %s", *lo, ccy)
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	return &s
}

func formatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

func summarize(p Payload) string {
	var sections []string
	add := func(label, value string) {
		if value != "" {
			sections = append(sections, label+": "+value)
		}
	}

	add("Destination", p.Destination)
	add("From", p.Origin)
	add("Dates", dates(p.DepartureDate, p.ReturnDate))
	add("Travelers", travelers(p))
	add("Trip type", p.TripType)
	if p.BudgetRange != nil {
		add("Budget", *p.BudgetRange)
	}
	add("Preferences", strings.Join(nonEmpty(p.Preferences), ", "))
	add("Notes", p.Notes)

	return strings.Join(sections, "\n")
}

func dates(departure, ret string) string {
	switch {
	case departure != "" && ret != "":
		return departure + " to " + ret
	case departure != "":
		return "from " + departure
	case ret != "":
		return "until " + ret
	}
	return ""
}

func travelers(p Payload) string {
	var parts []string
	if p.Adults > 0 {
		parts = append(parts, plural(p.Adults, "adult", "adults"))
	}
	if p.Children > 0 {
		part := plural(p.Children, "child", "children")
		if len(p.ChildrenAges) > 0 {
			ages := make([]string, 0, len(p.ChildrenAges))
			for _, age := range p.ChildrenAges {
				ages = append(ages, strconv.Itoa(age))
			}
			part += " (ages " + strings.Join(ages, ", ") + ")"
		}
		parts = append(parts, part)
	}
	if p.Infants > 0 {
		parts = append(parts, plural(p.Infants, "infant", "infants"))
	}
	return strings.Join(parts, ", ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return "1 " + one
	}
	return strconv.Itoa(n) + " " + many
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
