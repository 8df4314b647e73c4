package trip

import "time"

// Status of a trip request. Only the open → distributed flip is owned here;
// any other value written by the booking side is carried through untouched.
type Status string

const (
	StatusOpen        Status = "open"
	StatusDistributed Status = "distributed"
)

type Request struct {
	ID            string
	UserID        string
	Destination   string
	Origin        string
	TripType      string
	DepartureDate *time.Time
	ReturnDate    *time.Time
	Adults        int
	Children      int
	ChildrenAges  []int
	Infants       int
	BudgetMin     *int64
	BudgetMax     *int64
	Currency      string
	Preferences   []string
	Notes         string
	ExpiresAt     *time.Time
	// SourceTarget is the delivery target the request came in from, e.g. the
	// traveler's own chat. It is never sent the request back.
	SourceTarget string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
