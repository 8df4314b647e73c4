package agency

import "time"

type Approval string

const (
	ApprovalPending   Approval = "pending"
	ApprovalApproved  Approval = "approved"
	ApprovalRejected  Approval = "rejected"
	ApprovalSuspended Approval = "suspended"
)

// Agency is a travel agency as seen by the distribution pipeline.
// AgentTargets lists the targets of active agents only.
type Agency struct {
	ID               string
	Name             string
	Approval         Approval
	Regions          []string
	Specializations  []string
	Rating           float64
	BroadcastTargets []string
	AgentTargets     []string
	CreatedAt        time.Time
}

type Agent struct {
	ID        string
	AgencyID  string
	FullName  string
	Target    string
	Active    bool
	CreatedAt time.Time
}
