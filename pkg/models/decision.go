package models

// Decision is a human response to an approval request.
type Decision string

const (
	// DecisionApprove approves a single pending request.
	DecisionApprove Decision = "approve"
	// DecisionAutoApprove approves the request and all future requests
	// from the same worker for the rest of the session.
	DecisionAutoApprove Decision = "auto_approve"
	// DecisionReject denies the request.
	DecisionReject Decision = "reject"
)

// Approved maps a decision onto the approve/deny outcome the requesting
// worker observes. Any value that is not an explicit approval is a denial,
// so ambiguous or unrecognized input fails closed.
func (d Decision) Approved() bool {
	return d == DecisionApprove || d == DecisionAutoApprove
}
