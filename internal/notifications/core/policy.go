package core

import (
	"courier/internal/notifications/email"
	"courier/internal/types"
)

// PolicyDecision is the verdict of the recipient skip policy.
type PolicyDecision string

const (
	PolicyDeliver   PolicyDecision = "deliver"
	PolicyNoContact PolicyDecision = "no_contact"
	PolicyOptedOut  PolicyDecision = "opted_out"
)

// PolicyResult carries the decision, the normalized address to send to and
// a human-readable reason.
type PolicyResult struct {
	Decision PolicyDecision
	Address  string
	Reason   string
}

// Outcome maps a skip decision to its Outcome. PolicyDeliver has none.
func (r PolicyResult) Outcome() Outcome {
	switch r.Decision {
	case PolicyNoContact:
		return OutcomeNoContact
	case PolicyOptedOut:
		return OutcomeOptedOut
	}
	return ""
}

// EvaluateRecipient decides whether a resolved user can receive email.
//
// Decision logic, in order:
//  1. nil profile (unknown user) -> no contact
//  2. missing or syntactically invalid address -> no contact
//  3. email_notifications explicitly false -> opted out
//  4. otherwise -> deliver to the normalized address
//
// An absent preferences object, or an absent flag, counts as enabled.
func EvaluateRecipient(user *types.UserProfile) PolicyResult {
	if user == nil {
		return PolicyResult{Decision: PolicyNoContact, Reason: ReasonNoContact}
	}

	addr := email.NormalizeAddress(user.Email)
	if !email.IsDeliverable(addr) {
		return PolicyResult{Decision: PolicyNoContact, Reason: ReasonNoContact}
	}

	if !user.Preferences.EmailEnabled() {
		return PolicyResult{Decision: PolicyOptedOut, Address: addr, Reason: ReasonOptedOut}
	}

	return PolicyResult{Decision: PolicyDeliver, Address: addr}
}
