package gateway

import "admin-auth-service/internal/models"

type Outcome int

const (
	Denied Outcome = iota
	RequiresMFA
	Success
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case RequiresMFA:
		return "requires_mfa"
	default:
		return "denied"
	}
}

// Reason says why an attempt was denied. It is empty unless Outcome is Denied.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonRateLimited            Reason = "rate_limited"
	ReasonLockedOut              Reason = "locked_out"
	ReasonInvalidCredentials     Reason = "invalid_credentials"
	ReasonInsufficientPrivileges Reason = "insufficient_privileges"
	ReasonInvalidMFA             Reason = "invalid_mfa"
	ReasonServiceUnavailable     Reason = "service_unavailable"
)

// CredentialClass reports reasons that must look identical to the caller,
// so a client cannot tell a wrong password from a locked account.
func (r Reason) CredentialClass() bool {
	switch r {
	case ReasonLockedOut, ReasonInvalidCredentials, ReasonInvalidMFA:
		return true
	}
	return false
}

type Result struct {
	Outcome Outcome
	Reason  Reason
	Session models.AdminSession
}

func denied(r Reason) Result {
	return Result{Outcome: Denied, Reason: r}
}
