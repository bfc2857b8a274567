package jobs

type Type string

const (
	// TypeConfirmationEmail asks the worker to deliver the
	// account-confirmation message after a signup.
	TypeConfirmationEmail Type = "send_confirmation_email"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeConfirmationEmail:
		return true
	default:
		return false
	}
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}
