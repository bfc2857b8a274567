package jobs

// ConfirmationEmailPayload is kept minimal and ID-based; the worker can
// load account details from the store if it needs more.
type ConfirmationEmailPayload struct {
	AccountID int64  `json:"accountId"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	RequestID string `json:"requestId,omitempty"` // correlation
}
