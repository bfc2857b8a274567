package jobs

import (
	"encoding/json"
	"fmt"
)

func EncodePayload(t Type, payload any) ([]byte, error) {
	if !t.IsValid() {
		return nil, ErrInvalidType
	}

	switch t {
	case TypeConfirmationEmail:
		switch payload.(type) {
		case ConfirmationEmailPayload, *ConfirmationEmailPayload:
		default:
			return nil, ErrPayloadTypeMismatch
		}
	}

	b, err := json.Marshal(payload)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	return b, nil
}

// DecodePayload unmarshals job.Payload into the correct typed payload struct.
func DecodePayload(j Job) (any, error) {
	if !j.Type.IsValid() {
		return nil, ErrInvalidType
	}
	if len(j.Payload) == 0 {
		return nil, ErrInvalidPayload
	}

	switch j.Type {
	case TypeConfirmationEmail:
		var p ConfirmationEmailPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if p.AccountID == 0 || p.Email == "" {
			return nil, ErrInvalidPayload
		}
		return p, nil

	default:
		return nil, ErrInvalidType
	}
}
