package jobs

import (
	"errors"
	"testing"
	"time"
)

func TestEncodeDecode_ConfirmationEmail(t *testing.T) {
	payload := ConfirmationEmailPayload{
		AccountID: 42,
		Username:  "anna",
		Email:     "anna@example.com",
		RequestID: "req-1",
	}

	b, err := EncodePayload(TypeConfirmationEmail, payload)
	if err != nil {
		t.Fatalf("EncodePayload error: %v", err)
	}

	j, err := New(CreateRequest{Type: TypeConfirmationEmail, Payload: b})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	decoded, err := DecodePayload(j)
	if err != nil {
		t.Fatalf("DecodePayload error: %v", err)
	}

	p, ok := decoded.(ConfirmationEmailPayload)
	if !ok {
		t.Fatalf("expected ConfirmationEmailPayload, got %T", decoded)
	}

	if p.AccountID != payload.AccountID || p.Email != payload.Email {
		t.Fatalf("round trip mismatch: %+v", p)
	}
}

func TestEncodePayload_TypeMismatch(t *testing.T) {
	_, err := EncodePayload(TypeConfirmationEmail, struct{ X int }{1})
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, ErrPayloadTypeMismatch) {
		t.Fatalf("expected ErrPayloadTypeMismatch, got %v", err)
	}
}

func TestEncodePayload_UnknownType(t *testing.T) {
	_, err := EncodePayload(Type("compact_database"), ConfirmationEmailPayload{})
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}

func TestDecodePayload_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		wantErr error
	}{
		{
			name:    "empty_payload",
			job:     Job{Type: TypeConfirmationEmail},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "garbage_payload",
			job:     Job{Type: TypeConfirmationEmail, Payload: []byte("{")},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "missing_account_id",
			job:     Job{Type: TypeConfirmationEmail, Payload: []byte(`{"email":"anna@example.com"}`)},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "unknown_type",
			job:     Job{Type: Type("nope"), Payload: []byte(`{}`)},
			wantErr: ErrInvalidType,
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.job)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	j, err := New(CreateRequest{Type: TypeConfirmationEmail, Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if j.ID == "" {
		t.Fatalf("job needs an id")
	}

	if j.Status != StatusPending {
		t.Fatalf("status = %q, want pending", j.Status)
	}

	if j.MaxAttempts != 5 {
		t.Fatalf("maxAttempts = %d, want the default 5", j.MaxAttempts)
	}

	if j.RunAt.IsZero() {
		t.Fatalf("runAt must default to now")
	}
}

func TestNew_FutureRunAtKept(t *testing.T) {
	runAt := time.Now().UTC().Add(time.Hour)

	j, err := New(CreateRequest{Type: TypeConfirmationEmail, Payload: []byte(`{}`), RunAt: runAt})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	if !j.RunAt.Equal(runAt) {
		t.Fatalf("runAt = %v, want %v", j.RunAt, runAt)
	}
}

func TestNew_RejectsUnknownType(t *testing.T) {
	if _, err := New(CreateRequest{Type: Type("nope")}); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}
}
