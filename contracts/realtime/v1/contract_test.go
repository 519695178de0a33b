package v1

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{"room":"a_b"}`)

	cases := []struct {
		name    string
		env     Envelope
		wantErr string
	}{
		{name: "ok", env: NewEnvelope(TypeJoinRoom, "e1", time.Now().UTC(), payload)},
		{name: "missing version", env: Envelope{Type: TypeJoinRoom}, wantErr: "missing field: v"},
		{name: "wrong version", env: Envelope{V: "v2", Type: TypeJoinRoom}, wantErr: "unsupported protocol version"},
		{name: "missing type", env: Envelope{V: Version}, wantErr: "missing field: type"},
		{name: "unknown type", env: Envelope{V: Version, Type: "typing"}, wantErr: "unknown type"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.env.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate()=%v want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate()=%v want error containing %q", err, tc.wantErr)
			}
		})
	}
}

func TestEnvelopeDecode(t *testing.T) {
	t.Parallel()

	env := NewEnvelope(TypeMessageSent, "e2", time.Now().UTC(),
		json.RawMessage(`{"_id":"m1","client_msg_id":"c1","sender":"A","content":"hi","timestamp":"2026-01-02T03:04:05Z"}`))

	var p MessageSentPayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.ID != "m1" || p.ClientMsgID != "c1" || p.Sender != "A" || p.Content != "hi" {
		t.Fatalf("unexpected payload: %+v", p)
	}
	if !p.Timestamp.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", p.Timestamp)
	}

	empty := Envelope{V: Version, Type: TypeMessageSent}
	if err := empty.Decode(&p); err == nil {
		t.Fatalf("expected error for missing payload")
	}
}
