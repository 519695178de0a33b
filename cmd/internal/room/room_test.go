package room

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
)

func TestToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		a, b    string
		want    string
		wantErr error
	}{
		{name: "ordered", a: "alice", b: "bob", want: "alice_bob"},
		{name: "swapped", a: "bob", b: "alice", want: "alice_bob"},
		{name: "object ids", a: "65f0c2", b: "65a9d1", want: "65a9d1_65f0c2"},
		{name: "same user", a: "x", b: "x", want: "x_x"},
		{name: "trimmed", a: " a ", b: "b", want: "a_b"},
		{name: "empty a", a: "", b: "b", wantErr: ErrInvalidParticipant},
		{name: "blank b", a: "a", b: "  ", wantErr: ErrInvalidParticipant},
		{name: "separator in a", a: "a_b", b: "c", wantErr: ErrInvalidParticipant},
		{name: "separator in b", a: "a", b: "b_c", wantErr: ErrInvalidParticipant},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Token(tc.a, tc.b)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("Token(%q,%q) err=%v want %v", tc.a, tc.b, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("Token(%q,%q)=%q want %q", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestToken_Symmetric(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "b", "Z", "user-1", "user-10", "65f0c2e1", "ü"}
	for _, a := range ids {
		for _, b := range ids {
			x, _ := Token(a, b)
			y, _ := Token(b, a)
			if x != y {
				t.Fatalf("Token(%q,%q)=%q but Token(%q,%q)=%q", a, b, x, b, a, y)
			}
		}
	}
}

func TestToken_DistinctPairsNeverCollide(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "b", "c", "ab", "a_b", "b_c", "_", "a_"}
	seen := map[string][2]string{}
	for _, a := range ids {
		for _, b := range ids {
			tok, err := Token(a, b)
			if err != nil {
				continue
			}
			pair := [2]string{a, b}
			if a > b {
				pair = [2]string{b, a}
			}
			if prev, ok := seen[tok]; ok && prev != pair {
				t.Fatalf("pairs %v and %v share token %q", prev, pair, tok)
			}
			seen[tok] = pair
		}
	}
}

type recordingSession struct {
	calls   []string
	openErr error
}

func (r *recordingSession) Open(context.Context) error {
	r.calls = append(r.calls, "open")
	return r.openErr
}

func (r *recordingSession) Subscribe(_ context.Context, room string) error {
	r.calls = append(r.calls, "subscribe:"+room)
	return nil
}

func (r *recordingSession) Close() error {
	r.calls = append(r.calls, "close")
	return nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestManager_SwitchClosesBeforeReopen(t *testing.T) {
	t.Parallel()

	rec := &recordingSession{}
	m := NewManager(quietLogger(), rec)
	ctx := context.Background()

	room, err := m.Activate(ctx, "A", "B")
	if err != nil || room != "A_B" {
		t.Fatalf("Activate=%q,%v", room, err)
	}
	if _, err := m.Activate(ctx, "A", "B"); err != nil {
		t.Fatalf("re-activate: %v", err)
	}
	if _, err := m.Activate(ctx, "A", "C"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if m.Active() != "A_C" {
		t.Fatalf("Active()=%q want A_C", m.Active())
	}

	want := []string{
		"open", "subscribe:A_B",
		"open", "subscribe:A_B",
		"close", "open", "subscribe:A_C",
	}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("calls=%v\nwant %v", rec.calls, want)
	}

	m.Deactivate()
	if m.Active() != "" {
		t.Fatalf("Active() after Deactivate=%q", m.Active())
	}
	if last := rec.calls[len(rec.calls)-1]; last != "close" {
		t.Fatalf("Deactivate must close the session, last call=%q", last)
	}
}

func TestManager_OpenFailureLeavesNoActiveRoom(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("no token")
	m := NewManager(quietLogger(), &recordingSession{openErr: sentinel})

	if _, err := m.Activate(context.Background(), "A", "B"); !errors.Is(err, sentinel) {
		t.Fatalf("Activate err=%v want wrapped sentinel", err)
	}
	if m.Active() != "" {
		t.Fatalf("Active()=%q want empty", m.Active())
	}
}

func TestManager_RejectsEmptyParticipant(t *testing.T) {
	t.Parallel()

	rec := &recordingSession{}
	m := NewManager(quietLogger(), rec)
	if _, err := m.Activate(context.Background(), "A", ""); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("err=%v want ErrInvalidParticipant", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("session touched on invalid input: %v", rec.calls)
	}
}
