package filter

import (
	"context"
	"errors"
	"testing"

	"botpipe/pkg/messaging"
)

type fakeIdentity string

func (f fakeIdentity) InboxID() string { return string(f) }

func constant(value bool) Filter {
	return func(context.Context, *messaging.Message, Identity) (bool, error) {
		return value, nil
	}
}

func spy(value bool, calls *int) Filter {
	return func(context.Context, *messaging.Message, Identity) (bool, error) {
		*calls++
		return value, nil
	}
}

func evaluate(t *testing.T, f Filter, msg *messaging.Message) bool {
	t.Helper()
	ok, err := f(context.Background(), msg, fakeIdentity("self"))
	if err != nil {
		t.Fatalf("filter error: %v", err)
	}
	return ok
}

func TestAndEmptyIsTrue(t *testing.T) {
	if !evaluate(t, And(), &messaging.Message{}) {
		t.Fatal("And() = false, want vacuously true")
	}
}

func TestOrEmptyIsFalse(t *testing.T) {
	if evaluate(t, Or(), &messaging.Message{}) {
		t.Fatal("Or() = true, want vacuously false")
	}
}

func TestAndShortCircuits(t *testing.T) {
	calls := 0
	f := And(constant(false), spy(true, &calls))
	if evaluate(t, f, &messaging.Message{}) {
		t.Fatal("And(false, true) = true, want false")
	}
	if calls != 0 {
		t.Fatalf("second filter evaluated %d times, want 0", calls)
	}
}

func TestOrShortCircuits(t *testing.T) {
	calls := 0
	f := Or(constant(true), spy(false, &calls))
	if !evaluate(t, f, &messaging.Message{}) {
		t.Fatal("Or(true, false) = false, want true")
	}
	if calls != 0 {
		t.Fatalf("second filter evaluated %d times, want 0", calls)
	}
}

func TestDeMorgan(t *testing.T) {
	values := []struct{ a, b bool }{
		{false, false},
		{false, true},
		{true, false},
		{true, true},
	}

	msg := &messaging.Message{}
	for _, tc := range values {
		left := evaluate(t, And(constant(tc.a), constant(tc.b)), msg)
		right := evaluate(t, Not(Or(Not(constant(tc.a)), Not(constant(tc.b)))), msg)
		if left != right {
			t.Fatalf("De Morgan violated for a=%v b=%v: and=%v, not-or-not=%v", tc.a, tc.b, left, right)
		}
	}
}

func TestSingleArgIdempotence(t *testing.T) {
	msg := &messaging.Message{}
	for _, value := range []bool{true, false} {
		if evaluate(t, And(constant(value)), msg) != value {
			t.Fatalf("And(%v) != %v", value, value)
		}
		if evaluate(t, Or(constant(value)), msg) != value {
			t.Fatalf("Or(%v) != %v", value, value)
		}
	}
}

func TestErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	failing := Filter(func(context.Context, *messaging.Message, Identity) (bool, error) {
		return false, boom
	})

	if _, err := And(constant(true), failing)(context.Background(), &messaging.Message{}, nil); !errors.Is(err, boom) {
		t.Fatalf("And error = %v, want %v", err, boom)
	}
	if _, err := Not(failing)(context.Background(), &messaging.Message{}, nil); !errors.Is(err, boom) {
		t.Fatalf("Not error = %v, want %v", err, boom)
	}
}

func TestNotFromSelf(t *testing.T) {
	self := fakeIdentity("InBox-1")

	ok, err := NotFromSelf(context.Background(), &messaging.Message{SenderID: "inbox-1"}, self)
	if err != nil {
		t.Fatalf("NotFromSelf error: %v", err)
	}
	if ok {
		t.Fatal("expected case-insensitive self match to be rejected")
	}

	ok, err = NotFromSelf(context.Background(), &messaging.Message{SenderID: "inbox-2"}, self)
	if err != nil {
		t.Fatalf("NotFromSelf error: %v", err)
	}
	if !ok {
		t.Fatal("expected message from another sender to pass")
	}
}

func TestTextOnlyAndContentType(t *testing.T) {
	text := &messaging.Message{ContentType: messaging.ContentText}
	reaction := &messaging.Message{ContentType: messaging.ContentReaction}

	if !evaluate(t, TextOnly, text) {
		t.Fatal("TextOnly rejected text message")
	}
	if evaluate(t, TextOnly, reaction) {
		t.Fatal("TextOnly accepted reaction message")
	}
	if !evaluate(t, ContentType(messaging.ContentReaction), reaction) {
		t.Fatal("ContentType(reaction) rejected reaction message")
	}
}

func TestFromSender(t *testing.T) {
	f := FromSender(" Alice ", "BOB", "")

	if !evaluate(t, f, &messaging.Message{SenderID: "alice"}) {
		t.Fatal("expected alice to match")
	}
	if !evaluate(t, f, &messaging.Message{SenderID: "Bob"}) {
		t.Fatal("expected Bob to match")
	}
	if evaluate(t, f, &messaging.Message{SenderID: "carol"}) {
		t.Fatal("expected carol to be rejected")
	}
	if evaluate(t, FromSender(), &messaging.Message{SenderID: "alice"}) {
		t.Fatal("FromSender() should match nothing")
	}
}
