package pubsub

import "testing"

func TestSubscribeAndUnsubscribe(t *testing.T) {
	r := NewRegistry[int]()

	var a, b []int
	unsubA := r.Subscribe(func(v int) { a = append(a, v) })
	r.Subscribe(func(v int) { b = append(b, v) })

	r.Publish(1)
	unsubA()
	unsubA()
	r.Publish(2)

	if len(a) != 1 || a[0] != 1 {
		t.Fatalf("unexpected deliveries to a: %v", a)
	}
	if len(b) != 2 {
		t.Fatalf("expected b to receive both events, got %v", b)
	}
	if r.Len() != 1 {
		t.Fatalf("expected one subscriber left, got %d", r.Len())
	}
}

func TestUnsubscribeDuringDispatch(t *testing.T) {
	r := NewRegistry[string]()

	calls := 0
	var unsubSecond func()
	r.Subscribe(func(string) {
		calls++
		unsubSecond()
	})
	unsubSecond = r.Subscribe(func(string) { calls++ })

	// the snapshot taken before dispatch still includes the second subscriber
	r.Publish("x")
	if calls != 2 {
		t.Fatalf("expected 2 calls in first dispatch, got %d", calls)
	}

	r.Publish("y")
	if calls != 3 {
		t.Fatalf("expected removed subscriber to be skipped, got %d calls", calls)
	}
}

func TestNilCallbackIgnored(t *testing.T) {
	r := NewRegistry[int]()
	unsub := r.Subscribe(nil)
	unsub()
	if r.Len() != 0 {
		t.Fatalf("nil callback should not be registered")
	}
}
