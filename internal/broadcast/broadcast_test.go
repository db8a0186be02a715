package broadcast

import "testing"

func TestJoinDeliversInitEvent(t *testing.T) {
	b := New()
	v, err := b.Join("s1", []byte("hello"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	e := <-v.Events()
	if e.Type != EventInit {
		t.Fatalf("expected init event, got %v", e.Type)
	}
}

func TestOutputFanOutToAllViewers(t *testing.T) {
	b := New()
	v1, _ := b.Join("s1", nil)
	v2, _ := b.Join("s1", nil)
	<-v1.Events() // init
	<-v2.Events() // init

	b.Output("s1", []byte("data"))
	e1 := <-v1.Events()
	e2 := <-v2.Events()
	if e1.Type != EventOutput || e2.Type != EventOutput {
		t.Fatalf("expected both viewers to get output events")
	}
}

func TestJoinAtCapacityFails(t *testing.T) {
	b := New()
	for i := 0; i < defaultMaxViewers; i++ {
		if _, err := b.Join("s1", nil); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if _, err := b.Join("s1", nil); err != ErrAtCapacity {
		t.Fatalf("expected ErrAtCapacity, got %v", err)
	}
}

func TestCloseNotifiesAndClosesViewers(t *testing.T) {
	b := New()
	v, _ := b.Join("s1", nil)
	<-v.Events() // init

	b.Close("s1", "child exited")
	saw := false
	for e := range v.Events() {
		if e.Type == EventClosed {
			saw = true
		}
	}
	if !saw {
		t.Fatalf("expected a closed event before the channel closed")
	}
}

func TestBackpressureDropsInsteadOfBlocking(t *testing.T) {
	b := New()
	v, _ := b.Join("s1", nil)
	<-v.Events() // init

	big := make([]byte, defaultQueueBytes)
	// First big write should be queued in full (the byte budget
	// accommodates one message); flooding further must never block the
	// sender, only drop.
	for i := 0; i < 10; i++ {
		b.Output("s1", big)
	}
	// Draining must not hang the test: the call above must have returned.
	done := make(chan struct{})
	go func() { b.Leave("s1", v); done <- struct{}{} }()
	<-done
}
