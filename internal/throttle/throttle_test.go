package throttle

import "testing"

func TestAllow_BurstThenLimit(t *testing.T) {
	s := PerMinute(1, 2)

	if !s.Allow("chat") {
		t.Fatal("first event should be allowed")
	}
	if !s.Allow("chat") {
		t.Fatal("second event is within burst, should be allowed")
	}
	if s.Allow("chat") {
		t.Fatal("third event should be limited")
	}

	// other keys have their own bucket
	if !s.Allow("support") {
		t.Fatal("independent key should be allowed")
	}
}

func TestPerMinute_Defaults(t *testing.T) {
	s := PerMinute(0, 0)
	if !s.Allow("k") {
		t.Fatal("defaulted limiter should allow the first event")
	}
}
