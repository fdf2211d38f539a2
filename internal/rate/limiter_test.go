package rate

import (
	"testing"
	"time"
)

func TestAllowWithinBudget(t *testing.T) {
	limiter := NewMemory()

	for i := 0; i < 3; i++ {
		ok, _ := limiter.Allow("k", 3, time.Minute)
		if !ok {
			t.Fatalf("attempt %d should be allowed", i)
		}
	}
	ok, retry := limiter.Allow("k", 3, time.Minute)
	if ok {
		t.Fatal("fourth attempt should be denied")
	}
	if retry <= 0 || retry > time.Minute {
		t.Fatalf("unexpected retry %v", retry)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	limiter := NewMemory()

	if ok, _ := limiter.Allow("a", 1, time.Minute); !ok {
		t.Fatal("first attempt for a should be allowed")
	}
	if ok, _ := limiter.Allow("a", 1, time.Minute); ok {
		t.Fatal("second attempt for a should be denied")
	}
	if ok, _ := limiter.Allow("b", 1, time.Minute); !ok {
		t.Fatal("b has its own window")
	}
}

func TestWindowResets(t *testing.T) {
	limiter := NewMemory()

	if ok, _ := limiter.Allow("k", 1, 10*time.Millisecond); !ok {
		t.Fatal("first attempt should be allowed")
	}
	if ok, _ := limiter.Allow("k", 1, 10*time.Millisecond); ok {
		t.Fatal("budget should be spent")
	}
	time.Sleep(15 * time.Millisecond)
	if ok, _ := limiter.Allow("k", 1, 10*time.Millisecond); !ok {
		t.Fatal("window should have reset")
	}
}
