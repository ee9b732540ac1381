package power

import (
	"errors"
	"testing"
)

func TestNopLock(t *testing.T) {
	var l NopLock

	if l.Held() {
		t.Fatal("New lock should not be held")
	}

	for i := 0; i < 2; i++ {
		if err := l.Acquire(); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}
	if !l.Held() {
		t.Error("Lock should be held after Acquire")
	}

	for i := 0; i < 2; i++ {
		if err := l.Release(); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
	}
	if l.Held() {
		t.Error("Lock should be free after Release")
	}
}

func TestInhibitLock_MissingRuntime(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	if _, err := NewInhibitLock(); !errors.Is(err, ErrRuntimeNotFound) {
		t.Errorf("Expected ErrRuntimeNotFound, got %v", err)
	}
}
