package telephony

import (
	"context"
	"testing"

	"github.com/roman-kulish/dbm-tracker/internal/survey"
)

func TestSource_NoSubscriptions(t *testing.T) {
	s := NewSource()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start without subscriptions should not fail: %v", err)
	}
	defer s.Stop()

	for slot := 0; slot < survey.Slots; slot++ {
		sample := s.CurrentReading(slot)
		if sample.Operator != DefaultOperator {
			t.Errorf("Slot %d: expected operator %q, got %q", slot, DefaultOperator, sample.Operator)
		}
		if sample.HasSignal() {
			t.Errorf("Slot %d: expected no signal, got %d", slot, *sample.DBm)
		}
		if sample.Slot != slot {
			t.Errorf("Slot %d: sample reports slot %d", slot, sample.Slot)
		}
	}
}

func TestSource_ConfiguredDefaultOperator(t *testing.T) {
	s := NewSource(WithDefaultOperator("No SIM"))

	if got := s.CurrentReading(1).Operator; got != "No SIM" {
		t.Errorf("Expected operator %q, got %q", "No SIM", got)
	}
}

func TestSource_LastWriteWins(t *testing.T) {
	s := NewSource()
	s.Register(0, "Carrier A")

	s.Update(0, -100)
	s.Update(0, -85)
	s.Update(1, -70)

	sim1 := s.CurrentReading(0)
	if !sim1.HasSignal() || *sim1.DBm != -85 {
		t.Errorf("Expected SIM1 -85 dBm, got %+v", sim1)
	}
	if sim1.Operator != "Carrier A" {
		t.Errorf("Expected SIM1 operator Carrier A, got %q", sim1.Operator)
	}

	sim2 := s.CurrentReading(1)
	if !sim2.HasSignal() || *sim2.DBm != -70 {
		t.Errorf("Expected SIM2 -70 dBm, got %+v", sim2)
	}
	if sim2.Operator != DefaultOperator {
		t.Errorf("Expected SIM2 operator %q, got %q", DefaultOperator, sim2.Operator)
	}
}

func TestSource_UnavailableClearsSlot(t *testing.T) {
	s := NewSource()

	s.Update(0, -90)
	s.Update(0, Unavailable)
	if s.CurrentReading(0).HasSignal() {
		t.Error("Expected unavailable marker to clear the slot")
	}

	s.Update(0, -90)
	s.Update(0, 2147483647)
	if s.CurrentReading(0).HasSignal() {
		t.Error("Expected MaxInt32 marker to clear the slot")
	}
}

func TestSource_InvalidSlot(t *testing.T) {
	s := NewSource()

	s.Update(2, -80)
	s.Update(-1, -80)
	s.Register(5, "Ghost")

	sample := s.CurrentReading(2)
	if sample.HasSignal() || sample.Operator != DefaultOperator {
		t.Errorf("Expected sentinel for invalid slot, got %+v", sample)
	}
}

func TestSource_ReadingIsACopy(t *testing.T) {
	s := NewSource()
	s.Update(0, -90)

	sample := s.CurrentReading(0)
	*sample.DBm = -10

	if got := *s.CurrentReading(0).DBm; got != -90 {
		t.Errorf("Expected stored value to stay -90, got %d", got)
	}
}

func TestSource_StartResetsMeasurements(t *testing.T) {
	s := NewSource()
	s.Update(0, -90)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyListening {
		t.Errorf("Expected ErrAlreadyListening, got %v", err)
	}
	s.Stop()
	s.Stop()

	if s.CurrentReading(0).HasSignal() {
		t.Error("Expected Start to drop measurements of the previous session")
	}
}
