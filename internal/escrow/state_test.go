package escrow

import (
	"testing"

	"github.com/raghavao7/lossflip/internal/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.OrderState
		want     bool
	}{
		{models.StateInitiated, models.StatePaidHeld, true},
		{models.StatePaidHeld, models.StateReleased, true},
		{models.StatePaidHeld, models.StateInDispute, true},

		{models.StateInitiated, models.StateReleased, false},
		{models.StateInitiated, models.StateInDispute, false},
		{models.StateReleased, models.StatePaidHeld, false},
		{models.StateReleased, models.StateInDispute, false},
		{models.StateInDispute, models.StateReleased, false},
		{models.StatePaidHeld, models.StateInitiated, false},
	}

	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestGuardTransitionErrors(t *testing.T) {
	t.Run("terminal state", func(t *testing.T) {
		o := &models.Order{State: models.StateReleased}
		err := guardTransition(o, models.StatePaidHeld)
		if err == nil {
			t.Fatal("expected error for terminal state")
		}
		if KindOf(err) != KindConflict {
			t.Errorf("expected conflict kind, got %v", KindOf(err))
		}
	})

	t.Run("skipping payment", func(t *testing.T) {
		o := &models.Order{State: models.StateInitiated}
		err := guardTransition(o, models.StateReleased)
		if err == nil {
			t.Fatal("expected error when skipping paid_held")
		}
		if KindOf(err) != KindConflict {
			t.Errorf("expected conflict kind, got %v", KindOf(err))
		}
	})

	t.Run("legal move", func(t *testing.T) {
		o := &models.Order{State: models.StateInitiated}
		if err := guardTransition(o, models.StatePaidHeld); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
