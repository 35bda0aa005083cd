package escrow

import "github.com/raghavao7/lossflip/internal/models"

// transitions is the closed set of legal state moves. Anything not listed
// is rejected before any side effect runs.
var transitions = map[models.OrderState][]models.OrderState{
	models.StateInitiated: {models.StatePaidHeld},
	models.StatePaidHeld:  {models.StateReleased, models.StateInDispute},
	// released and in_dispute are terminal
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to models.OrderState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// guardTransition validates a requested move and returns a conflict error
// describing the current state when the move is illegal.
func guardTransition(o *models.Order, to models.OrderState) error {
	if canTransition(o.State, to) {
		return nil
	}
	if o.State.Terminal() {
		return conflictf("order already resolved (%s)", o.State)
	}
	return conflictf("order is in state %s, cannot move to %s", o.State, to)
}
