package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOrderTotal(t *testing.T) {
	o := &Order{Amount: decimal.NewFromInt(120), Quantity: 3}
	if !o.Total().Equal(decimal.NewFromInt(360)) {
		t.Errorf("total = %s, want 360", o.Total())
	}
}

func TestOrderParticipants(t *testing.T) {
	o := &Order{
		Buyer:  Party{ID: "b1", Name: "Bhavesh"},
		Seller: Party{ID: "s1", Name: "Sana"},
	}

	if !o.IsParticipant("b1") || !o.IsParticipant("s1") {
		t.Error("parties not recognized as participants")
	}
	if o.IsParticipant("x1") {
		t.Error("outsider recognized as participant")
	}

	if o.Counterpart("b1").ID != "s1" {
		t.Errorf("buyer's counterpart = %s", o.Counterpart("b1").ID)
	}
	if o.Counterpart("s1").ID != "b1" {
		t.Errorf("seller's counterpart = %s", o.Counterpart("s1").ID)
	}
}

func TestTerminalStates(t *testing.T) {
	cases := []struct {
		state OrderState
		want  bool
	}{
		{StateInitiated, false},
		{StatePaidHeld, false},
		{StateReleased, true},
		{StateInDispute, true},
	}
	for _, tc := range cases {
		if got := tc.state.Terminal(); got != tc.want {
			t.Errorf("%s.Terminal() = %v, want %v", tc.state, got, tc.want)
		}
	}
}

func TestRedactedForViewer(t *testing.T) {
	o := &Order{
		Buyer:    Party{ID: "b1"},
		Seller:   Party{ID: "s1"},
		State:    StateInitiated,
		Delivery: Delivery{Payload: "CARD-1234"},
	}

	if got := o.RedactedForViewer("b1"); got.Delivery.Payload != "" {
		t.Error("payload leaked to buyer before payment")
	}
	if got := o.RedactedForViewer("s1"); got.Delivery.Payload != "CARD-1234" {
		t.Error("payload hidden from the owning seller")
	}

	o.State = StatePaidHeld
	if got := o.RedactedForViewer("b1"); got.Delivery.Payload != "CARD-1234" {
		t.Error("payload hidden from buyer after payment")
	}
}
