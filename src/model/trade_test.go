package model

import "testing"

func TestValidStatusTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{TradeStatusPending, TradeStatusFilled, true},
		{TradeStatusPending, TradeStatusCancelled, true},
		{TradeStatusPending, TradeStatusPending, false},
		{TradeStatusFilled, TradeStatusCancelled, false},
		{TradeStatusFilled, TradeStatusPending, false},
		{TradeStatusCancelled, TradeStatusFilled, false},
		{TradeStatusCancelled, TradeStatusPending, false},
		{TradeStatusPending, "expired", false},
	}

	for _, c := range cases {
		if got := ValidStatusTransition(c.from, c.to); got != c.want {
			t.Fatalf("ValidStatusTransition(%q, %q) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
