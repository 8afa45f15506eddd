package dispensing

import "testing"

func TestLineStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to LineStatus
		want     bool
	}{
		{LineStatusPending, LineStatusDispensed, true},
		{LineStatusPending, LineStatusOutOfStock, true},
		{LineStatusPending, LineStatusSubstituted, true},
		{LineStatusSubstituted, LineStatusDispensed, true},
		{LineStatusSubstituted, LineStatusSubstituted, true},
		{LineStatusOutOfStock, LineStatusSubstituted, true},
		{LineStatusOutOfStock, LineStatusPending, true},
		{LineStatusOutOfStock, LineStatusDispensed, false},
		{LineStatusDispensed, LineStatusPending, false},
		{LineStatusDispensed, LineStatusCancelled, false},
		{LineStatusCancelled, LineStatusPending, false},
		{LineStatusPartiallyDispensed, LineStatusDispensed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestLineStatus_Terminal(t *testing.T) {
	for _, s := range []LineStatus{LineStatusDispensed, LineStatusPartiallyDispensed, LineStatusCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []LineStatus{LineStatusPending, LineStatusSubstituted, LineStatusOutOfStock} {
		if s.Terminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestDispensingLine_LineTotal(t *testing.T) {
	l := &DispensingLine{DispensedQuantity: 3, UnitPrice: price("2.35")}
	if got := l.LineTotal().StringFixed(2); got != "7.05" {
		t.Errorf("expected 7.05, got %s", got)
	}
}
