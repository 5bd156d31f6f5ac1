package openrtb

import "testing"

func TestNoBidReason_Constants(t *testing.T) {
	tests := []struct {
		reason NoBidReason
		want   int
	}{
		{NoBidUnknown, 0},
		{NoBidTechnicalError, 1},
		{NoBidInvalidRequest, 2},
		{NoBidUnmatchedUser, 8},
	}
	for _, tt := range tests {
		if int(tt.reason) != tt.want {
			t.Errorf("expected %d, got %d", tt.want, tt.reason)
		}
	}
}
