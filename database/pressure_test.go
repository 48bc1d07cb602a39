package database

import "testing"

func TestUnderPressure(t *testing.T) {
	tests := []struct {
		used, max int32
		want      bool
	}{
		{0, 10, false},
		{6, 10, false},
		{7, 10, true},
		{10, 10, true},
		{1, 1, true},
		{0, 0, false},
	}

	for _, test := range tests {
		if got := underPressure(test.used, test.max); got != test.want {
			t.Errorf("underPressure(%d, %d) = %t, want %t", test.used, test.max, got, test.want)
		}
	}
}
