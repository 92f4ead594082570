package sync

import (
	"strings"
	"testing"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		in   string
		want Mode
	}{
		{"push", ModePush},
		{"pull", ModePull},
		{"bidirectional", ModeBidirectional},
	} {
		got, err := ParseMode(tt.in)
		if err != nil {
			t.Errorf("ParseMode(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"", "both", "PUSH", "bi"} {
		if _, err := ParseMode(in); err == nil {
			t.Errorf("ParseMode(%q) accepted", in)
		} else if !strings.Contains(err.Error(), "must be one of") {
			t.Errorf("ParseMode(%q) error = %v", in, err)
		}
	}
}

func TestModeLegs(t *testing.T) {
	t.Parallel()

	if !ModePush.pushes() || ModePush.pulls() {
		t.Error("push mode legs wrong")
	}
	if ModePull.pushes() || !ModePull.pulls() {
		t.Error("pull mode legs wrong")
	}
	if !ModeBidirectional.pushes() || !ModeBidirectional.pulls() {
		t.Error("bidirectional mode legs wrong")
	}
}
