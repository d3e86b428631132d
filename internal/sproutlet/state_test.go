package sproutlet

import "testing"

func TestStateStringAndTerminal(t *testing.T) {
	cases := []struct {
		s    State
		want string
	}{
		{StateInit, "Init"},
		{StateDispatched, "Dispatched"},
		{StateForwarding, "Forwarding"},
		{StateResponding, "Responding"},
		{StateCancelling, "Cancelling"},
		{StateTerminated, "Terminated"},
	}
	for _, c := range cases {
		if c.s.String() != c.want {
			t.Errorf("State(%d).String() = %q, want %q", c.s, c.s.String(), c.want)
		}
	}
	if !StateTerminated.IsTerminal() {
		t.Fatal("expected StateTerminated to be terminal")
	}
	if StateForwarding.IsTerminal() {
		t.Fatal("expected StateForwarding not to be terminal")
	}
}
