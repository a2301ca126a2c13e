package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("cycle closed")
	if got != "cycle closed" {
		t.Errorf("custom logger got %q", got)
	}

	// nil installs a no-op, never a nil func
	SetLogger(nil)
	if Logf == nil {
		t.Fatal("Logf is nil after SetLogger(nil)")
	}
	got = ""
	Logf("dropped")
	if got != "" {
		t.Error("no-op logger still reached the previous sink")
	}
}
