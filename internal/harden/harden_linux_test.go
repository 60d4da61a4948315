//go:build linux

package harden

import "testing"

func TestApplyThenVerify(t *testing.T) {
	Apply(Options{})

	if err := Verify(); err != nil {
		t.Fatalf("Verify after Apply failed: %v", err)
	}
}
