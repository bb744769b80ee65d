package exec

import (
	"context"
	"testing"
)

func TestIsCmdNotFoundDetectsMissingBinary(t *testing.T) {
	cmd := CommandContext(context.Background(), "definitely-not-a-real-binary-xyz")
	_, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatal("expected an error running a nonexistent binary")
	}
	if !IsCmdNotFound(err) {
		t.Errorf("expected IsCmdNotFound to recognize %v", err)
	}
}

func TestKillTerminatesStartedProcess(t *testing.T) {
	cmd := Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("starting sleep: %v", err)
	}
	if err := cmd.Kill(); err != nil {
		t.Errorf("Kill returned %v", err)
	}
}
