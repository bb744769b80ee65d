package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/firmadyne/femu-rehost/internal/common"
)

func TestAllReturnsEveryRegisteredMode(t *testing.T) {
	all := All()
	if len(all) != len(common.Modes) {
		t.Fatalf("got %d registered modes, want %d", len(all), len(common.Modes))
	}
}

func TestLookupFindsRegisteredMode(t *testing.T) {
	m, ok := Lookup(common.ModeCheck)
	if !ok {
		t.Fatal("expected check mode to be registered")
	}
	if m.Name != common.ModeCheck || m.Summary == "" {
		t.Errorf("unexpected ModeInfo: %+v", m)
	}
}

func TestLookupMissesUnregisteredMode(t *testing.T) {
	if _, ok := Lookup(common.RunningMode("bogus")); ok {
		t.Error("expected an unregistered mode to not be found")
	}
}

func TestPrintModesTableListsAllModes(t *testing.T) {
	var buf bytes.Buffer
	PrintModesTable(&buf)

	out := buf.String()
	for _, m := range common.Modes {
		if !strings.Contains(out, string(m)) {
			t.Errorf("expected output to mention mode %q:\n%s", m, out)
		}
	}
}
