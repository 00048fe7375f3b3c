package auction

import (
	"strings"
	"testing"
)

func TestComputeIDDeterministic(t *testing.T) {
	owner := newTestAddress(0x01)
	asset := newTestAddress(0x02)
	first := ComputeID(owner, asset, 500)
	second := ComputeID(owner, asset, 500)
	if first != second {
		t.Fatalf("identical inputs produced different ids")
	}

	variants := map[string][32]byte{
		"owner":  ComputeID(newTestAddress(0x03), asset, 500),
		"asset":  ComputeID(owner, newTestAddress(0x03), 500),
		"close":  ComputeID(owner, asset, 501),
		"swap":   ComputeID(asset, owner, 500),
		"height": ComputeID(owner, asset, 500<<8),
	}
	seen := map[[32]byte]string{first: "base"}
	for name, id := range variants {
		if prev, dup := seen[id]; dup {
			t.Fatalf("variant %s collides with %s", name, prev)
		}
		seen[id] = name
	}
}

func TestFormatAndParseID(t *testing.T) {
	id := ComputeID(newTestAddress(0x01), newTestAddress(0x02), 42)
	formatted := FormatID(id)
	if len(formatted) != 64 || strings.ToLower(formatted) != formatted {
		t.Fatalf("expected 64 lowercase hex chars, got %q", formatted)
	}
	for _, raw := range []string{formatted, "0x" + formatted, "  " + strings.ToUpper(formatted) + " "} {
		parsed, err := ParseID(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if parsed != id {
			t.Fatalf("round trip mismatch for %q", raw)
		}
	}
	for _, bad := range []string{"", "abc", formatted[:62], "zz" + formatted[2:]} {
		if _, err := ParseID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
