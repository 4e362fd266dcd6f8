package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWithinDirectory(t *testing.T) {
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "safe")
	outside := filepath.Join(tmp, "outside")
	for _, d := range []string{safe, outside} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", d, err)
		}
	}
	link := filepath.Join(safe, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"direct child", filepath.Join(safe, "cells.png"), false},
		{"nested missing dirs", filepath.Join(safe, "a", "b", "cells.png"), false},
		{"dot dot", filepath.Join(safe, "..", "cells.png"), true},
		{"relative escape", filepath.Join(safe, "../../etc/passwd"), true},
		{"through symlink", filepath.Join(link, "cells.png"), true},
		{"dir itself", safe, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDirectory(tt.path, safe)
			if (err != nil) != tt.wantErr {
				t.Errorf("WithinDirectory(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}

	if err := WithinDirectory(filepath.Join(tmp, "x"), filepath.Join(tmp, "missing")); err == nil {
		t.Error("expected error for a missing directory")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":               "unknown",
		"grid-1":         "grid-1",
		"north gate/1":   "north_gate_1",
		"../../etc":      "etc",
		"a   b":          "a_b",
		"___":            "unknown",
		"adaptive.v2_x":  "adaptive.v2_x",
		"sensor\x00null": "sensor_null",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}

	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeFilename(string(long)); len(got) != maxNameLen {
		t.Errorf("expected length %d, got %d", maxNameLen, len(got))
	}
}

func TestOutputPath(t *testing.T) {
	dir := t.TempDir()
	got, err := OutputPath(dir, "cells_", "../tree", ".png")
	if err != nil {
		t.Fatalf("OutputPath: %v", err)
	}
	if want := filepath.Join(dir, "cells_tree.png"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
