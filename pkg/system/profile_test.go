package system

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseOSRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "os-release")
	if err := os.WriteFile(path, []byte("NAME=\"Fedora Linux\"\nID=fedora\nVERSION_ID=\"40\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	distro, version := parseOSRelease(path)
	if distro != "fedora" || version != "40" {
		t.Fatalf("unexpected distro/version %q %q", distro, version)
	}
	if d, v := parseOSRelease(filepath.Join(t.TempDir(), "missing")); d != "" || v != "" {
		t.Fatalf("expected empty values for a missing file")
	}
}

func TestInstallHintsPreferDetectedDistro(t *testing.T) {
	p := &Profile{Distro: "arch"}
	hints := p.InstallHints("freecad")
	if len(hints) != 4 {
		t.Fatalf("expected 4 hints, got %d", len(hints))
	}
	if hints[0].Label != "Arch" || hints[0].Command != "sudo pacman -S freecad" {
		t.Fatalf("expected arch first, got %v", hints[0])
	}
	if hints[1].Label != "Ubuntu/Debian" || hints[2].Label != "Fedora" {
		t.Fatalf("expected remaining order preserved, got %v", hints)
	}
}

func TestInstallHintsUnknownDistro(t *testing.T) {
	var p *Profile
	hints := p.InstallHints("freecad")
	if hints[0].Label != "Ubuntu/Debian" {
		t.Fatalf("expected default order, got %v", hints)
	}
	if !strings.Contains(hints[1].String(), "dnf install freecad") {
		t.Fatalf("unexpected hint %q", hints[1].String())
	}
}
