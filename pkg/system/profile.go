package system

import (
	"bufio"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

type Profile struct {
	OS      string
	Distro  string
	Version string
	Arch    string
}

func Detect() *Profile {
	profile := &Profile{
		OS:   runtime.GOOS,
		Arch: runtime.GOARCH,
	}

	switch runtime.GOOS {
	case "linux":
		profile.Distro, profile.Version = parseOSRelease("/etc/os-release")
	case "darwin":
		profile.Distro = "macos"
		if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
			profile.Version = strings.TrimSpace(string(out))
		}
	case "windows":
		profile.Distro = "windows"
	}
	return profile
}

func parseOSRelease(path string) (string, string) {
	file, err := os.Open(path)
	if err != nil {
		return "", ""
	}
	defer file.Close()

	var distro, version string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "ID=") {
			distro = trimValue(strings.TrimPrefix(line, "ID="))
		}
		if strings.HasPrefix(line, "VERSION_ID=") {
			version = trimValue(strings.TrimPrefix(line, "VERSION_ID="))
		}
	}
	return distro, version
}

func trimValue(val string) string {
	return strings.Trim(val, "\"'")
}

// InstallHint is one package manager command for installing a package.
type InstallHint struct {
	Label   string
	Command string
	distros []string
}

func (h InstallHint) String() string {
	return h.Label + ": " + h.Command
}

// InstallHints returns install commands for pkg, with the entry matching the
// detected distro first.
func (p *Profile) InstallHints(pkg string) []InstallHint {
	hints := []InstallHint{
		{Label: "Ubuntu/Debian", Command: "sudo apt install " + pkg, distros: []string{"ubuntu", "debian", "linuxmint", "pop"}},
		{Label: "Fedora", Command: "sudo dnf install " + pkg, distros: []string{"fedora", "rhel", "centos", "rocky", "almalinux"}},
		{Label: "Arch", Command: "sudo pacman -S " + pkg, distros: []string{"arch", "manjaro", "endeavouros"}},
		{Label: "macOS", Command: "brew install --cask " + pkg, distros: []string{"macos"}},
	}
	if p == nil || p.Distro == "" {
		return hints
	}
	for i, h := range hints {
		for _, d := range h.distros {
			if strings.EqualFold(d, p.Distro) {
				out := append([]InstallHint{h}, hints[:i]...)
				return append(out, hints[i+1:]...)
			}
		}
	}
	return hints
}
