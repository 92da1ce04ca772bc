// Package pathresolver computes candidate log locations per OS for a given
// agent class, including the "remote volume" case where a Linux host
// exposes another OS's filesystem at a well-known mount point (WSL-style).
package pathresolver

import (
	"os"
	"path/filepath"
	"runtime"
)

// AgentPaths is the per-OS base-path table for one agent class: the
// candidate log locations on each native platform, expressed relative to
// a home directory or absolute, as the class requires.
type AgentPaths struct {
	Linux   []string
	MacOS   []string
	Windows []string
}

// remoteVolumeMarker is the filesystem path probed to detect that this
// Linux host is really a container/VM with another OS's disks mounted —
// the WSL convention of exposing Windows drives under /mnt/<drive>.
const remoteVolumeMarker = "/mnt/c"

// remoteVolumeKernelMarker substring identifies a WSL kernel version string.
const remoteVolumeKernelMarker = "microsoft"

// remoteDrives are the drive letters probed under the remote-volume mounts.
var remoteDrives = []string{"c", "d", "e", "f"}

// excludedUsers are Windows profile directories that are never real users.
// Hard-coded and Windows-specific; behavior on localized installations is
// undefined.
var excludedUsers = map[string]bool{
	"Public":     true,
	"Default":    true,
	"All Users":  true,
}

// fallbackUsers are appended to the discovered user list when the users
// directory can't be enumerated, or to widen coverage regardless.
func fallbackUsers() []string {
	users := []string{"Administrator", "user"}
	if u := os.Getenv("USER"); u != "" {
		users = append(users, u)
	}
	return users
}

// IsRemoteVolumeHost reports whether this process is running on a Linux
// host exposing another OS's filesystem at fixed mount points (WSL).
func IsRemoteVolumeHost() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	if _, err := os.Stat(remoteVolumeMarker); err != nil {
		return false
	}
	release, err := os.ReadFile("/proc/version")
	if err != nil {
		return false
	}
	return containsFold(string(release), remoteVolumeKernelMarker)
}

func containsFold(s, substr string) bool {
	sl, subl := len(s), len(substr)
	if subl == 0 {
		return true
	}
	for i := 0; i+subl <= sl; i++ {
		if equalFold(s[i:i+subl], substr) {
			return true
		}
	}
	return false
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// mountedUsers lists the users directory on a mounted drive, excluding
// known non-user profile directories, and appends the fallback set.
func mountedUsers(drive string) []string {
	usersDir := filepath.Join("/mnt", drive, "Users")
	entries, err := os.ReadDir(usersDir)
	seen := make(map[string]bool)
	var users []string
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() || excludedUsers[e.Name()] {
				continue
			}
			if !seen[e.Name()] {
				seen[e.Name()] = true
				users = append(users, e.Name())
			}
		}
	}
	for _, u := range fallbackUsers() {
		if !seen[u] {
			seen[u] = true
			users = append(users, u)
		}
	}
	return users
}

// windowsVariant rewrites a Windows-style path (possibly containing
// %USERPROFILE% or a bare leading "~") onto a mounted drive for a given
// user, producing e.g. "/mnt/c/Users/alice/AppData/Roaming/Foo".
func windowsVariant(drive, user, winPath string) string {
	rel := winPath
	for _, prefix := range []string{`%USERPROFILE%\`, `~\`, `~/`} {
		if len(rel) >= len(prefix) && rel[:len(prefix)] == prefix {
			rel = rel[len(prefix):]
			break
		}
	}
	rel = filepathFromWindows(rel)
	return filepath.Join("/mnt", drive, "Users", user, rel)
}

func filepathFromWindows(p string) string {
	out := make([]byte, len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' {
			out[i] = '/'
		} else {
			out[i] = p[i]
		}
	}
	return string(out)
}

// Resolve returns a deduplicated, stably-ordered sequence of candidate log
// paths for an agent class: native paths for the current OS first, then —
// when running on a remote-volume host — the Windows-style expansion for
// every mounted drive and discovered user. Resolve never performs I/O
// beyond existence probes (mount marker, users directory listing).
func Resolve(paths AgentPaths) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		out = append(out, p)
	}

	switch runtime.GOOS {
	case "linux":
		for _, p := range paths.Linux {
			add(expandHome(p))
		}
	case "darwin":
		for _, p := range paths.MacOS {
			add(expandHome(p))
		}
	case "windows":
		for _, p := range paths.Windows {
			add(expandHome(p))
		}
	}

	if IsRemoteVolumeHost() && len(paths.Windows) > 0 {
		for _, drive := range remoteDrives {
			if _, err := os.Stat(filepath.Join("/mnt", drive)); err != nil {
				continue
			}
			for _, user := range mountedUsers(drive) {
				for _, winPath := range paths.Windows {
					add(windowsVariant(drive, user, winPath))
				}
			}
		}
	}

	return out
}

func expandHome(p string) string {
	if len(p) == 0 || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) > 1 && (p[1] == '/' || p[1] == filepath.Separator) {
		return filepath.Join(home, p[2:])
	}
	return p
}
