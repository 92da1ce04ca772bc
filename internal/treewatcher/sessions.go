package treewatcher

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// maxSessions mirrors discovery's top-N cap (N<=10) on newest sessions.
const maxSessions = 10

var sessionDirPattern = regexp.MustCompile(`^\d{8}T\d{6}$`)

// sessionDirsDescending lists subdirectories of root matching the
// YYYYMMDDTHHMMSS session pattern, newest first, capped at maxSessions.
func sessionDirsDescending(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && sessionDirPattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if len(names) > maxSessions {
		names = names[:maxSessions]
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(root, n)
	}
	return out
}

// subdirsMatching returns immediate subdirectories of dir whose name
// starts with any of prefixes, or contains any of substrings.
func subdirsMatching(dir string, prefixes, substrings []string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		matched := false
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				matched = true
				break
			}
		}
		if !matched {
			for _, s := range substrings {
				if strings.Contains(name, s) {
					matched = true
					break
				}
			}
		}
		if matched {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return out
}
