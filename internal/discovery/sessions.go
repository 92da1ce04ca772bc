package discovery

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// maxSessions is the top-N cap (N<=10) on newest sessions descended into
// per agent.
const maxSessions = 10

var sessionDirPattern = regexp.MustCompile(`^\d{8}T\d{6}$`)

// newestSessionDirs lists subdirectories of root matching the
// YYYYMMDDTHHMMSS session pattern, sorted descending (newest first), and
// returns at most maxSessions of them.
func newestSessionDirs(root string) []string {
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

// listFilesWithExt returns every file directly under dir with the given
// extension (including the dot, e.g. ".log").
func listFilesWithExt(dir, ext string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ext) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out
}

// listSubdirsMatching returns immediate subdirectories of dir whose name
// starts with any of prefixes, or contains any of the substrings.
func listSubdirsMatching(dir string, prefixes, substrings []string) []string {
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

// isDir reports whether path exists and is a directory.
func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// vscodeExtensionLogDirs walks a VS Code/Cursor session directory: `.log`
// files at the session root, then descends into window*/exthost/<ext> for
// any extension whose name starts with "anysphere." or contains one of
// the MCP-flavored substrings, collecting `.log` files there and in the
// general exthost directory.
func vscodeExtensionLogDirs(sessionDir string) []string {
	var files []string
	files = append(files, listFilesWithExt(sessionDir, ".log")...)

	windowDirs := listSubdirsMatching(sessionDir, []string{"window"}, nil)
	for _, winDir := range windowDirs {
		exthost := filepath.Join(winDir, "exthost")
		if !isDir(exthost) {
			continue
		}
		files = append(files, listFilesWithExt(exthost, ".log")...)
		extDirs := listSubdirsMatching(exthost,
			[]string{"anysphere."},
			[]string{"mcp", "retrieval", "memento", "review-gate"})
		for _, ed := range extDirs {
			files = append(files, listFilesWithExt(ed, ".log")...)
		}
	}
	return files
}

// claudeCLILogFiles walks the Claude CLI cache layout: project
// directories, then subdirectories named "mcp-logs-*", then ".txt" files
// therein.
func claudeCLILogFiles(cacheRoot string) []string {
	projectDirs := listImmediateDirs(cacheRoot)
	var files []string
	for _, proj := range projectDirs {
		mcpDirs := listSubdirsMatching(proj, []string{"mcp-logs-"}, nil)
		for _, md := range mcpDirs {
			files = append(files, listFilesWithExt(md, ".txt")...)
		}
	}
	return files
}

func listImmediateDirs(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(root, e.Name()))
		}
	}
	return out
}
