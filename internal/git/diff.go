package git

import (
	"strconv"
	"strings"
)

// DiffFileStat summarizes one changed file between a base ref and the
// working tree.
type DiffFileStat struct {
	Path       string `json:"path"`
	Status     string `json:"status"` // added | modified | deleted | renamed
	Insertions int    `json:"insertions"`
	Deletions  int    `json:"deletions"`
}

// DiffHunk is one contiguous region of a file diff.
type DiffHunk struct {
	Header   string   `json:"header"`
	OldStart int      `json:"oldStart"`
	OldLines int      `json:"oldLines"`
	NewStart int      `json:"newStart"`
	NewLines int      `json:"newLines"`
	Lines    []string `json:"lines"`
}

func statusFromLetter(letter string) string {
	switch {
	case letter == "A":
		return "added"
	case letter == "D":
		return "deleted"
	case letter == "M":
		return "modified"
	case strings.HasPrefix(letter, "R"):
		return "renamed"
	default:
		return "modified"
	}
}

// DiffFileList returns per-file stats for `git diff <base>`.
func DiffFileList(workDir, base string) ([]DiffFileStat, error) {
	statusOut, err := runGit(workDir, "diff", "--name-status", base)
	if err != nil {
		return nil, err
	}

	statusByPath := make(map[string]string)
	var order []string
	for _, line := range strings.Split(strings.TrimSpace(statusOut), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		// Renames list old and new path; report the new one.
		path := fields[len(fields)-1]
		statusByPath[path] = statusFromLetter(fields[0])
		order = append(order, path)
	}

	numstatOut, err := runGit(workDir, "diff", "--numstat", base)
	if err != nil {
		return nil, err
	}
	insertions := make(map[string]int)
	deletions := make(map[string]int)
	for _, line := range strings.Split(strings.TrimSpace(numstatOut), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		path := fields[len(fields)-1]
		// Binary files report "-" counts.
		if n, err := strconv.Atoi(fields[0]); err == nil {
			insertions[path] = n
		}
		if n, err := strconv.Atoi(fields[1]); err == nil {
			deletions[path] = n
		}
	}

	stats := make([]DiffFileStat, 0, len(order))
	for _, path := range order {
		stats = append(stats, DiffFileStat{
			Path:       path,
			Status:     statusByPath[path],
			Insertions: insertions[path],
			Deletions:  deletions[path],
		})
	}
	return stats, nil
}

// FileDiff returns the hunks of `git diff <base> -- <file>`.
func FileDiff(workDir, base, file string) ([]DiffHunk, error) {
	out, err := runGit(workDir, "diff", base, "--", file)
	if err != nil {
		return nil, err
	}
	return ParseHunks(out), nil
}

// ParseHunks splits unified diff output into hunks. Everything before the
// first @@ header (the file header) is dropped.
func ParseHunks(diff string) []DiffHunk {
	var hunks []DiffHunk
	var current *DiffHunk

	for _, line := range strings.Split(diff, "\n") {
		if strings.HasPrefix(line, "@@") {
			if current != nil {
				hunks = append(hunks, *current)
			}
			oldStart, oldLines, newStart, newLines := parseHunkHeader(line)
			current = &DiffHunk{
				Header:   line,
				OldStart: oldStart,
				OldLines: oldLines,
				NewStart: newStart,
				NewLines: newLines,
			}
			continue
		}
		if current != nil {
			current.Lines = append(current.Lines, line)
		}
	}
	if current != nil {
		// Trim the trailing empty line the final newline produces.
		if n := len(current.Lines); n > 0 && current.Lines[n-1] == "" {
			current.Lines = current.Lines[:n-1]
		}
		hunks = append(hunks, *current)
	}
	return hunks
}

// parseHunkHeader reads "@@ -12,4 +13,6 @@ context".
func parseHunkHeader(header string) (oldStart, oldLines, newStart, newLines int) {
	oldLines, newLines = 1, 1
	fields := strings.Fields(header)
	for _, field := range fields {
		switch {
		case strings.HasPrefix(field, "-"):
			oldStart, oldLines = parseRange(field[1:])
		case strings.HasPrefix(field, "+"):
			newStart, newLines = parseRange(field[1:])
		}
	}
	return oldStart, oldLines, newStart, newLines
}

func parseRange(spec string) (start, count int) {
	count = 1
	parts := strings.SplitN(spec, ",", 2)
	start, _ = strconv.Atoi(parts[0])
	if len(parts) == 2 {
		count, _ = strconv.Atoi(parts[1])
	}
	return start, count
}

// FileAtRef returns the content of a file at a ref via `git show ref:path`.
func FileAtRef(workDir, ref, path string) (string, error) {
	return runGit(workDir, "show", ref+":"+path)
}
