package rdfsource

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/rdfpub/batch"
)

// ExpandInputs resolves command line inputs to concrete file paths.
//
// Arguments may be plain paths, glob patterns (including ** for recursive
// matches), or @listfile naming a file with one path or pattern per line. Order is
// preserved and duplicates are dropped.
//
// Examples:
//   - "data/*.ttl" → every Turtle file in data/
//   - "dumps/**/*.nq" → every N-Quads file below dumps/
//   - "@inputs.txt" → the inputs listed in inputs.txt
func ExpandInputs(args []string) ([]string, error) {
	var resolved []string
	seen := make(map[string]bool)

	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			resolved = append(resolved, p)
		}
	}

	for _, arg := range args {
		if list, ok := strings.CutPrefix(arg, "@"); ok {
			entries, err := readListFile(list)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				paths, err := resolvePattern(entry)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", list, err)
				}
				for _, p := range paths {
					add(p)
				}
			}
			continue
		}

		paths, err := resolvePattern(arg)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			add(p)
		}
	}

	return resolved, nil
}

// SplitPrepared partitions inputs into prepared batch files and RDF sources,
// keeping the relative order within each group.
func SplitPrepared(paths []string) (prepared, raw []string) {
	for _, p := range paths {
		if batch.IsPrepared(p) {
			prepared = append(prepared, p)
		} else {
			raw = append(raw, p)
		}
	}
	return prepared, raw
}

// resolvePattern expands a single argument to regular files.
func resolvePattern(pattern string) ([]string, error) {
	if !containsGlob(pattern) {
		info, err := os.Stat(pattern)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", pattern, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("input %s is a directory", pattern)
		}
		return []string{filepath.Clean(pattern)}, nil
	}

	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	var files []string
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, match)
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no files match pattern: %s", pattern)
	}
	return files, nil
}

// containsGlob checks if a pattern contains glob characters.
func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

func readListFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input list: %w", err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read input list: %w", err)
	}
	return entries, nil
}
