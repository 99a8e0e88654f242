package core

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var nonAlphaNumRegex = regexp.MustCompile(`[^A-Za-z0-9]+`)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// CodeString strips every non-alphanumeric character from `s` and upper-cases it: "Grade 7 - a" -> "GRADE7A".
func CodeString(s string) string {
	return strings.ToUpper(nonAlphaNumRegex.ReplaceAllString(s, ""))
}

// ProjectRoot walks up from the working directory until it finds the module's go.mod.
// go test changes the working directory to the package being tested, so relative paths cannot be trusted.
// Returns an empty string when no root is found (e.g. a deployed binary).
func ProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return ""
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == string(os.PathSeparator) || newDir == currDir {
			return ""
		}
		currDir = newDir
	}
}
