package scan

import "strings"

var scanSlugReplacer = strings.NewReplacer(" ", "_", "/", "_", "(", "", ")", "")

// GroupSlug keeps the part of a group name before any "(" handle,
// e.g. "Mark Minervini (@markminervini)" becomes "mark_minervini".
func GroupSlug(name string) string {
	if i := strings.Index(name, "("); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// ScanSlug lowercases a scan name and makes it safe for a file name.
func ScanSlug(name string) string {
	return strings.ToLower(scanSlugReplacer.Replace(strings.TrimSpace(name)))
}

// Slug identifies a scan across groups.
func Slug(group, scan string) string {
	return GroupSlug(group) + "_" + ScanSlug(scan)
}
