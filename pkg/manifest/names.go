package manifest

import (
	"fmt"
	"strings"
)

// ValidateName checks that a child name is usable as a single path component
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid entry name %q", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("entry name %q contains a forbidden character", name)
	}
	return nil
}

// ConflictName returns a name marking a conflicting copy of name, not present in taken.
//
// The suffix is inserted before the extensions:
// "foo.tar.gz" becomes "foo (conflicting with bob).tar.gz", then
// "foo (conflicting with bob - 2).tar.gz" and so on.
func ConflictName(name string, taken map[string]EntryID, suffix string) string {
	label := "conflicting with " + suffix
	candidate := withSuffix(name, label)
	for i := 2; ; i++ {
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
		candidate = withSuffix(name, fmt.Sprintf("%s - %d", label, i))
	}
}

func withSuffix(name, suffix string) string {
	parts := strings.Split(name, ".")
	first := len(parts) - 1
	for i, part := range parts {
		if part != "" {
			first = i
			break
		}
	}
	base := strings.Join(parts[:first+1], ".")
	renamed := fmt.Sprintf("%s (%s)", base, suffix)
	return strings.Join(append([]string{renamed}, parts[first+1:]...), ".")
}
