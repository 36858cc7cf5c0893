package shared

import (
	"fmt"
	"strconv"
	"strings"
)

// Type tags identify the stored schema of an event and follow the form
// "{Family}.{EventName}.v{version}", e.g. "Order.Placed.v2". The version is
// parsed via a last-dot split, so the family-qualified name (everything
// before the last dot) is the key upcaster chains are registered under.

// FormatTypeTag builds a type tag from a family-qualified event name and a
// schema version.
func FormatTypeTag(family string, version int) string {
	return family + ".v" + strconv.Itoa(version)
}

// SplitTypeTag splits a type tag into its family-qualified name and schema
// version. Returns an error when the tag has no version suffix.
func SplitTypeTag(tag string) (family string, version int, err error) {
	idx := strings.LastIndex(tag, ".")
	if idx <= 0 || idx == len(tag)-1 {
		return "", 0, fmt.Errorf("malformed type tag %q: missing version suffix", tag)
	}
	suffix := tag[idx+1:]
	if !strings.HasPrefix(suffix, "v") {
		return "", 0, fmt.Errorf("malformed type tag %q: version suffix must be v<n>", tag)
	}
	version, err = strconv.Atoi(suffix[1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed type tag %q: %w", tag, err)
	}
	return tag[:idx], version, nil
}
