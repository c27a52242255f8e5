package snapshot

import "regexp"

type entryKind uint8

const (
	kindDigest entryKind = iota + 1
	kindError
)

// Entry is the outcome of hashing one file: either a content digest or the
// text of the error that prevented computing one.
type Entry struct {
	kind  entryKind
	value string
}

func Digest(hex string) Entry { return Entry{kind: kindDigest, value: hex} }

func ScanError(text string) Entry { return Entry{kind: kindError, value: text} }

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64,128}$`)

// ParseEntry classifies a persisted value. Lowercase hex of digest length is a
// digest, anything else was an error description.
func ParseEntry(value string) Entry {
	if digestPattern.MatchString(value) {
		return Digest(value)
	}
	return ScanError(value)
}

func (e Entry) IsError() bool { return e.kind == kindError }

func (e Entry) IsZero() bool { return e.kind == 0 }

// String returns the persisted form of the entry.
func (e Entry) String() string { return e.value }

// Equal reports whether two entries represent the same outcome. Any difference
// in kind or text is a change.
func (e Entry) Equal(other Entry) bool {
	return e.kind == other.kind && e.value == other.value
}
