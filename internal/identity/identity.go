// Package identity derives chunk identifiers from chunk content and finds the
// identifiers of child chunks referenced inside content.
//
// An identifier is "d:" followed by the standard base64 encoding of the
// SHA-256 digest of the content, 46 characters in total.
package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"regexp"
)

const (
	Prefix = "d:"
	// Length is the length of every identifier in bytes.
	Length = len(Prefix) + 44
)

var identifierPattern = regexp.MustCompile(`d:[A-Za-z0-9+/]{43}=`)

// SHA256 is the default identity of chunks. The zero value is ready to use.
type SHA256 struct{}

// Identifier returns the identifier of content.
func (SHA256) Identifier(content []byte) (string, error) {
	return Of(content), nil
}

// ChildIdentifiers returns every identifier embedded in content, in order of
// appearance. Duplicates are kept.
func (SHA256) ChildIdentifiers(content []byte) ([]string, error) {
	matches := identifierPattern.FindAll(content, -1)
	if len(matches) == 0 {
		return nil, nil
	}

	children := make([]string, 0, len(matches))
	for _, m := range matches {
		children = append(children, string(m))
	}
	return children, nil
}

// Of returns the identifier of content.
func Of(content []byte) string {
	sum := sha256.Sum256(content)
	return Prefix + base64.StdEncoding.EncodeToString(sum[:])
}

// Valid reports whether s is a well formed identifier.
func Valid(s string) bool {
	return len(s) == Length && identifierPattern.MatchString(s)
}
