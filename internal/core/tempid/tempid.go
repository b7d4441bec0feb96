// Package tempid generates deterministic placeholder company ids for rows
// that could not be resolved to a canonical identifier
package tempid

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"strings"

	"wdh/internal/core/normalize"
)

// Prefix marks every generated id; consumers rely on the two leading
// characters to tell temp ids apart from numeric canonical ids
const Prefix = "IN_"

// emptyInput is hashed in place of names that normalize to nothing so the
// id stays stable and never collides with a real name
const emptyInput = "__empty__"

// placeholders are input values that mean "no name at all"; they must not
// receive a temp id of their own
var placeholders = map[string]struct{}{
	"0":  {},
	"空白": {},
}

// IsPlaceholder reports whether raw carries no usable company name
func IsPlaceholder(raw string) bool {
	s := strings.TrimSpace(raw)
	if s == "" {
		return true
	}
	_, ok := placeholders[s]
	return ok
}

// New derives the temp id for name under salt. The same post-normalization
// name always yields the same id; that collision is the point
func New(name, salt string) string {
	n := normalize.Name(name)
	if n == "" {
		n = emptyInput
	}
	mac := hmac.New(sha1.New, []byte(salt))
	mac.Write([]byte(n))
	sum := mac.Sum(nil)
	// 10 raw bytes encode to exactly 16 Base32 characters
	return Prefix + base32.StdEncoding.EncodeToString(sum[:10])
}

// ForName applies the placeholder rule before hashing: inputs that mean
// "no name" get no id at all rather than a hash of the placeholder
func ForName(name, salt string) (string, bool) {
	if IsPlaceholder(name) {
		return "", false
	}
	return New(name, salt), true
}

// IsTemp reports whether id was produced by this generator family.
// The check is on the IN prefix only, matching what downstream consumers do
func IsTemp(id string) bool { return strings.HasPrefix(id, "IN") }
