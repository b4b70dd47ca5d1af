// Package validation holds the small input checks shared by the CLI and
// the HTTP surface: slug shape, thread ids, and pagination clamps. The
// deeper schema validation of search criteria lives with the criteria
// type itself.
package validation

import (
	"strings"

	rcerrors "github.com/hunianlab/rumahcari/internal/errors"
	"github.com/hunianlab/rumahcari/internal/property"
)

// Pagination bounds, shared by every surface that accepts a limit.
const (
	MaxLimit     = 50
	DefaultLimit = 10
)

// ClampLimit normalizes a requested page size: non-positive adopts the
// default, anything past the cap is cut to it.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Slug checks the cross-system property key: lowercase letters, digits
// and hyphens, no leading or trailing hyphen.
func Slug(slug string) error {
	if slug == "" {
		return rcerrors.BadRequest("slug is empty")
	}
	if len(slug) > 200 {
		return rcerrors.BadRequest("slug is too long")
	}
	if strings.HasPrefix(slug, "-") || strings.HasSuffix(slug, "-") {
		return rcerrors.BadRequest("slug must not start or end with a hyphen")
	}
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
		default:
			return rcerrors.Newf(rcerrors.ErrCodeInvalidInput,
				"slug %q contains invalid character %q", slug, r)
		}
	}
	return nil
}

// ThreadID checks a conversation id. Ids are caller-chosen opaque
// strings; only emptiness, length, and whitespace are rejected.
func ThreadID(id string) error {
	if id == "" {
		return rcerrors.BadRequest("thread id is empty")
	}
	if len(id) > 128 {
		return rcerrors.BadRequest("thread id is too long")
	}
	if strings.ContainsAny(id, " \t\n") {
		return rcerrors.BadRequest("thread id must not contain whitespace")
	}
	return nil
}

// SourceKind parses the listing/project discriminator, accepting the
// backend's "source" spelling.
func SourceKind(raw string) (property.SourceKind, error) {
	kind := property.SourceKind(strings.ToLower(strings.TrimSpace(raw)))
	if kind == "" {
		return property.SourceListing, nil
	}
	if !kind.Valid() {
		return "", rcerrors.Newf(rcerrors.ErrCodeInvalidInput,
			"unknown source kind %q (want listing or project)", raw)
	}
	return kind, nil
}
