package backend

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// ValidateName checks an item name. Names are slash separated paths without
// empty segments, surrounding whitespace, or control characters.
func ValidateName(name string) error {
	if name == "" {
		return errors.Wrap(ErrInvalidName, "empty name")
	}
	if !utf8.ValidString(name) {
		return errors.Wrap(ErrInvalidName, "not utf-8")
	}
	if strings.TrimSpace(name) != name {
		return errors.Wrapf(ErrInvalidName, "%q has surrounding whitespace", name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || strings.TrimSpace(seg) != seg {
			return errors.Wrapf(ErrInvalidName, "%q has an empty path segment", name)
		}
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.Wrapf(ErrInvalidName, "%q contains control characters", name)
		}
	}
	return nil
}

// ValidateUserName checks a user name. User names may not contain '/', ':'
// or ',' since they appear in item paths and ACL strings, and may not look
// like a group name.
func ValidateUserName(name string, groupRE *regexp.Regexp) error {
	if name == "" || strings.TrimSpace(name) != name {
		return errors.Wrapf(ErrInvalidName, "user name %q", name)
	}
	if strings.ContainsAny(name, "/:,") {
		return errors.Wrapf(ErrInvalidName, "user name %q contains one of / : ,", name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errors.Wrapf(ErrInvalidName, "user name %q contains control characters", name)
		}
	}
	if groupRE != nil && groupRE.MatchString(name) {
		return errors.Wrapf(ErrInvalidName, "user name %q is a group name", name)
	}
	return nil
}

// ParentName returns the name of the parent item, or "" for top level items.
func ParentName(name string) string {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return ""
	}
	return name[:i]
}
