// Package version exposes the foreman build version embedded at compile
// time.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the build version, trimmed of surrounding whitespace.
func Get() string {
	return strings.TrimSpace(raw)
}
