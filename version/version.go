// Package version provides the infractl version strings.
package version

import (
	_ "embed"
	"runtime"
	"strings"
)

// buildVersion can be overridden at compile time with:
//
//	go build -ldflags "-X github.com/razumnyak/infractl/version.buildVersion=abc" .
//
// Release binaries are always built with buildVersion set.

//go:embed VERSION
var baseVersion string
var buildVersion string

func Version() string {
	return strings.TrimSpace(baseVersion)
}

func BuildVersion() string {
	if buildVersion == "" {
		return "x"
	}
	return buildVersion
}

func UserAgent() string {
	return "infractl/" + Version() + " (" + runtime.GOOS + "; " + runtime.GOARCH + ")"
}
