// Package shellsafe screens configured commands before they reach a shell.
// Deployment hooks come from config files that may be synced from a remote
// repository, so chaining and substitution constructs are refused outright.
package shellsafe

import (
	"fmt"
	"strings"
)

// forbidden substrings end the check immediately. Plain redirection with a
// single > is allowed but flagged, since writing files is a legitimate hook
// use.
var forbidden = []string{
	"$(",
	"`",
	"&&",
	"||",
	";",
	"|",
	">>",
	">&",
	"<(",
	">(",
}

// Check validates a command string. It returns a warning for constructs
// that are allowed but worth logging, and an error for refused ones.
func Check(command string) (warning string, err error) {
	for _, f := range forbidden {
		if strings.Contains(command, f) {
			return "", fmt.Errorf("command contains forbidden construct %q: %s", f, command)
		}
	}
	if strings.Contains(command, ">") {
		warning = fmt.Sprintf("command redirects output: %s", command)
	}
	return warning, nil
}

// CheckAll validates a list of commands, stopping at the first refusal.
func CheckAll(commands []string) ([]string, error) {
	var warnings []string
	for _, c := range commands {
		w, err := Check(c)
		if err != nil {
			return warnings, err
		}
		if w != "" {
			warnings = append(warnings, w)
		}
	}
	return warnings, nil
}
