package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// envRef matches $$, ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envRef = regexp.MustCompile(`\$\$|\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}`)

// ExpandEnv substitutes environment references in a config file.
//
//	${VAR}           value of VAR, empty if unset
//	${VAR:-default}  value of VAR, or default if unset or empty
//	${VAR:?message}  value of VAR; unset or empty is an error
//	$$               a literal $
//
// Comment lines are copied untouched, so a commented-out
// ${UPLOAD_TOKEN:?...} in a provisioning template does not fail the load.
// All missing required variables are reported together, by line.
func ExpandEnv(input string) (string, error) {
	lines := strings.SplitAfter(input, "\n")
	var errs []error
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		lines[i] = envRef.ReplaceAllStringFunc(line, func(ref string) string {
			if ref == "$$" {
				return "$"
			}
			m := envRef.FindStringSubmatch(ref)
			name, op, arg := m[1], m[2], m[3]
			value := os.Getenv(name)
			switch {
			case value != "":
				return value
			case op == ":-":
				return arg
			case op == ":?":
				if arg == "" {
					arg = "required"
				}
				errs = append(errs, fmt.Errorf("line %d: %s: %s", i+1, name, arg))
			}
			return ""
		})
	}
	if len(errs) > 0 {
		return "", fmt.Errorf("unset environment variables: %w", errors.Join(errs...))
	}
	return strings.Join(lines, ""), nil
}
