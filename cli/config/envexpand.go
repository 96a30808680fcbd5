// Package config loads burrow.yaml.
package config

import (
	"os"
	"regexp"
	"strings"
)

// placeholder matches ${NAME}, ${NAME:-default} and ${NAME:?message}.
var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([-?])([^}]*))?\}`)

// MissingEnvError reports ${NAME:?} placeholders whose variable was unset
// or empty.
type MissingEnvError struct {
	Vars []string
}

func (e *MissingEnvError) Error() string {
	return "required environment variables not set: " + strings.Join(e.Vars, ", ")
}

// ExpandEnv substitutes placeholders in input from the process environment.
// An empty variable counts as unset. ${NAME} and ${NAME:-default} never fail;
// ${NAME:?message} yields a *MissingEnvError.
func ExpandEnv(input string) (string, error) {
	return expand(input, os.LookupEnv)
}

func expand(input string, lookup func(string) (string, bool)) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(input, func(match string) string {
		groups := placeholder.FindStringSubmatch(match)
		name, op, arg := groups[1], groups[2], groups[3]
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		switch op {
		case "-":
			return arg
		case "?":
			if arg != "" {
				name += " (" + arg + ")"
			}
			missing = append(missing, name)
		}
		return ""
	})
	if len(missing) > 0 {
		return "", &MissingEnvError{Vars: missing}
	}
	return out, nil
}
