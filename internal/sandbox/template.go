// Package sandbox runs declared tool commands inside per-tenant warm
// containers. Templates are rendered by plain substitution; the shell
// never sees parameter values before the container does.
package sandbox

import (
	"fmt"
	"strings"

	"github.com/ligolabs/ligo/internal/store"
)

// Render substitutes `<param>` and `{param}` placeholders in the
// command template. Values come from params, then from the parameter's
// declared default; a missing mandatory parameter is an error. No
// shell interpolation happens here: the result is handed to the
// container executor as-is.
func Render(cmd *store.SandboxedToolCommand, params map[string]any) (string, error) {
	out := cmd.Template
	for _, def := range cmd.Parameters {
		val, ok := params[def.Name]
		var s string
		switch {
		case ok:
			s = fmt.Sprint(val)
		case def.Default != "":
			s = def.Default
		case def.Required:
			return "", fmt.Errorf("command %s: missing required parameter %q", cmd.Name, def.Name)
		}
		out = strings.ReplaceAll(out, "<"+def.Name+">", s)
		out = strings.ReplaceAll(out, "{"+def.Name+"}", s)
	}
	return out, nil
}
