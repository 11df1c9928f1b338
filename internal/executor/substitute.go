package executor

import (
	"fmt"
	"sort"
	"strings"

	"intake/internal/services"
)

// Variables are the values available to {name} placeholders.
type Variables map[string]string

// Variable names exposed to pipeline steps.
const (
	VarFilePath     = "file_path"
	VarRelativePath = "relative_path"
	VarFilename     = "filename"
	VarDatabase     = "database"
	VarGroupPath    = "group_path"
	VarBaseFolder   = "base_folder"
	VarLogLevel     = "log_level"
)

// Names returns the sorted variable names.
func (v Variables) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Substitute replaces {name} placeholders in template. Doubled braces produce
// a literal brace. A placeholder naming an unknown variable is an error that
// lists the available names.
func Substitute(template string, vars Variables) (string, error) {
	if !strings.ContainsAny(template, "{}") {
		return template, nil
	}
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); i++ {
		ch := template[i]
		switch {
		case ch == '{' && i+1 < len(template) && template[i+1] == '{':
			b.WriteByte('{')
			i++
		case ch == '}' && i+1 < len(template) && template[i+1] == '}':
			b.WriteByte('}')
			i++
		case ch == '{':
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", services.Wrap(services.ErrStepExecution, "executor", "substitute",
					fmt.Sprintf("Unclosed '{' in argument: %s", template), nil)
			}
			name := template[i+1 : i+1+end]
			value, ok := vars[name]
			if !ok {
				return "", services.Wrap(services.ErrStepExecution, "executor", "substitute",
					fmt.Sprintf("Unknown variable '{%s}' in argument: %s\nAvailable variables: %s",
						name, template, strings.Join(vars.Names(), ", ")), nil)
			}
			b.WriteString(value)
			i += end + 1
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), nil
}
