package config

import (
	"fmt"
	"os"
	"strings"
)

// Expand substitutes %(name)s macro references from defines and ${VAR}
// references from the environment in the raw config text, before TOML
// decoding. %% and $$ escape the literal characters.
func Expand(s string, defines map[string]string) (string, error) {
	result, err := expandMacros(s, defines)
	if err != nil {
		return "", err
	}
	result, err = expandEnvVars(result)
	if err != nil {
		return "", err
	}
	result = strings.ReplaceAll(result, "%%", "%")
	result = strings.ReplaceAll(result, "$$", "$")
	return result, nil
}

// ParseDefine splits a -D name=value argument.
func ParseDefine(arg string) (name, value string, err error) {
	i := strings.IndexByte(arg, '=')
	if i <= 0 {
		return "", "", fmt.Errorf("macro definition %q is not of the form name=value", arg)
	}
	return arg[:i], arg[i+1:], nil
}

func expandMacros(s string, defines map[string]string) (string, error) {
	var result strings.Builder
	i := 0
	for i < len(s) {
		if i+1 < len(s) && s[i] == '%' && s[i+1] == '%' {
			// Escaped percent, preserved for later unescaping.
			result.WriteString("%%")
			i += 2
			continue
		}

		if i+1 < len(s) && s[i] == '%' && s[i+1] == '(' {
			end := strings.Index(s[i:], ")s")
			if end < 0 {
				return "", fmt.Errorf("unclosed macro reference at position %d in %q", i, s)
			}
			name := s[i+2 : i+end]
			val, ok := defines[name]
			if !ok {
				return "", fmt.Errorf("undefined macro: %%(%s)s", name)
			}
			result.WriteString(val)
			i += end + 2
			continue
		}

		result.WriteByte(s[i])
		i++
	}
	return result.String(), nil
}

func expandEnvVars(s string) (string, error) {
	var result strings.Builder
	i := 0
	for i < len(s) {
		if i+1 < len(s) && s[i] == '$' && s[i+1] == '$' {
			result.WriteString("$$")
			i += 2
			continue
		}

		if i+1 < len(s) && s[i] == '$' && s[i+1] == '{' {
			end := strings.Index(s[i:], "}")
			if end < 0 {
				return "", fmt.Errorf("unclosed environment variable reference at position %d in %q", i, s)
			}
			name := s[i+2 : i+end]
			val, ok := os.LookupEnv(name)
			if !ok {
				return "", fmt.Errorf("undefined environment variable: ${%s}", name)
			}
			result.WriteString(val)
			i += end + 1
			continue
		}

		result.WriteByte(s[i])
		i++
	}
	return result.String(), nil
}
