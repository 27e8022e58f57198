package database

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// bindNamed rewrites :name placeholders into the dialect's positional form
// and returns the matching arguments. Quoted literals and :: casts are left
// alone. Every name must have a value in binds.
func bindNamed(query string, binds map[string]any, d dialect) (string, []any, error) {
	var (
		sb      strings.Builder
		args    []any
		index   = map[string]int{}
		missing = map[string]bool{}
	)

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := strings.IndexByte(query[i+1:], c)
			if end < 0 {
				sb.WriteString(query[i:])
				i = len(query)
				continue
			}
			sb.WriteString(query[i : i+end+2])
			i += end + 1
		case c == ':' && i+1 < len(query) && query[i+1] == ':':
			sb.WriteString("::")
			i++
		case c == ':' && i+1 < len(query) && isIdentStart(query[i+1]):
			j := i + 1
			for j < len(query) && isIdent(query[j]) {
				j++
			}
			name := query[i+1 : j]
			value, ok := binds[name]
			if !ok {
				missing[name] = true
			}
			if d.reusesPlaceholders {
				n, seen := index[name]
				if !seen {
					args = append(args, value)
					n = len(args)
					index[name] = n
				}
				sb.WriteString(d.placeholder(n))
			} else {
				args = append(args, value)
				sb.WriteString(d.placeholder(len(args)))
			}
			i = j - 1
		default:
			sb.WriteByte(c)
		}
	}

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", nil, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("no value to bind for %s", strings.Join(names, ", ")))
	}
	return sb.String(), args, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdent(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
