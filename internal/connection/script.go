package connection

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/bgunnarsson/sqlfixture/internal/db"
)

// ExecuteFile runs every statement of a SQL script, each in its own
// transaction, stopping at the first failure.
func (m *Manager) ExecuteFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sql file: %w", err)
	}

	stmts := SplitStatements(string(data), m.dialect.Name() == db.DriverMysql)
	for i, stmt := range stmts {
		if _, err := m.ExecuteStrict(ctx, stmt); err != nil {
			return fmt.Errorf("%s: statement %d: %w", path, i+1, err)
		}
	}
	m.log.Info("sql file executed", "path", path, "statements", len(stmts))
	return nil
}

// SplitStatements splits script on semicolons that are outside string
// literals, quoted identifiers and comments. Empty statements are dropped.
// backslashEscapes enables MySQL's backslash escapes inside ' and " strings;
// other servers treat a backslash as an ordinary character.
func SplitStatements(script string, backslashEscapes bool) []string {
	var (
		out   []string
		cur   strings.Builder
		quote rune // active quote character, 0 when none
	)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	r := []rune(script)
	for i := 0; i < len(r); i++ {
		c := r[i]

		if quote != 0 {
			cur.WriteRune(c)
			if c == quote {
				// doubled quote is an escaped quote
				if i+1 < len(r) && r[i+1] == quote {
					cur.WriteRune(r[i+1])
					i++
					continue
				}
				quote = 0
			} else if backslashEscapes && c == '\\' && quote != '`' && i+1 < len(r) {
				cur.WriteRune(r[i+1])
				i++
			}
			continue
		}

		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
			cur.WriteRune(c)
		case c == '[':
			end := indexFrom(r, i+1, ']')
			cur.WriteString(string(r[i:end]))
			i = end - 1
		case c == '-' && i+1 < len(r) && r[i+1] == '-':
			j := i
			for j < len(r) && r[j] != '\n' {
				j++
			}
			i = j - 1
		case c == '/' && i+1 < len(r) && r[i+1] == '*':
			j := i + 2
			for j+1 < len(r) && (r[j] != '*' || r[j+1] != '/') {
				j++
			}
			i = j + 1
			cur.WriteRune(' ')
		case c == ';':
			flush()
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return out
}

// indexFrom returns the index just past the first target at or after start,
// or len(r) when there is none.
func indexFrom(r []rune, start int, target rune) int {
	for j := start; j < len(r); j++ {
		if r[j] == target {
			return j + 1
		}
	}
	return len(r)
}
