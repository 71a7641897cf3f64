// Package runs implements run search: the relational filter builder, the
// pagination strategies, and the orchestration across the Postgres and
// ClickHouse stores.
package runs

import (
	"strconv"
	"strings"
)

// frag is one WHERE condition with its bound values. The SQL uses `?` for
// each bound value; positions are assigned only at render time.
type frag struct {
	sql  string
	args []interface{}
}

// ClauseSet accumulates WHERE conditions. Appending never assigns parameter
// positions; Render numbers every placeholder in a single pass, so a condition
// can never reference a stale or skipped index.
type ClauseSet struct {
	frags []frag
}

// Add appends one condition. The condition must contain exactly one `?` per
// argument, in argument order.
func (c *ClauseSet) Add(sql string, args ...interface{}) {
	c.frags = append(c.frags, frag{sql: sql, args: args})
}

// Empty reports whether no conditions have been added.
func (c *ClauseSet) Empty() bool {
	return len(c.frags) == 0
}

// Render joins all conditions with AND and rewrites each `?` into the next
// `$n` placeholder, starting at start. It returns the rendered fragment, the
// ordered argument list, and the next unused position.
func (c *ClauseSet) Render(start int) (string, []interface{}, int) {
	var sb strings.Builder
	var args []interface{}
	next := start
	for i, f := range c.frags {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString("(")
		for _, ch := range f.sql {
			if ch == '?' {
				sb.WriteString("$")
				sb.WriteString(strconv.Itoa(next))
				next++
				continue
			}
			sb.WriteRune(ch)
		}
		sb.WriteString(")")
		args = append(args, f.args...)
	}
	return sb.String(), args, next
}
