package runs

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// maxSortOffset caps offset pagination; beyond it clients must narrow the
// query instead of paging deeper.
const maxSortOffset = 100000

const sortCursorSep = "::"

// encodeSortCursor packs the last row's sort value and run ID into a keyset
// continuation token.
func encodeSortCursor(value string, id int64) string {
	return value + sortCursorSep + strconv.FormatInt(id, 10)
}

// decodeSortCursor splits a keyset token back into its sort value and run ID.
// The split is on the last separator, since sort values may themselves
// contain "::".
func decodeSortCursor(token string) (string, int64, error) {
	idx := strings.LastIndex(token, sortCursorSep)
	if idx < 0 {
		return "", 0, errors.Errorf("malformed sort cursor %q", token)
	}
	id, err := strconv.ParseInt(token[idx+len(sortCursorSep):], 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "malformed sort cursor %q", token)
	}
	return token[:idx], id, nil
}

// clampOffset normalizes a requested offset into [0, maxSortOffset].
func clampOffset(offset *int) int {
	if offset == nil || *offset < 0 {
		return 0
	}
	if *offset > maxSortOffset {
		return maxSortOffset
	}
	return *offset
}

// renderFragment numbers the `?` placeholders of a standalone SQL fragment
// (such as a join condition) starting at next, returning the rendered SQL and
// the next unused position. Query assembly threads one counter through every
// fragment so positions always line up with the final argument list.
func renderFragment(sql string, next int) (string, int) {
	var sb strings.Builder
	for _, ch := range sql {
		if ch == '?' {
			sb.WriteString("$")
			sb.WriteString(strconv.Itoa(next))
			next++
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String(), next
}
