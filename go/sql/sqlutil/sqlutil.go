// Package sqlutil has helpers for building bulk SQL statements.
package sqlutil

import (
	"strconv"
	"strings"
)

// ValuesPlaceholders returns a set of SQL placeholder numbers grouped for
// use in an INSERT statement, e.g. "($1,$2),($3,$4)" for 2 columns and
// 2 rows. Panics if either argument is <= 0.
func ValuesPlaceholders(valuesPerRow, numRows int) string {
	if valuesPerRow <= 0 || numRows <= 0 {
		panic("must have at least one row and one value per row")
	}
	var b strings.Builder
	n := 1
	for r := 0; r < numRows; r++ {
		if r > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for c := 0; c < valuesPerRow; c++ {
			if c > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}
