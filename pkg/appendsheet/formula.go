package appendsheet

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/efp"
)

var cellRefPattern = regexp.MustCompile(`^(\$?[A-Za-z]{1,3})(\$?)([0-9]+)$`)

// shiftFormula moves every relative row reference in formula by delta rows.
// Absolute rows ($A$1, A$1) and references to whole columns are left alone.
// The formula is returned without a leading "=".
func shiftFormula(formula string, delta int) string {
	formula = strings.TrimPrefix(formula, "=")
	if delta == 0 || formula == "" {
		return formula
	}
	ps := efp.ExcelParser()
	tokens := ps.Parse(formula)
	changed := false
	for i := range tokens {
		tok := &tokens[i]
		if tok.TType != efp.TokenTypeOperand || tok.TSubType != efp.TokenSubTypeRange {
			continue
		}
		if shifted, ok := shiftRange(tok.TValue, delta); ok {
			tok.TValue = shifted
			changed = true
		}
	}
	if !changed {
		return formula
	}
	return ps.Render()
}

func shiftRange(ref string, delta int) (string, bool) {
	prefix, body := "", ref
	if i := strings.LastIndex(ref, "!"); i >= 0 {
		prefix, body = ref[:i+1], ref[i+1:]
	}
	parts := strings.Split(body, ":")
	changed := false
	for i, p := range parts {
		m := cellRefPattern.FindStringSubmatch(p)
		if m == nil || m[2] == "$" {
			continue
		}
		row, err := strconv.Atoi(m[3])
		if err != nil || row+delta < 1 {
			continue
		}
		parts[i] = m[1] + strconv.Itoa(row+delta)
		changed = true
	}
	if !changed {
		return ref, false
	}
	return prefix + strings.Join(parts, ":"), true
}
