package postgres

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// errPredicateColumn marks a predicate that references a column outside
// the store's whitelist. The contact source treats it like the other
// lead-only criteria rather than failing resolution.
var errPredicateColumn = errors.New("predicate column not allowed")

// Audience filters may carry a free-form predicate such as
// "score >= 60 AND source = 'referral'". Only AND-joined comparisons on
// whitelisted columns compile; anything else is an error, so a bad
// predicate can never silently widen the audience.

var leadPredicateColumns = map[string]bool{
	"status":       true,
	"source":       true,
	"lead_type":    true,
	"location":     true,
	"budget":       true,
	"score":        true,
	"is_qualified": true,
	"company":      true,
	"job_title":    true,
}

var contactPredicateColumns = map[string]bool{
	"location":   true,
	"company":    true,
	"job_title":  true,
	"subscribed": true,
}

var predicateCond = regexp.MustCompile(`^([a-z_]+)\s*(=|!=|<>|>=|<=|>|<)\s*(.+)$`)

// compilePredicate turns a predicate into a parameterized SQL fragment
// whose placeholders start at argument index idx. Returns the fragment,
// its arguments and the next free index.
func compilePredicate(expr string, columns map[string]bool, idx int) (string, []interface{}, int, error) {
	var clauses []string
	var args []interface{}
	for _, cond := range splitAnd(expr) {
		cond = strings.TrimSpace(cond)
		m := predicateCond.FindStringSubmatch(cond)
		if m == nil {
			return "", nil, idx, fmt.Errorf("unparseable predicate condition %q", cond)
		}
		col, op, raw := m[1], m[2], strings.TrimSpace(m[3])
		if !columns[col] {
			return "", nil, idx, fmt.Errorf("%w: %q", errPredicateColumn, col)
		}
		val, err := predicateValue(raw)
		if err != nil {
			return "", nil, idx, err
		}
		if op == "<>" {
			op = "!="
		}
		clauses = append(clauses, fmt.Sprintf("%s %s $%d", col, op, idx))
		args = append(args, val)
		idx++
	}
	return strings.Join(clauses, " AND "), args, idx, nil
}

// splitAnd splits on AND connectives outside single-quoted strings.
func splitAnd(expr string) []string {
	var parts []string
	upper := strings.ToUpper(expr)
	quoted := false
	last := 0
	for i := 0; i < len(expr); i++ {
		if expr[i] == '\'' {
			quoted = !quoted
			continue
		}
		if quoted {
			continue
		}
		if i+5 <= len(expr) && upper[i:i+5] == " AND " {
			parts = append(parts, expr[last:i])
			last = i + 5
			i += 4
		}
	}
	return append(parts, expr[last:])
}

// predicateValue parses a literal: 'quoted string', true/false, or a
// number. Quoted strings use '' to escape an embedded quote.
func predicateValue(raw string) (interface{}, error) {
	if len(raw) >= 2 && strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") {
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'"), nil
	}
	switch strings.ToLower(raw) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n, nil
	}
	return nil, fmt.Errorf("unparseable predicate value %q", raw)
}
