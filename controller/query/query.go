// Package query substitutes pipeline verdicts into a boolean query template
// and evaluates the result.
//
// A template is a boolean expression over @NAME@ placeholders, for example
//
//	(@FRONT_DOOR@ or @BACK_DOOR@) and not @HALLWAY@
//
// Placeholders are named after pipelines and match case-insensitively.
// After substitution the expression may contain only true, false, and, or,
// not and parentheses. Keywords are case-insensitive. Precedence follows
// the usual convention: not binds tighter than and, which binds tighter
// than or.
package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/c360/watchpost/errors"
)

// maxDepth bounds parenthesis and not nesting.
const maxDepth = 128

var placeholderPattern = regexp.MustCompile(`@.*?@`)

// Placeholders lists the distinct placeholder names in template, upper-case,
// without the surrounding @, sorted.
func Placeholders(template string) []string {
	seen := make(map[string]struct{})
	for _, m := range placeholderPattern.FindAllString(template, -1) {
		seen[strings.ToUpper(strings.Trim(m, "@"))] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Substitute replaces every placeholder with the verdict of the sender it
// names, or false when there is none. Names match case-insensitively.
func Substitute(template string, verdicts map[string]bool) string {
	upper := make(map[string]bool, len(verdicts))
	for sender, alert := range verdicts {
		key := strings.ToUpper(sender)
		upper[key] = upper[key] || alert
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		return literal(upper[strings.ToUpper(strings.Trim(m, "@"))])
	})
}

func literal(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// SyntaxError describes a query that could not be evaluated.
type SyntaxError struct {
	Query   string
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("query %q: %s at offset %d", e.Query, e.Message, e.Pos)
}

// Unwrap ties every syntax error to the query evaluation taxonomy entry.
func (e *SyntaxError) Unwrap() error {
	return errors.ErrQueryEvaluation
}

// Evaluate parses and evaluates a fully substituted expression.
func Evaluate(expr string) (bool, error) {
	toks, err := lex(expr)
	if err != nil {
		return false, err
	}
	p := &parser{src: expr, toks: toks}
	v, err := p.parseOr(0)
	if err != nil {
		return false, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return false, p.errorf(t, "unexpected %s", t)
	}
	return v, nil
}

// Validate checks that template is well formed once every placeholder is
// substituted.
func Validate(template string) error {
	_, err := Evaluate(Substitute(template, nil))
	return err
}
