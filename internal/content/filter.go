package content

import (
	"strconv"
	"strings"
)

// Filter is an OData $filter expression over list item fields.
// The zero value matches every item.
type Filter struct {
	clauses []string
}

func fieldRef(name string) string {
	return "fields/" + name
}

// Eq matches items whose string field equals value. Single quotes are escaped.
func Eq(field, value string) Filter {
	literal := "'" + strings.ReplaceAll(value, "'", "''") + "'"
	return Filter{clauses: []string{fieldRef(field) + " eq " + literal}}
}

// EqInt matches items whose numeric field equals value.
func EqInt(field string, value int) Filter {
	return Filter{clauses: []string{fieldRef(field) + " eq " + strconv.Itoa(value)}}
}

// EqBool matches items whose boolean field equals value.
func EqBool(field string, value bool) Filter {
	return Filter{clauses: []string{fieldRef(field) + " eq " + strconv.FormatBool(value)}}
}

// IsNull matches items where field has no value.
func IsNull(field string) Filter {
	return Filter{clauses: []string{fieldRef(field) + " eq null"}}
}

// And combines f with others; all clauses must match.
func (f Filter) And(others ...Filter) Filter {
	clauses := append([]string(nil), f.clauses...)
	for _, o := range others {
		clauses = append(clauses, o.clauses...)
	}
	return Filter{clauses: clauses}
}

// IsZero reports whether the filter has no clauses.
func (f Filter) IsZero() bool {
	return len(f.clauses) == 0
}

func (f Filter) String() string {
	return strings.Join(f.clauses, " and ")
}
