package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter builds expressions in the store's query dialect. The worker only
// needs equality terms joined with &&, e.g.:
//
//	Filter().Eq("media", id).Eq("version", 2).String()
//	-> `media = "x1" && version = 2`
type FilterBuilder struct {
	terms []string
}

// Filter starts an empty filter expression.
func Filter() *FilterBuilder {
	return &FilterBuilder{}
}

// Eq appends an equality term. Strings are quoted and escaped; numbers and
// bools are rendered bare.
func (f *FilterBuilder) Eq(field string, value interface{}) *FilterBuilder {
	f.terms = append(f.terms, fmt.Sprintf("%s = %s", field, renderValue(value)))
	return f
}

// String renders the filter, joining terms with &&.
func (f *FilterBuilder) String() string {
	return strings.Join(f.terms, " && ")
}

func renderValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strconv.Quote(fmt.Sprintf("%v", v))
	}
}
