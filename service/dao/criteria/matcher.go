package criteria

import (
	"github.com/viant/hitl/service/dao"
)

// Fields exposes the filterable attributes of a record by parameter name.
type Fields func(name string) (string, bool)

// Match reports whether a record satisfies every parameter. A parameter
// value is either a string or a []string (any of). Parameters naming an
// attribute the record does not expose are ignored; empty values match
// everything.
func Match(fields Fields, parameters []*dao.Parameter) bool {
	for _, param := range parameters {
		if param == nil {
			continue
		}
		actual, ok := fields(param.Name)
		if !ok {
			continue
		}
		if !matchValue(actual, param.Value) {
			return false
		}
	}
	return true
}

func matchValue(actual string, expected interface{}) bool {
	switch v := expected.(type) {
	case string:
		return v == "" || v == actual
	case []string:
		if len(v) == 0 {
			return true
		}
		for _, s := range v {
			if s == actual {
				return true
			}
		}
		return false
	}
	return true
}

// FilterByState is kept for single state filters over a "State"/"Status"
// parameter.
func FilterByState(state string, parameters []*dao.Parameter) bool {
	return Match(func(name string) (string, bool) {
		if name == "State" || name == dao.ParamStatus {
			return state, true
		}
		return "", false
	}, parameters)
}
