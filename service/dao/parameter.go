package dao

// Well known list parameter names.
const (
	ParamModuleID     = "ModuleID"
	ParamAgentID      = "AgentID"
	ParamStatus       = "Status"
	ParamCheckpointID = "CheckpointID"
	ParamType         = "Type"
)

type Parameter struct {
	Name  string
	Value interface{}
}

func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// Lookup returns the first parameter with the supplied name.
func Lookup(name string, parameters []*Parameter) (*Parameter, bool) {
	for _, p := range parameters {
		if p != nil && p.Name == name {
			return p, true
		}
	}
	return nil, false
}
