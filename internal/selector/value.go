package selector

// Value is an argument value in a selector tree: *Literal, *Variable,
// *ListValue or *ObjectValue.
type Value interface {
	isValue()
}

// Literal is a constant value.
type Literal struct{ Value any }

// Variable refers to a variable in scope.
type Variable struct{ Name string }

// ListValue is a list that may contain variables.
type ListValue struct{ Items []Value }

// ObjectValue is an input object that may contain variables.
type ObjectValue struct{ Fields []Argument }

func (*Literal) isValue()     {}
func (*Variable) isValue()    {}
func (*ListValue) isValue()   {}
func (*ObjectValue) isValue() {}

// Argument binds a name to a value.
type Argument struct {
	Name  string
	Value Value
}

// Eval resolves v against vars. Unbound variables evaluate to nil.
func Eval(v Value, vars map[string]any) any {
	switch val := v.(type) {
	case *Literal:
		return val.Value
	case *Variable:
		return vars[val.Name]
	case *ListValue:
		out := make([]any, len(val.Items))
		for i, item := range val.Items {
			out[i] = Eval(item, vars)
		}
		return out
	case *ObjectValue:
		return EvalArgs(val.Fields, vars)
	default:
		return nil
	}
}

// EvalArgs evaluates every argument into a map. It returns nil for no
// arguments.
func EvalArgs(args []Argument, vars map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for _, a := range args {
		out[a.Name] = Eval(a.Value, vars)
	}
	return out
}
