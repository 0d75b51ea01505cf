package activity

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is how a method's response is resolved.
type Kind int

const (
	// KindCommand submits an activity and polls until it is terminal.
	KindCommand Kind = iota
	// KindQuery is a plain read with no activity envelope.
	KindQuery
	// KindDecision approves or rejects an activity and returns its result
	// without polling.
	KindDecision
	// KindNoop is a no-op endpoint used for request shape testing.
	KindNoop
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindQuery:
		return "query"
	case KindDecision:
		return "decision"
	case KindNoop:
		return "noop"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// KindFromName derives the kind from an operation name.
func KindFromName(name string) Kind {
	switch {
	case name == "approveActivity" || name == "rejectActivity":
		return KindDecision
	case strings.HasPrefix(name, "nOOP"):
		return KindNoop
	case strings.HasPrefix(name, "get") || strings.HasPrefix(name, "list"):
		return KindQuery
	default:
		return KindCommand
	}
}

var wordBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// ActivityType maps an operation name to its activity type tag, e.g.
// createPrivateKeys to ACTIVITY_TYPE_CREATE_PRIVATE_KEYS.
func ActivityType(operationName string) string {
	return "ACTIVITY_TYPE_" + strings.ToUpper(wordBoundary.ReplaceAllString(operationName, "${1}_${2}"))
}

// ResultField is the key under activity.result holding the operation result.
func ResultField(operationName string) string {
	return operationName + "Result"
}

// Method describes one operation of the remote API.
type Method struct {
	Name string
	Path string
	Kind Kind

	// ActivityType and ResultFieldName override the values derived from Name
	// for versioned operations.
	ActivityType    string
	ResultFieldName string
}

// NewMethod returns a method whose kind is derived from its name.
func NewMethod(name, path string) Method {
	return Method{Name: name, Path: path, Kind: KindFromName(name)}
}

// Type returns the activity type tag sent for this method.
func (m Method) Type() string {
	if m.ActivityType != "" {
		return m.ActivityType
	}
	return ActivityType(m.Name)
}

// ResultField returns the result key the method resolves to.
func (m Method) ResultField() string {
	if m.ResultFieldName != "" {
		return m.ResultFieldName
	}
	return ResultField(m.Name)
}

// MethodTable maps operation names to methods.
type MethodTable map[string]Method

// Lookup returns the method registered under name.
func (t MethodTable) Lookup(name string) (Method, error) {
	m, ok := t[name]
	if !ok {
		return Method{}, fmt.Errorf("%w: %s", ErrUnknownMethod, name)
	}
	return m, nil
}

// Merge returns a copy of t with the entries of other added or replaced.
func (t MethodTable) Merge(other MethodTable) MethodTable {
	out := make(MethodTable, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}
