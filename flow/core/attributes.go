package core

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// Attribute is a single piece of stage configuration. Attributes are
// identified by their dynamic type; lookups return the most specific value
// of the requested type.
type Attribute interface {
	AttributeKey() string
}

// Name names a stage or composite graph. Names show up in logs, metrics and
// error messages.
type Name string

func (Name) AttributeKey() string { return "name" }

// InputBuffer sizes the buffer an async boundary keeps in front of a stage.
type InputBuffer struct {
	Initial int
	Max     int
}

func (InputBuffer) AttributeKey() string { return "input-buffer" }

// SupervisionStrategy attaches a Decider to a stage or graph.
type SupervisionStrategy struct {
	Decider Decider
}

func (SupervisionStrategy) AttributeKey() string { return "supervision-strategy" }

// AsyncBoundary marks the graph it is attached to as a separate island.
type AsyncBoundary struct{}

func (AsyncBoundary) AttributeKey() string { return "async-boundary" }

// Dispatcher records the execution context a graph asks for. Islands always
// run on their own goroutine; the hint is kept for logging.
type Dispatcher string

func (Dispatcher) AttributeKey() string { return "dispatcher" }

// LogOff disables a log event in LogLevels.
const LogOff = zapcore.InvalidLevel

// LogLevels configures the levels the Log stage publishes at.
type LogLevels struct {
	OnElement zapcore.Level
	OnFinish  zapcore.Level
	OnFailure zapcore.Level
}

func (LogLevels) AttributeKey() string { return "log-levels" }

// DefaultLogLevels matches the levels used when no LogLevels attribute is set.
var DefaultLogLevels = LogLevels{
	OnElement: zapcore.DebugLevel,
	OnFinish:  zapcore.DebugLevel,
	OnFailure: zapcore.ErrorLevel,
}

// Attributes is an immutable, ordered list of attributes. Later entries are
// more specific than earlier ones.
type Attributes struct {
	list []Attribute
}

// NewAttributes creates Attributes from the given entries, least specific first.
func NewAttributes(attrs ...Attribute) Attributes {
	if len(attrs) == 0 {
		return Attributes{}
	}
	list := make([]Attribute, len(attrs))
	copy(list, attrs)
	return Attributes{list: list}
}

// Named is shorthand for NewAttributes(Name(name)).
func Named(name string) Attributes {
	return NewAttributes(Name(name))
}

// Supervision is shorthand for an Attributes holding a SupervisionStrategy.
func Supervision(decider Decider) Attributes {
	return NewAttributes(SupervisionStrategy{Decider: decider})
}

// And returns attributes where other is more specific than a.
func (a Attributes) And(other Attributes) Attributes {
	if len(other.list) == 0 {
		return a
	}
	if len(a.list) == 0 {
		return other
	}
	list := make([]Attribute, 0, len(a.list)+len(other.list))
	list = append(list, a.list...)
	list = append(list, other.list...)
	return Attributes{list: list}
}

// With appends more specific entries.
func (a Attributes) With(attrs ...Attribute) Attributes {
	return a.And(NewAttributes(attrs...))
}

// IsEmpty reports whether no attribute is set.
func (a Attributes) IsEmpty() bool {
	return len(a.list) == 0
}

// List returns a copy of the entries, least specific first.
func (a Attributes) List() []Attribute {
	out := make([]Attribute, len(a.list))
	copy(out, a.list)
	return out
}

// Name returns the most specific name, or "" when unnamed.
func (a Attributes) Name() string {
	n, _ := GetAttribute[Name](a)
	return string(n)
}

// NameLifted joins every name from least to most specific with '-', the way
// nested composites are reported in logs.
func (a Attributes) NameLifted() string {
	var names []string
	for _, attr := range a.list {
		if n, ok := attr.(Name); ok && n != "" {
			names = append(names, string(n))
		}
	}
	return strings.Join(names, "-")
}

// Contains reports whether an attribute with the same key is present.
func (a Attributes) Contains(key string) bool {
	for _, attr := range a.list {
		if attr.AttributeKey() == key {
			return true
		}
	}
	return false
}

// GetAttribute returns the most specific attribute of type A.
func GetAttribute[A Attribute](a Attributes) (A, bool) {
	for i := len(a.list) - 1; i >= 0; i-- {
		if v, ok := a.list[i].(A); ok {
			return v, true
		}
	}
	var zero A
	return zero, false
}

// GetAttributeOr returns the most specific attribute of type A or def.
func GetAttributeOr[A Attribute](a Attributes, def A) A {
	if v, ok := GetAttribute[A](a); ok {
		return v
	}
	return def
}
