package core

// Directive tells a stage how to react to a fault raised by user code.
type Directive int

const (
	// Stop fails the stage with the fault. This is the default.
	Stop Directive = iota
	// Resume drops the element that caused the fault and keeps the stage state.
	Resume
	// Restart drops the element and resets the stage to its initial state.
	Restart
)

func (d Directive) String() string {
	switch d {
	case Stop:
		return "stop"
	case Resume:
		return "resume"
	case Restart:
		return "restart"
	default:
		return "unknown"
	}
}

// Decider maps a fault to a Directive.
type Decider func(error) Directive

// StoppingDecider stops on every fault.
func StoppingDecider(error) Directive { return Stop }

// ResumingDecider resumes on every fault.
func ResumingDecider(error) Directive { return Resume }

// RestartingDecider restarts on every fault.
func RestartingDecider(error) Directive { return Restart }

// Decide consults decider exactly once. Fatal errors always stop, and so does
// a decider that panics.
func Decide(decider Decider, err error) (d Directive) {
	if decider == nil || IsFatal(err) {
		return Stop
	}
	defer func() {
		if r := recover(); r != nil {
			d = Stop
		}
	}()
	return decider(err)
}
