package domain

// ErrorKind tags a failure at the point it happens so remediation can be
// chosen without parsing messages.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransient covers lock contention, timeouts and dropped connections.
	KindTransient
	// KindToolLogic is a tool rejecting its input or failing at its job.
	KindToolLogic
	// KindFatalDefect is a code defect the agent cannot fix by itself.
	KindFatalDefect
	// KindAgentReasoning is a hallucinated capability, target or action.
	KindAgentReasoning
	// KindModelCall is a failed completion request.
	KindModelCall
)

var kindNames = map[ErrorKind]string{
	KindUnknown:        "unknown",
	KindTransient:      "transient",
	KindToolLogic:      "tool_logic",
	KindFatalDefect:    "fatal_defect",
	KindAgentReasoning: "agent_reasoning",
	KindModelCall:      "model_call",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseErrorKind is the inverse of String.
func ParseErrorKind(s string) ErrorKind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(b []byte) error {
	*k = ParseErrorKind(string(b))
	return nil
}
