package domain

const (
	KindStringStdio          = "stdio"
	KindStringSSE            = "sse"
	KindStringStreamableHTTP = "streamable-http"
)

// TransportKind selects which channel implementation a Server Descriptor
// describes.
type TransportKind string

const (
	KindStdio          TransportKind = KindStringStdio
	KindSSE            TransportKind = KindStringSSE
	KindStreamableHTTP TransportKind = KindStringStreamableHTTP
)

func (k TransportKind) String() string {
	return string(k)
}

func (k TransportKind) IsNetwork() bool {
	return k == KindSSE || k == KindStreamableHTTP
}

const (
	ConnectionModeStringStrict  = "strict"
	ConnectionModeStringLenient = "lenient"
)

// ConnectionMode governs how the Lifecycle Manager reacts to recoverable
// initialization failures: strict fails the connection immediately, lenient
// schedules recovery.
type ConnectionMode string

const (
	ConnectionModeStrict  ConnectionMode = ConnectionModeStringStrict
	ConnectionModeLenient ConnectionMode = ConnectionModeStringLenient
)

func (m ConnectionMode) String() string {
	return string(m)
}

// ServerDescriptor is the immutable record describing one external tool
// server. Descriptors are created at registration and destroyed at
// deregistration; nothing mutates them in place.
type ServerDescriptor struct {
	Name           string
	Kind           TransportKind
	Command        string
	Args           []string
	Env            map[string]string
	URL            string
	Headers        map[string]string
	TimeoutMs      int
	ConnectionMode ConnectionMode
	Enabled        bool
}

// Validate enforces the field requirements implied by Kind, returning a
// ConfigInvalidError describing the first violation found.
func (d *ServerDescriptor) Validate() error {
	if d.Name == "" {
		return &ConfigInvalidError{Server: d.Name, Reason: "name is required"}
	}
	switch d.Kind {
	case KindStdio:
		if d.Command == "" {
			return &ConfigInvalidError{Server: d.Name, Reason: "stdio descriptor requires command"}
		}
	case KindSSE, KindStreamableHTTP:
		if d.URL == "" {
			return &ConfigInvalidError{Server: d.Name, Reason: "network descriptor requires url"}
		}
	default:
		return &ConfigInvalidError{Server: d.Name, Reason: "unknown transport kind: " + string(d.Kind)}
	}
	if d.TimeoutMs <= 0 {
		return &ConfigInvalidError{Server: d.Name, Reason: "timeout must be positive"}
	}
	if d.ConnectionMode != ConnectionModeStrict && d.ConnectionMode != ConnectionModeLenient {
		return &ConfigInvalidError{Server: d.Name, Reason: "connectionMode must be strict or lenient"}
	}
	return nil
}
