package domain

import "time"

const (
	HealthErrorStringNone        = "none"
	HealthErrorStringNetwork     = "network"
	HealthErrorStringTimeout     = "timeout"
	HealthErrorStringProtocol    = "protocol"
	HealthErrorStringCircuitOpen = "circuit_open"
)

// HealthErrorKind classifies why a probe failed, mirroring the error
// taxonomy in errors.go but scoped to health-check outcomes only.
type HealthErrorKind string

const (
	HealthErrorNone        HealthErrorKind = HealthErrorStringNone
	HealthErrorNetwork     HealthErrorKind = HealthErrorStringNetwork
	HealthErrorTimeout     HealthErrorKind = HealthErrorStringTimeout
	HealthErrorProtocol    HealthErrorKind = HealthErrorStringProtocol
	HealthErrorCircuitOpen HealthErrorKind = HealthErrorStringCircuitOpen
)

func (k HealthErrorKind) String() string {
	return string(k)
}

// HealthSnapshot is the Health Monitor's latest observation for one
// connection.
type HealthSnapshot struct {
	Server              string
	Healthy             bool
	ConsecutiveFailures int
	LastCheckedAt       time.Time
	LastLatency         time.Duration
	ErrorKind           HealthErrorKind
	LastError           error
}
