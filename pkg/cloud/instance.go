// Package cloud wraps the EC2 and SSM calls the bot makes against its single
// game server instance.
package cloud

import (
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
)

// State is the lifecycle state of an EC2 instance.
type State string

const (
	StatePending      State = "pending"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting-down"
	StateTerminated   State = "terminated"
	StateStopping     State = "stopping"
	StateStopped      State = "stopped"
	StateUnknown      State = "unknown"
)

// ParseState maps an EC2 state name onto State.
func ParseState(name string) State {
	switch s := State(name); s {
	case StatePending, StateRunning, StateShuttingDown, StateTerminated, StateStopping, StateStopped:
		return s
	default:
		return StateUnknown
	}
}

// InstanceStatus is a point-in-time description of the instance.
type InstanceStatus struct {
	InstanceID   string    `json:"instance_id"`
	Region       string    `json:"region"`
	State        State     `json:"state"`
	ImageID      string    `json:"image_id,omitempty"`
	InstanceType string    `json:"instance_type,omitempty"`
	PublicIP     string    `json:"public_ip,omitempty"`
	PublicDNS    string    `json:"public_dns,omitempty"`
	LaunchTime   time.Time `json:"launch_time,omitempty"`
}

func (s InstanceStatus) String() string {
	return fmt.Sprintf("instance %s (%s) is %s", s.InstanceID, s.ImageID, s.State)
}

// CloudError is the single error type surfaced by this package.
type CloudError struct {
	Code    string
	Message string
	Err     error
}

func (e *CloudError) Error() string {
	return fmt.Sprintf("cloud: %s: %s", e.Code, e.Message)
}

func (e *CloudError) Unwrap() error {
	return e.Err
}

// Codes used for errors that do not come from AWS.
const (
	CodeInstanceNotFound = "InstanceNotFound"
	CodeTimeout          = "Timeout"
	CodeCommandFailed    = "CommandFailed"
	CodeIncorrectState   = "IncorrectInstanceState"
)

// wrapError converts an AWS SDK error into a *CloudError.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CloudError
	if errors.As(err, &ce) {
		return err
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		if aerr.Code() == "RequestCanceled" {
			return &CloudError{Code: CodeTimeout, Message: op + ": " + aerr.Message(), Err: err}
		}
		return &CloudError{Code: aerr.Code(), Message: op + ": " + aerr.Message(), Err: err}
	}
	return &CloudError{Code: "Unknown", Message: op + ": " + err.Error(), Err: err}
}

// IsCode reports whether err is a CloudError with the given code.
func IsCode(err error, code string) bool {
	var ce *CloudError
	return errors.As(err, &ce) && ce.Code == code
}
