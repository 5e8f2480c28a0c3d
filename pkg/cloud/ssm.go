package cloud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
	"github.com/charmbracelet/log"
)

// Invocation is the finished result of a shell command run on the instance.
type Invocation struct {
	Commands []string
	Status   string
	Output   string
	Stderr   string
}

// Succeeded reports whether the invocation finished with status Success.
func (i Invocation) Succeeded() bool {
	return i.Status == ssm.CommandInvocationStatusSuccess
}

func (i Invocation) String() string {
	return fmt.Sprintf("invocation %v: %s %q", i.Commands, i.Status, i.Output)
}

// RetryPolicy bounds the polling done by CommandRunner.
type RetryPolicy struct {
	SendAttempts  int
	SendDelay     time.Duration
	QueryAttempts int
	QueryDelay    time.Duration
	RunAttempts   int
	RunDelay      time.Duration
}

// DefaultRetryPolicy gives a freshly booted instance a few minutes for the
// SSM agent to register and a game server several minutes to answer.
var DefaultRetryPolicy = RetryPolicy{
	SendAttempts:  20,
	SendDelay:     5 * time.Second,
	QueryAttempts: 40,
	QueryDelay:    time.Second,
	RunAttempts:   40,
	RunDelay:      15 * time.Second,
}

// CommandRunner runs shell commands on the instance through SSM.
type CommandRunner struct {
	api        ssmiface.SSMAPI
	instanceID string
	timeout    time.Duration
	policy     RetryPolicy
	logger     *log.Logger
}

// NewCommandRunner wraps an SSM client for one instance. timeout bounds each
// individual API call, not the whole run.
func NewCommandRunner(api ssmiface.SSMAPI, instanceID string, timeout time.Duration, policy RetryPolicy, logger *log.Logger) *CommandRunner {
	return &CommandRunner{api: api, instanceID: instanceID, timeout: timeout, policy: policy, logger: logger}
}

// Run sends the commands and waits for the invocation to finish. A
// non-Success status is returned as an Invocation, not an error.
func (r *CommandRunner) Run(ctx context.Context, commands []string) (Invocation, error) {
	if len(commands) == 0 {
		return Invocation{Status: ssm.CommandInvocationStatusSuccess}, nil
	}

	commandID, err := r.send(ctx, commands)
	if err != nil {
		return Invocation{}, err
	}

	for attempt := 1; ; attempt++ {
		inv, err := r.query(ctx, commandID, commands)
		switch {
		case err == nil && !pending(inv.Status):
			r.logger.Info("command finished", "commands", strings.Join(commands, "; "), "status", inv.Status)
			return inv, nil
		case err != nil && !IsCode(err, ssm.ErrCodeInvocationDoesNotExist):
			return Invocation{}, err
		case attempt >= r.policy.QueryAttempts:
			return Invocation{}, &CloudError{Code: CodeTimeout, Message: "command did not finish in time"}
		}
		if err := sleep(ctx, r.policy.QueryDelay); err != nil {
			return Invocation{}, err
		}
	}
}

// RunUntilSuccess repeats Run until the commands succeed or the attempts run
// out. It is used to wait for a game server to answer after a start.
func (r *CommandRunner) RunUntilSuccess(ctx context.Context, commands []string) (Invocation, error) {
	for attempt := 1; ; attempt++ {
		inv, err := r.Run(ctx, commands)
		if err != nil {
			return Invocation{}, err
		}
		if inv.Succeeded() {
			return inv, nil
		}
		if attempt >= r.policy.RunAttempts {
			return inv, &CloudError{Code: CodeCommandFailed, Message: fmt.Sprintf("commands did not succeed after %d attempts", attempt)}
		}
		if err := sleep(ctx, r.policy.RunDelay); err != nil {
			return Invocation{}, err
		}
	}
}

// send retries while the SSM agent on a booting instance is not registered.
func (r *CommandRunner) send(ctx context.Context, commands []string) (string, error) {
	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		out, err := r.api.SendCommandWithContext(callCtx, &ssm.SendCommandInput{
			DocumentName: aws.String("AWS-RunShellScript"),
			InstanceIds:  aws.StringSlice([]string{r.instanceID}),
			Parameters:   map[string][]*string{"commands": aws.StringSlice(commands)},
		})
		cancel()
		if err == nil {
			if out.Command == nil {
				return "", &CloudError{Code: CodeCommandFailed, Message: "send command returned no command id"}
			}
			return aws.StringValue(out.Command.CommandId), nil
		}

		err = wrapError("send command", err)
		if !IsCode(err, ssm.ErrCodeInvalidInstanceId) || attempt >= r.policy.SendAttempts {
			return "", err
		}
		r.logger.Debug("instance not ready for commands yet", "attempt", attempt)
		if err := sleep(ctx, r.policy.SendDelay); err != nil {
			return "", err
		}
	}
}

func (r *CommandRunner) query(ctx context.Context, commandID string, commands []string) (Invocation, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.api.GetCommandInvocationWithContext(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(r.instanceID),
	})
	if err != nil {
		return Invocation{}, wrapError("get command invocation", err)
	}
	return Invocation{
		Commands: commands,
		Status:   aws.StringValue(out.Status),
		Output:   strings.TrimSpace(aws.StringValue(out.StandardOutputContent)),
		Stderr:   strings.TrimSpace(aws.StringValue(out.StandardErrorContent)),
	}, nil
}

func pending(status string) bool {
	switch status {
	case ssm.CommandInvocationStatusPending, ssm.CommandInvocationStatusInProgress, ssm.CommandInvocationStatusDelayed:
		return true
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return &CloudError{Code: CodeTimeout, Message: "cancelled while waiting", Err: ctx.Err()}
	case <-t.C:
		return nil
	}
}
