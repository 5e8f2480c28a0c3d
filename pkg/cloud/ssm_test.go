package cloud

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ssm"
	"github.com/aws/aws-sdk-go/service/ssm/ssmiface"
)

// fakeSSM scripts the responses of SendCommand and GetCommandInvocation.
type fakeSSM struct {
	ssmiface.SSMAPI

	sendFailures int      // InvalidInstanceId errors before a send succeeds
	statuses     []string // successive invocation statuses; "missing" means InvocationDoesNotExist
	output       string
	sends        int
	queries      int
	lastCommands []string
}

func (f *fakeSSM) SendCommandWithContext(ctx aws.Context, in *ssm.SendCommandInput, _ ...request.Option) (*ssm.SendCommandOutput, error) {
	f.sends++
	if f.sends <= f.sendFailures {
		return nil, awserr.New(ssm.ErrCodeInvalidInstanceId, "instance not registered", nil)
	}
	f.lastCommands = aws.StringValueSlice(in.Parameters["commands"])
	return &ssm.SendCommandOutput{Command: &ssm.Command{CommandId: aws.String("cmd-1")}}, nil
}

func (f *fakeSSM) GetCommandInvocationWithContext(ctx aws.Context, in *ssm.GetCommandInvocationInput, _ ...request.Option) (*ssm.GetCommandInvocationOutput, error) {
	status := f.statuses[len(f.statuses)-1]
	if f.queries < len(f.statuses) {
		status = f.statuses[f.queries]
	}
	f.queries++
	if status == "missing" {
		return nil, awserr.New(ssm.ErrCodeInvocationDoesNotExist, "not yet", nil)
	}
	return &ssm.GetCommandInvocationOutput{
		Status:                aws.String(status),
		StandardOutputContent: aws.String(f.output + "\n"),
		StandardErrorContent:  aws.String(""),
	}, nil
}

var fastPolicy = RetryPolicy{
	SendAttempts:  3,
	SendDelay:     time.Millisecond,
	QueryAttempts: 5,
	QueryDelay:    time.Millisecond,
	RunAttempts:   3,
	RunDelay:      time.Millisecond,
}

func TestCommandRunner_Run(t *testing.T) {
	tests := []struct {
		name       string
		api        *fakeSSM
		wantErr    string
		wantStatus string
		wantSends  int
	}{
		{
			name:       "Normal: command succeeds after polling",
			api:        &fakeSSM{statuses: []string{"missing", "Pending", "InProgress", "Success"}, output: "3"},
			wantStatus: "Success",
			wantSends:  1,
		},
		{
			name:       "Normal: retries send while instance boots",
			api:        &fakeSSM{sendFailures: 2, statuses: []string{"Success"}},
			wantStatus: "Success",
			wantSends:  3,
		},
		{
			name:       "Normal: failed status is not an error",
			api:        &fakeSSM{statuses: []string{"Failed"}},
			wantStatus: "Failed",
			wantSends:  1,
		},
		{
			name:      "Error: instance never registers",
			api:       &fakeSSM{sendFailures: 10, statuses: []string{"Success"}},
			wantErr:   ssm.ErrCodeInvalidInstanceId,
			wantSends: 3,
		},
		{
			name:      "Error: invocation never finishes",
			api:       &fakeSSM{statuses: []string{"InProgress"}},
			wantErr:   CodeTimeout,
			wantSends: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCommandRunner(tt.api, "i-1", time.Second, fastPolicy, testLogger())
			inv, err := r.Run(context.Background(), []string{"echo hi"})

			if tt.api.sends != tt.wantSends {
				t.Errorf("Expected %d sends, got %d", tt.wantSends, tt.api.sends)
			}
			if tt.wantErr != "" {
				if !IsCode(err, tt.wantErr) {
					t.Fatalf("Expected error code %s, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Run() failed: %v", err)
			}
			if inv.Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, inv.Status)
			}
			if inv.Output != tt.api.output {
				t.Errorf("Expected trimmed output %q, got %q", tt.api.output, inv.Output)
			}
		})
	}
}

func TestCommandRunner_Run_NoCommands(t *testing.T) {
	api := &fakeSSM{}
	r := NewCommandRunner(api, "i-1", time.Second, fastPolicy, testLogger())

	inv, err := r.Run(context.Background(), nil)
	if err != nil || !inv.Succeeded() {
		t.Fatalf("Expected empty command list to succeed, got %v %v", inv, err)
	}
	if api.sends != 0 {
		t.Errorf("Expected no sends, got %d", api.sends)
	}
}

func TestCommandRunner_RunUntilSuccess(t *testing.T) {
	api := &fakeSSM{statuses: []string{"Failed", "Failed", "Success"}}
	r := NewCommandRunner(api, "i-1", time.Second, fastPolicy, testLogger())

	inv, err := r.RunUntilSuccess(context.Background(), []string{"ping"})
	if err != nil {
		t.Fatalf("RunUntilSuccess() failed: %v", err)
	}
	if !inv.Succeeded() {
		t.Errorf("Expected success, got %s", inv.Status)
	}
	if api.sends != 3 {
		t.Errorf("Expected 3 runs, got %d", api.sends)
	}
	if len(api.lastCommands) != 1 || api.lastCommands[0] != "ping" {
		t.Errorf("Unexpected commands sent: %v", api.lastCommands)
	}
}

func TestCommandRunner_RunUntilSuccess_GivesUp(t *testing.T) {
	api := &fakeSSM{statuses: []string{"Failed"}}
	r := NewCommandRunner(api, "i-1", time.Second, fastPolicy, testLogger())

	_, err := r.RunUntilSuccess(context.Background(), []string{"ping"})
	if !IsCode(err, CodeCommandFailed) {
		t.Fatalf("Expected CommandFailed, got %v", err)
	}
	if api.sends != fastPolicy.RunAttempts {
		t.Errorf("Expected %d runs, got %d", fastPolicy.RunAttempts, api.sends)
	}
}
