package cloud

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/charmbracelet/log"
)

// fakeEC2 is a test double holding the state of a single instance.
// Transitions settle on the next describe call.
type fakeEC2 struct {
	ec2iface.EC2API

	state       string
	settleTo    string
	strict      bool // reject transitions from the wrong state like the real API
	describeErr error
	startCalls  int
	stopCalls   int
	describes   int
}

func (f *fakeEC2) DescribeInstancesWithContext(ctx aws.Context, in *ec2.DescribeInstancesInput, _ ...request.Option) (*ec2.DescribeInstancesOutput, error) {
	f.describes++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	current := f.state
	if f.settleTo != "" {
		f.state, f.settleTo = f.settleTo, ""
	}
	launch := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &ec2.DescribeInstancesOutput{
		Reservations: []*ec2.Reservation{{
			Instances: []*ec2.Instance{{
				InstanceId:      in.InstanceIds[0],
				ImageId:         aws.String("ami-123"),
				InstanceType:    aws.String("t3.large"),
				PublicIpAddress: aws.String("203.0.113.7"),
				PublicDnsName:   aws.String("ec2-203-0-113-7.compute.amazonaws.com"),
				LaunchTime:      &launch,
				State:           &ec2.InstanceState{Name: aws.String(current)},
			}},
		}},
	}, nil
}

func (f *fakeEC2) StartInstancesWithContext(ctx aws.Context, in *ec2.StartInstancesInput, _ ...request.Option) (*ec2.StartInstancesOutput, error) {
	f.startCalls++
	prev := f.state
	if f.strict && prev != ec2.InstanceStateNameStopped {
		return nil, awserr.New("IncorrectInstanceState", "instance is not in a state from which it can be started", nil)
	}
	if prev == ec2.InstanceStateNameStopped {
		f.state, f.settleTo = ec2.InstanceStateNamePending, ec2.InstanceStateNameRunning
	}
	return &ec2.StartInstancesOutput{StartingInstances: []*ec2.InstanceStateChange{{
		InstanceId:    in.InstanceIds[0],
		PreviousState: &ec2.InstanceState{Name: aws.String(prev)},
		CurrentState:  &ec2.InstanceState{Name: aws.String(f.state)},
	}}}, nil
}

func (f *fakeEC2) StopInstancesWithContext(ctx aws.Context, in *ec2.StopInstancesInput, _ ...request.Option) (*ec2.StopInstancesOutput, error) {
	f.stopCalls++
	prev := f.state
	if f.strict && prev != ec2.InstanceStateNameRunning {
		return nil, awserr.New("IncorrectInstanceState", "instance is not in a state from which it can be stopped", nil)
	}
	if prev == ec2.InstanceStateNameRunning {
		f.state, f.settleTo = ec2.InstanceStateNameStopping, ec2.InstanceStateNameStopped
	}
	return &ec2.StopInstancesOutput{StoppingInstances: []*ec2.InstanceStateChange{{
		InstanceId:    in.InstanceIds[0],
		PreviousState: &ec2.InstanceState{Name: aws.String(prev)},
		CurrentState:  &ec2.InstanceState{Name: aws.String(f.state)},
	}}}, nil
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func TestAdapter_DescribeInstance(t *testing.T) {
	api := &fakeEC2{state: "running"}
	a := NewAdapter(api, "ca-central-1", time.Second, testLogger())

	status, err := a.DescribeInstance(context.Background(), "i-1")
	if err != nil {
		t.Fatalf("DescribeInstance() failed: %v", err)
	}
	if status.State != StateRunning {
		t.Errorf("Expected running, got %s", status.State)
	}
	if status.Region != "ca-central-1" || status.InstanceID != "i-1" {
		t.Errorf("Unexpected identity: %+v", status)
	}
	if status.PublicIP != "203.0.113.7" {
		t.Errorf("Expected public IP, got '%s'", status.PublicIP)
	}
}

func TestAdapter_DescribeInstance_Errors(t *testing.T) {
	tests := []struct {
		name     string
		api      ec2iface.EC2API
		wantCode string
	}{
		{
			name:     "Error: AWS error is wrapped",
			api:      &fakeEC2{describeErr: awserr.New("UnauthorizedOperation", "denied", nil)},
			wantCode: "UnauthorizedOperation",
		},
		{
			name:     "Error: plain error is wrapped",
			api:      &fakeEC2{describeErr: errors.New("network down")},
			wantCode: "Unknown",
		},
		{
			name:     "Error: empty reservations",
			api:      &emptyEC2{},
			wantCode: CodeInstanceNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAdapter(tt.api, "us-east-1", time.Second, testLogger())
			_, err := a.DescribeInstance(context.Background(), "i-1")

			var ce *CloudError
			if !errors.As(err, &ce) {
				t.Fatalf("Expected *CloudError, got %v", err)
			}
			if ce.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %s", tt.wantCode, ce.Code)
			}
		})
	}
}

type emptyEC2 struct {
	ec2iface.EC2API
}

func (emptyEC2) DescribeInstancesWithContext(aws.Context, *ec2.DescribeInstancesInput, ...request.Option) (*ec2.DescribeInstancesOutput, error) {
	return &ec2.DescribeInstancesOutput{}, nil
}

// TestAdapter_StartInstance_Idempotent tests that starting a running instance twice succeeds
func TestAdapter_StartInstance_Idempotent(t *testing.T) {
	for _, strict := range []bool{false, true} {
		api := &fakeEC2{state: "running", strict: strict}
		a := NewAdapter(api, "us-east-1", time.Second, testLogger())

		for i := 0; i < 2; i++ {
			if err := a.StartInstance(context.Background(), "i-1"); err != nil {
				t.Fatalf("strict=%v: StartInstance() call %d failed: %v", strict, i+1, err)
			}
		}
		if api.startCalls != 2 {
			t.Errorf("Expected 2 start calls, got %d", api.startCalls)
		}
		if api.state != "running" {
			t.Errorf("Expected instance to stay running, got %s", api.state)
		}
	}
}

// TestAdapter_StopInstance_Idempotent tests that stopping a stopped instance succeeds
func TestAdapter_StopInstance_Idempotent(t *testing.T) {
	api := &fakeEC2{state: "stopped", strict: true}
	a := NewAdapter(api, "us-east-1", time.Second, testLogger())

	for i := 0; i < 2; i++ {
		if err := a.StopInstance(context.Background(), "i-1"); err != nil {
			t.Fatalf("StopInstance() call %d failed: %v", i+1, err)
		}
	}
}

// TestAdapter_StartInstance_IncorrectState tests that a real state conflict is still reported
func TestAdapter_StartInstance_IncorrectState(t *testing.T) {
	api := &fakeEC2{state: "stopping", strict: true}
	a := NewAdapter(api, "us-east-1", time.Second, testLogger())

	err := a.StartInstance(context.Background(), "i-1")
	if !IsCode(err, CodeIncorrectState) {
		t.Fatalf("Expected IncorrectInstanceState, got %v", err)
	}
}

// TestAdapter_StartThenWait tests the two-phase start: accept, then poll
func TestAdapter_StartThenWait(t *testing.T) {
	api := &fakeEC2{state: "stopped"}
	a := NewAdapter(api, "us-east-1", time.Second, testLogger())

	if err := a.StartInstance(context.Background(), "i-1"); err != nil {
		t.Fatalf("StartInstance() failed: %v", err)
	}
	if api.state != "pending" {
		t.Fatalf("Expected start to return while pending, got %s", api.state)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	status, err := a.WaitForState(ctx, "i-1", StateRunning, time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForState() failed: %v", err)
	}
	if status.State != StateRunning {
		t.Errorf("Expected running, got %s", status.State)
	}
	if api.describes < 2 {
		t.Errorf("Expected at least 2 polls, got %d", api.describes)
	}
}

// TestAdapter_WaitForState_Timeout tests that waiting stops when the context ends
func TestAdapter_WaitForState_Timeout(t *testing.T) {
	api := &fakeEC2{state: "stopping"}
	a := NewAdapter(api, "us-east-1", time.Second, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := a.WaitForState(ctx, "i-1", StateStopped, time.Millisecond)
	if !IsCode(err, CodeTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
}

func TestParseState(t *testing.T) {
	tests := map[string]State{
		"pending":       StatePending,
		"running":       StateRunning,
		"shutting-down": StateShuttingDown,
		"terminated":    StateTerminated,
		"stopping":      StateStopping,
		"stopped":       StateStopped,
		"rebooting":     StateUnknown,
		"":              StateUnknown,
	}
	for in, want := range tests {
		if got := ParseState(in); got != want {
			t.Errorf("ParseState(%q) = %s, want %s", in, got, want)
		}
	}
}
