package cloud

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/ec2/ec2iface"
	"github.com/charmbracelet/log"
)

// NewSession creates an AWS session. Empty keys fall back to the default
// credential chain (instance profile, shared config).
func NewSession(region, accessKey, secretKey string) (*session.Session, error) {
	cfg := &aws.Config{Region: aws.String(region)}
	if accessKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, wrapError("new session", err)
	}
	return sess, nil
}

// Adapter performs instance lifecycle calls. Start and stop return once EC2
// has accepted the transition; use WaitForState to observe convergence.
type Adapter struct {
	api     ec2iface.EC2API
	region  string
	timeout time.Duration
	logger  *log.Logger
}

// NewAdapter wraps an EC2 client. Each call is bounded by timeout.
func NewAdapter(api ec2iface.EC2API, region string, timeout time.Duration, logger *log.Logger) *Adapter {
	return &Adapter{api: api, region: region, timeout: timeout, logger: logger}
}

// DescribeInstance returns the current status of the instance.
func (a *Adapter) DescribeInstance(ctx context.Context, id string) (InstanceStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.api.DescribeInstancesWithContext(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice([]string{id}),
	})
	if err != nil {
		return InstanceStatus{}, wrapError("describe instance", err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return InstanceStatus{}, &CloudError{Code: CodeInstanceNotFound, Message: "no description returned for " + id}
	}

	inst := out.Reservations[0].Instances[0]
	status := InstanceStatus{
		InstanceID:   aws.StringValue(inst.InstanceId),
		Region:       a.region,
		State:        StateUnknown,
		ImageID:      aws.StringValue(inst.ImageId),
		InstanceType: aws.StringValue(inst.InstanceType),
		PublicIP:     aws.StringValue(inst.PublicIpAddress),
		PublicDNS:    aws.StringValue(inst.PublicDnsName),
		LaunchTime:   aws.TimeValue(inst.LaunchTime),
	}
	if status.InstanceID == "" {
		status.InstanceID = id
	}
	if inst.State != nil {
		status.State = ParseState(aws.StringValue(inst.State.Name))
	}
	a.logger.Debug("described instance", "id", id, "state", status.State)
	return status, nil
}

// StartInstance requests a start. Starting a pending or running instance is
// a successful no-op.
func (a *Adapter) StartInstance(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.api.StartInstancesWithContext(ctx, &ec2.StartInstancesInput{
		InstanceIds: aws.StringSlice([]string{id}),
	})
	if err != nil {
		if IsCode(wrapError("", err), CodeIncorrectState) && a.alreadyIn(ctx, id, StatePending, StateRunning) {
			a.logger.Info("start requested on an instance that is already up", "id", id)
			return nil
		}
		return wrapError("start instance", err)
	}
	for _, c := range out.StartingInstances {
		a.logger.Info("start accepted", "id", id,
			"from", stateName(c.PreviousState), "to", stateName(c.CurrentState))
	}
	return nil
}

// StopInstance requests a stop. Stopping a stopping or stopped instance is a
// successful no-op.
func (a *Adapter) StopInstance(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.api.StopInstancesWithContext(ctx, &ec2.StopInstancesInput{
		InstanceIds: aws.StringSlice([]string{id}),
	})
	if err != nil {
		if IsCode(wrapError("", err), CodeIncorrectState) && a.alreadyIn(ctx, id, StateStopping, StateStopped) {
			a.logger.Info("stop requested on an instance that is already down", "id", id)
			return nil
		}
		return wrapError("stop instance", err)
	}
	for _, c := range out.StoppingInstances {
		a.logger.Info("stop accepted", "id", id,
			"from", stateName(c.PreviousState), "to", stateName(c.CurrentState))
	}
	return nil
}

// WaitForState polls DescribeInstance until the instance reaches target or
// ctx is done. Describe failures are returned immediately.
func (a *Adapter) WaitForState(ctx context.Context, id string, target State, interval time.Duration) (InstanceStatus, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return InstanceStatus{}, &CloudError{Code: CodeTimeout, Message: "waiting for " + string(target), Err: ctx.Err()}
		case <-ticker.C:
		}

		status, err := a.DescribeInstance(ctx, id)
		if err != nil {
			return InstanceStatus{}, err
		}
		if status.State == target {
			return status, nil
		}
	}
}

func (a *Adapter) alreadyIn(ctx context.Context, id string, states ...State) bool {
	status, err := a.DescribeInstance(ctx, id)
	if err != nil {
		return false
	}
	for _, s := range states {
		if status.State == s {
			return true
		}
	}
	return false
}

func stateName(s *ec2.InstanceState) string {
	if s == nil {
		return string(StateUnknown)
	}
	return aws.StringValue(s.Name)
}
