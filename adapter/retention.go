package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/terrpan/cfnadapter/cfn"
)

// applyLogRetention implements the post-callback log policy: only a
// fault-free Delete with DeleteLogs enabled purges the log group.  A
// fault always retains the logs, overriding configuration -- the
// stream is the only place the full failure detail survives once the
// callback has gone out.
func (w *Wrapper) applyLogRetention(ctx context.Context, rt cfn.RequestType, faultOccurred bool) {
	if rt != cfn.Delete || !w.cfg.DeleteLogs {
		return
	}
	if faultOccurred {
		w.logger.Info("retaining log group after handler fault")
		return
	}

	group := lambdacontext.LogGroupName
	if group == "" {
		w.logger.Warn("no log group name in environment, skipping log deletion")
		return
	}

	if err := w.logs.DeleteLogGroup(ctx, group); err != nil {
		// Best effort: the resource deletion was already reported.
		w.logger.Warn("log group deletion failed",
			slog.String("logGroup", group),
			slog.String("error", err.Error()),
		)
		return
	}

	if w.logDeletions != nil {
		w.logDeletions.Add(ctx, 1)
	}
	w.logger.Info("log group deleted", slog.String("logGroup", group))
}

// cloudwatchDeleter is the production LogGroupDeleter.  The client is
// built on first use so that constructing a Wrapper never requires AWS
// credentials -- only a fault-free Delete does.
type cloudwatchDeleter struct {
	logger *slog.Logger

	once    sync.Once
	client  *cloudwatchlogs.Client
	initErr error
}

func newCloudwatchDeleter(logger *slog.Logger) *cloudwatchDeleter {
	return &cloudwatchDeleter{logger: logger}
}

func (d *cloudwatchDeleter) DeleteLogGroup(ctx context.Context, name string) error {
	d.once.Do(func() {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			d.initErr = fmt.Errorf("loading AWS config: %w", err)
			return
		}
		d.client = cloudwatchlogs.NewFromConfig(awsCfg)
		d.logger.Debug("cloudwatch logs client initialized")
	})
	if d.initErr != nil {
		return d.initErr
	}

	_, err := d.client.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: aws.String(name),
	})
	return err
}
