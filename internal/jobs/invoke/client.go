// Package invoke runs document workers (minutes analysis, PDF rendering)
// as asynchronous Lambda invocations. The worker writes its result to a
// known object key, and completion is detected by polling for that key.
package invoke

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"lighthouse/internal/jobs"
	"lighthouse/internal/services"
)

// ExistsFunc checks whether the expected output object has appeared.
type ExistsFunc func(ctx context.Context, key string) (bool, error)

// api is the subset of the Lambda client used here.
type api interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// Client dispatches one worker function.
type Client struct {
	client   api
	function string
	stage    string
	exists   ExistsFunc
}

// New builds a client from the shared AWS configuration. The stage name
// is used in error context.
func New(awsCfg aws.Config, function, stage, endpoint string, exists ExistsFunc) *Client {
	client := lambda.NewFromConfig(awsCfg, func(o *lambda.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{client: client, function: function, stage: stage, exists: exists}
}

// Submit invokes the worker asynchronously with the given payload. The
// output key doubles as the job handle for polling.
func (c *Client) Submit(ctx context.Context, payload any, outputKey string) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, c.stage, "encode payload", c.function, err)
	}
	out, err := c.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(c.function),
		InvocationType: lambdatypes.InvocationTypeEvent,
		Payload:        body,
	})
	if err != nil {
		return "", services.Wrap(services.ErrTransient, c.stage, "invoke worker", c.function, err)
	}
	if out.FunctionError != nil && *out.FunctionError != "" {
		return "", services.Wrap(services.ErrExternalService, c.stage, "invoke worker", *out.FunctionError, nil)
	}
	return outputKey, nil
}

// Poll reports whether the worker's output object has appeared yet. A
// worker crash leaves the job running until the stage deadline expires;
// there is no error channel for Event invocations.
func (c *Client) Poll(ctx context.Context, outputKey string) (jobs.Result, error) {
	present, err := c.exists(ctx, outputKey)
	if err != nil {
		return jobs.Result{}, err
	}
	if present {
		return jobs.Result{State: jobs.StateSucceeded}, nil
	}
	return jobs.Result{State: jobs.StateRunning}, nil
}
