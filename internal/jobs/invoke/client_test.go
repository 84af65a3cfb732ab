package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"lighthouse/internal/services"
)

type fakeLambda struct {
	invoked   []*lambda.InvokeInput
	invokeErr error
	fnError   string
}

func (f *fakeLambda) Invoke(_ context.Context, params *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	f.invoked = append(f.invoked, params)
	out := &lambda.InvokeOutput{StatusCode: 202}
	if f.fnError != "" {
		out.FunctionError = aws.String(f.fnError)
	}
	return out, nil
}

func newTestClient(fake *fakeLambda, exists ExistsFunc) *Client {
	return &Client{client: fake, function: "minutes-analysis", stage: "analysis", exists: exists}
}

func TestSubmitInvokesAsync(t *testing.T) {
	fake := &fakeLambda{}
	client := newTestClient(fake, nil)

	payload := map[string]string{"transcript_key": "transcripts/board.json"}
	handle, err := client.Submit(context.Background(), payload, "analysis/board.html")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if handle != "analysis/board.html" {
		t.Fatalf("handle = %q", handle)
	}

	req := fake.invoked[0]
	if req.InvocationType != lambdatypes.InvocationTypeEvent {
		t.Fatalf("invocation type = %s", req.InvocationType)
	}
	var decoded map[string]string
	if err := json.Unmarshal(req.Payload, &decoded); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if decoded["transcript_key"] != "transcripts/board.json" {
		t.Fatalf("payload = %v", decoded)
	}
}

func TestSubmitWrapsTransportErrors(t *testing.T) {
	client := newTestClient(&fakeLambda{invokeErr: errors.New("throttled")}, nil)
	_, err := client.Submit(context.Background(), map[string]string{}, "out")
	if !services.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}

func TestSubmitReportsFunctionError(t *testing.T) {
	client := newTestClient(&fakeLambda{fnError: "Unhandled"}, nil)
	_, err := client.Submit(context.Background(), map[string]string{}, "out")
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("err = %v, want external service", err)
	}
}

func TestPoll(t *testing.T) {
	present := false
	client := newTestClient(&fakeLambda{}, func(context.Context, string) (bool, error) {
		return present, nil
	})

	result, err := client.Poll(context.Background(), "analysis/board.html")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !result.Running() {
		t.Fatalf("result = %+v, want running", result)
	}

	present = true
	result, err = client.Poll(context.Background(), "analysis/board.html")
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if !result.Succeeded() {
		t.Fatalf("result = %+v, want succeeded", result)
	}
}
