package jobs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aws/smithy-go"

	"lighthouse/internal/services"
)

func TestSubmitErrorMarker(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "client fault is permanent",
			err:  &smithy.GenericAPIError{Code: "BadRequestException", Message: "malformed role ARN", Fault: smithy.FaultClient},
			want: services.ErrValidation,
		},
		{
			name: "conflict is permanent",
			err:  &smithy.GenericAPIError{Code: "ConflictException", Message: "job name already in use", Fault: smithy.FaultClient},
			want: services.ErrValidation,
		},
		{
			name: "throttling stays retryable",
			err:  &smithy.GenericAPIError{Code: "ThrottlingException", Message: "rate exceeded", Fault: smithy.FaultClient},
			want: services.ErrTransient,
		},
		{
			name: "limit exceeded stays retryable",
			err:  &smithy.GenericAPIError{Code: "LimitExceededException", Message: "too many jobs", Fault: smithy.FaultClient},
			want: services.ErrTransient,
		},
		{
			name: "server fault stays retryable",
			err:  &smithy.GenericAPIError{Code: "InternalFailure", Message: "oops", Fault: smithy.FaultServer},
			want: services.ErrTransient,
		},
		{
			name: "transport error stays retryable",
			err:  errors.New("connection reset"),
			want: services.ErrTransient,
		},
		{
			name: "wrapped client fault is permanent",
			err:  fmt.Errorf("operation error: %w", &smithy.GenericAPIError{Code: "ValidationException", Fault: smithy.FaultClient}),
			want: services.ErrValidation,
		},
	}
	for _, tc := range cases {
		if got := SubmitErrorMarker(tc.err); got != tc.want {
			t.Fatalf("%s: marker = %v, want %v", tc.name, got, tc.want)
		}
	}
}
