package jobs

import (
	"errors"

	"github.com/aws/smithy-go"

	"lighthouse/internal/services"
)

// SubmitErrorMarker maps an AWS submission failure onto the retry
// taxonomy. Client faults such as malformed ARNs or rejected parameters
// will never succeed on retry and classify as validation errors;
// throttling responses are client faults too but clear on their own, so
// they stay transient along with server faults and transport errors.
func SubmitErrorMarker(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return services.ErrTransient
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException", "LimitExceededException":
		return services.ErrTransient
	}
	if apiErr.ErrorFault() == smithy.FaultClient {
		return services.ErrValidation
	}
	return services.ErrTransient
}
