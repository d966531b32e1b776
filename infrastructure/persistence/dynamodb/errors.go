package dynamodb

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	pkgerrors "instancegraph/pkg/errors"
)

// Error codes DynamoDB returns for transient conditions
var transientCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
	"ServiceUnavailable":                     true,
	"TransactionConflictException":           true,
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// mapError converts an SDK error into the store's error taxonomy.
// Throttling and 5xx responses become StoreUnavailable and are retryable.
func mapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch {
		case transientCodes[ae.ErrorCode()]:
			return pkgerrors.NewStoreUnavailableError(operation, err)
		case ae.ErrorCode() == "ValidationException":
			return pkgerrors.NewValidationError(ae.ErrorMessage()).WithCause(err)
		case ae.ErrorCode() == "ResourceNotFoundException":
			return pkgerrors.NewInternalError("instance table not found").WithCause(err)
		}
	}

	var re *smithyhttp.ResponseError
	if errors.As(err, &re) && re.HTTPStatusCode() >= 500 {
		return pkgerrors.NewStoreUnavailableError(operation, err)
	}
	return pkgerrors.Wrapf(err, "dynamodb %s failed", operation)
}
