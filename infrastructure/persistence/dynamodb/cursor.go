package dynamodb

import (
	"encoding/base64"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	pkgerrors "instancegraph/pkg/errors"
)

// encodeCursor turns a LastEvaluatedKey into an opaque cursor. Key attributes
// of this table are all strings, so the plain form survives JSON.
func encodeCursor(lastEvaluatedKey map[string]types.AttributeValue) (*string, error) {
	if len(lastEvaluatedKey) == 0 {
		return nil, nil
	}

	var plain map[string]string
	if err := attributevalue.UnmarshalMap(lastEvaluatedKey, &plain); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to encode cursor")
	}
	data, err := json.Marshal(plain)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to encode cursor")
	}
	cursor := base64.RawURLEncoding.EncodeToString(data)
	return &cursor, nil
}

// decodeCursor reverses encodeCursor. A nil cursor starts from the beginning.
func decodeCursor(cursor *string) (map[string]types.AttributeValue, error) {
	if cursor == nil {
		return nil, nil
	}

	data, err := base64.RawURLEncoding.DecodeString(*cursor)
	if err != nil {
		return nil, pkgerrors.NewValidationError("malformed cursor").WithCause(err)
	}
	var plain map[string]string
	if err := json.Unmarshal(data, &plain); err != nil || len(plain) == 0 {
		return nil, pkgerrors.NewValidationError("malformed cursor").WithCause(err)
	}
	key, err := attributevalue.MarshalMap(plain)
	if err != nil {
		return nil, pkgerrors.NewValidationError("malformed cursor").WithCause(err)
	}
	return key, nil
}
