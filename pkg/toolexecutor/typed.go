package toolexecutor

import (
	"context"
	"encoding/json"
	"math"
	"reflect"
	"strconv"

	"github.com/go-viper/mapstructure/v2"
	"github.com/harun/dbperms-mcp/pkg/apierr"
)

// Typed adapts a handler taking a request struct into a ToolHandler. The
// parameter bag is decoded through the struct's json tags and unknown keys
// are rejected.
func Typed[T any](fn func(context.Context, T) (json.RawMessage, error)) ToolHandler {
	return func(ctx context.Context, params map[string]interface{}) (json.RawMessage, error) {
		var req T
		if err := Decode(params, &req); err != nil {
			return nil, err
		}
		return fn(ctx, req)
	}
}

// Decode decodes a parameter bag into out, a pointer to a struct
func Decode(params map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Squash:      true,
		DecodeHook:  integerToString,
		Result:      out,
	})
	if err != nil {
		return apierr.Internal(err)
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := decoder.Decode(params); err != nil {
		return apierr.Validation("", "invalid parameters: %v", err)
	}
	return nil
}

// integerToString lets an integral number fill a string field, so ids given
// as 123 or "123" decode the same way. Fractions are left for the decoder to
// reject.
func integerToString(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		if v == math.Trunc(v) && !math.IsInf(v, 0) {
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		}
	case json.Number:
		if _, err := v.Int64(); err == nil {
			return v.String(), nil
		}
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	}
	return data, nil
}
