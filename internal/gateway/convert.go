package gateway

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"
)

// wholeNumbers turns integral float64 values back into int64. Struct numbers
// are always doubles, but handlers such as double decode into integers.
func wholeNumbers(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && x >= math.MinInt64 && x <= math.MaxInt64 {
			return int64(x)
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = wholeNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = wholeNumbers(e)
		}
		return x
	default:
		return v
	}
}

// toValue converts a Go value into a structpb.Value. Maps with non-string
// keys are rekeyed with fmt; structs go through their JSON form.
func toValue(v any) (*structpb.Value, error) {
	if val, err := structpb.NewValue(plain(v)); err == nil {
		return val, nil
	}
	j, err := jsonValue(v)
	if err != nil {
		return nil, err
	}
	return structpb.NewValue(j)
}

func plain(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = plain(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func numberField(s *structpb.Struct, name string) float64 {
	return s.GetFields()[name].GetNumberValue()
}

// jsonValue reshapes v through its JSON form into Struct-compatible values.
func jsonValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
