package nbi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// toStruct converts any JSON-tagged value into a protobuf Struct.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes a protobuf Struct into a JSON-tagged value.
func fromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		return fmt.Errorf("%w: request body is required", ErrInvalidEntity)
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}
	return nil
}

// wrapList returns {key: items} since a Struct root must be an object.
func wrapList(key string, items any) (*structpb.Struct, error) {
	return toStruct(map[string]any{key: items})
}
