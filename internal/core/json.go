package core

import (
	"encoding/json"
	"fmt"
)

// Serializer is the package list serialization capability.
type Serializer interface {
	Serialize(packages []Package) ([]byte, error)
}

// JSONSerializer encodes a package list as a JSON array.
type JSONSerializer struct {
	Indent string // empty for compact output
}

// Serialize encodes packages. A nil or empty list encodes as "[]".
func (s JSONSerializer) Serialize(packages []Package) ([]byte, error) {
	if packages == nil {
		packages = []Package{}
	}

	var (
		data []byte
		err  error
	)
	if s.Indent != "" {
		data, err = json.MarshalIndent(packages, "", s.Indent)
	} else {
		data, err = json.Marshal(packages)
	}
	if err != nil {
		return nil, &Error{Kind: KindSerialization, Err: fmt.Errorf("encoding packages: %w", err)}
	}
	return data, nil
}
