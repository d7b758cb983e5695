package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Decode unmarshals a document into T, rejecting unknown fields and values
// that fail T's validate tags.
func Decode[T any](doc *Document) (*T, error) {
	dec := json.NewDecoder(bytes.NewReader(doc.Data))
	dec.DisallowUnknownFields()

	var v T
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, doc.Collection, doc.ID, err)
	}
	if err := validate.Struct(&v); err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", ErrMalformed, doc.Collection, doc.ID, err)
	}
	return &v, nil
}

// DecodeAll decodes every document, failing on the first malformed one.
func DecodeAll[T any](docs []Document) ([]*T, error) {
	out := make([]*T, 0, len(docs))
	for i := range docs {
		v, err := Decode[T](&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
