package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jmerrifield20/textsecure/pkg/client"
)

// emit writes v as indented JSON with --format json, or calls text otherwise.
func emit(w io.Writer, v any, text func(io.Writer)) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

// describe turns a client error into the sentence meant for users, keeping
// the kind and status when the server answered.
func describe(op string, err error) error {
	var apiErr *client.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if apiErr.Code <= 0 {
		return fmt.Errorf("%s: %s", op, apiErr.Message)
	}
	return fmt.Errorf("%s: %s (%s, status %d)", op, apiErr.Message, apiErr.Kind, apiErr.Code)
}
