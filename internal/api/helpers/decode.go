// Package helpers carries the request/response plumbing shared by every
// handler: strict JSON decoding, client IP extraction and the single place
// where domain errors become HTTP responses.
package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// maxBodyBytes caps request bodies. Nothing this API accepts comes anywhere
// near this large.
const maxBodyBytes = 1 << 20

// DecodeJSON decodes the request body into v. Unknown fields and trailing
// garbage are rejected so a typo'd field never silently becomes a zero value.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return fmt.Errorf("invalid JSON: unexpected trailing data")
	}
	return nil
}
