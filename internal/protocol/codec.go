package protocol

import (
	"encoding/json"
	"fmt"
	"io"
)

// EncodeRequest writes req to w as a single newline-terminated JSON
// document, the framing plugins read from stdin.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", req.Protocol)
	}
	if err := json.NewEncoder(w).Encode(req); err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return nil
}

// DecodeResponse parses a plugin response from r. Unknown fields are
// rejected so a plugin emitting a newer protocol fails loudly instead of
// having fields silently dropped.
func DecodeResponse(r io.Reader) (*Response, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if err := validateResponse(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DecodeResponseLenient tolerates unknown fields and hands back the raw
// stdout bytes alongside any error, for inclusion in diagnostics when a
// plugin misbehaves.
func DecodeResponseLenient(r io.Reader) (*Response, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) == 0 {
		return nil, data, fmt.Errorf("plugin produced no output on stdout")
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, data, fmt.Errorf("plugin output is not valid JSON: %w", err)
	}
	if err := validateResponse(&resp); err != nil {
		return nil, data, err
	}
	return &resp, data, nil
}

func validateResponse(resp *Response) error {
	switch resp.Status {
	case StatusOK:
	case StatusError:
		if resp.Error == "" {
			return fmt.Errorf("response has status=error but no error message")
		}
	case "":
		return fmt.Errorf("response missing required field: status")
	default:
		return fmt.Errorf("invalid status value: %q (must be 'ok' or 'error')", resp.Status)
	}
	for i, b := range resp.Batches {
		if b.Output == "" {
			return fmt.Errorf("batch %d has empty output name", i)
		}
	}
	return nil
}
