package transport

import (
	"encoding/json"
	"fmt"
	"io"
)

// Request is a unixctl JSON-RPC 1.0 request.
type Request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Response is a unixctl JSON-RPC 1.0 reply. Exactly one of Result and Error
// is non-null in a well-formed reply; a reply with both null is treated as
// an empty result.
type Response struct {
	Result *string `json:"result"`
	Error  *string `json:"error"`
	ID     int64   `json:"id"`
}

// EncodeRequest serializes a Request to JSON and writes it to w.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.Method == "" {
		return fmt.Errorf("request missing required field: method")
	}
	if req.Params == nil {
		req.Params = []string{}
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	return nil
}

// DecodeResponse reads the next Response from dec and checks it answers
// the request with wantID.
func DecodeResponse(dec *json.Decoder, wantID int64) (*Response, error) {
	var resp Response
	if err := dec.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.ID != wantID {
		return nil, fmt.Errorf("response id %d does not match request id %d", resp.ID, wantID)
	}
	if resp.Result != nil && resp.Error != nil {
		return nil, fmt.Errorf("response has both result and error")
	}

	return &resp, nil
}
