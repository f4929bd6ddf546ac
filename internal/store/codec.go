package store

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with grpc's pluggable codec registry
// (google.golang.org/grpc/encoding) so the remote fpstore service can
// exchange plain Go structs over grpc's HTTP/2 transport without a
// protoc code-generation step: grpc only requires its wire messages
// implement Marshal/Unmarshal, which this codec satisfies generically
// via encoding/json, the same way the teacher's CLI commands serialize
// reports to JSON.
const jsonCodecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: json codec marshal: %w", err)
	}

	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("store: json codec unmarshal: %w", err)
	}

	return nil
}

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
