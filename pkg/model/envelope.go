package model

import (
	"encoding/json"
	"fmt"
)

// EnvelopeVersion is written into every stored block payload. Rows without a version predate it and are read as
// version 1.
const EnvelopeVersion = 1

type storedEnvelope struct {
	V    int             `json:"v,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalStored encodes the block payload as the versioned storage envelope {"v", "type", "data"}.
func MarshalStored(d BlockData) ([]byte, error) {
	if d == nil {
		return nil, fmt.Errorf("no block data")
	}
	raw, err := EncodeBlockData(d)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedEnvelope{V: EnvelopeVersion, Type: d.Tag(), Data: raw})
}

// UnmarshalStored decodes a storage envelope. Any mismatch is a *BlockParseError.
func UnmarshalStored(raw []byte) (BlockData, error) {
	var env storedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &BlockParseError{Err: err}
	}
	if env.V != 0 && env.V != EnvelopeVersion {
		return nil, &BlockParseError{Tag: env.Type, Err: fmt.Errorf("unsupported envelope version %d", env.V)}
	}
	return DecodeBlockData(env.Type, env.Data)
}

// DecodeStoredBlock never fails: a payload that cannot be parsed becomes a FallbackBlock and the parse error is
// returned alongside for logging.
func DecodeStoredBlock(id string, raw []byte) (Block, error) {
	data, err := UnmarshalStored(raw)
	if err != nil {
		if pe, ok := err.(*BlockParseError); ok {
			pe.ID = id
		}
		return FallbackBlock(id), err
	}
	return Block{ID: id, Data: data}, nil
}
