package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	TagText   = "Text"
	TagHeader = "Header"
	TagCode   = "Code"
	TagTodo   = "Todo"
)

// FallbackText is the payload of the Text block that replaces a block whose stored data could not be parsed.
const FallbackText = "Error parsing block data"

// BlockData is the closed set of block payloads: Text, Header, Code and Todo.
type BlockData interface {
	Tag() string
}

type Text string

type Header struct {
	Level uint8  `json:"level"`
	Text  string `json:"text"`
}

type Code struct {
	Lang string `json:"lang"`
	Code string `json:"code"`
}

type Todo struct {
	Task      string `json:"task"`
	Completed bool   `json:"completed"`
}

func (Text) Tag() string   { return TagText }
func (Header) Tag() string { return TagHeader }
func (Code) Tag() string   { return TagCode }
func (Todo) Tag() string   { return TagTodo }

// Block is one content unit of a page. On the wire it is the envelope {"id", "type", "data"} where type is the
// variant tag and data the variant payload.
type Block struct {
	ID   string
	Data BlockData
	// Fallback is set when the stored payload could not be parsed and Data was replaced with FallbackText.
	Fallback bool
}

// Type returns the variant tag of the block payload.
func (b Block) Type() string {
	if b.Data == nil {
		return ""
	}
	return b.Data.Tag()
}

type wireBlock struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	Fallback bool            `json:"fallback,omitempty"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	if b.Data == nil {
		return nil, fmt.Errorf("block %q has no data", b.ID)
	}
	raw, err := EncodeBlockData(b.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireBlock{ID: b.ID, Type: b.Data.Tag(), Data: raw, Fallback: b.Fallback})
}

// UnmarshalJSON is strict: a payload that does not match its tag is a *BlockParseError. The lenient fallback
// policy only applies to stored rows, see DecodeStoredBlock.
func (b *Block) UnmarshalJSON(raw []byte) error {
	var w wireBlock
	if err := json.Unmarshal(raw, &w); err != nil {
		return &BlockParseError{ID: w.ID, Err: err}
	}
	data, err := DecodeBlockData(w.Type, w.Data)
	if err != nil {
		if pe, ok := err.(*BlockParseError); ok {
			pe.ID = w.ID
		}
		return err
	}
	*b = Block{ID: w.ID, Data: data}
	return nil
}

// BlockParseError is returned when a payload does not match any known variant.
type BlockParseError struct {
	ID  string
	Tag string
	Err error
}

func (e *BlockParseError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("failed to parse block %q of type %q: %v", e.ID, e.Tag, e.Err)
	}
	return fmt.Sprintf("failed to parse block of type %q: %v", e.Tag, e.Err)
}

func (e *BlockParseError) Unwrap() error {
	return e.Err
}

// EncodeBlockData returns the json payload of the variant, without its tag.
func EncodeBlockData(d BlockData) (json.RawMessage, error) {
	switch v := d.(type) {
	case Text:
		return json.Marshal(string(v))
	case Header, Code, Todo:
		return json.Marshal(v)
	case *Header:
		return json.Marshal(*v)
	case *Code:
		return json.Marshal(*v)
	case *Todo:
		return json.Marshal(*v)
	default:
		return nil, fmt.Errorf("unsupported block data %T", d)
	}
}

// DecodeBlockData parses the payload for the given tag. Every field of the variant must be present, unknown
// fields are ignored.
func DecodeBlockData(tag string, data json.RawMessage) (BlockData, error) {
	fail := func(err error) (BlockData, error) {
		return nil, &BlockParseError{Tag: tag, Err: err}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return fail(fmt.Errorf("missing data"))
	}
	switch tag {
	case TagText:
		var s *string
		if err := json.Unmarshal(data, &s); err != nil {
			return fail(err)
		} else if s == nil {
			return fail(fmt.Errorf("text requires a string"))
		}
		return Text(*s), nil
	case TagHeader:
		var raw struct {
			Level *uint8  `json:"level"`
			Text  *string `json:"text"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fail(err)
		} else if raw.Level == nil || raw.Text == nil {
			return fail(fmt.Errorf("header requires level and text"))
		}
		return Header{Level: *raw.Level, Text: *raw.Text}, nil
	case TagCode:
		var raw struct {
			Lang *string `json:"lang"`
			Code *string `json:"code"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fail(err)
		} else if raw.Lang == nil || raw.Code == nil {
			return fail(fmt.Errorf("code requires lang and code"))
		}
		return Code{Lang: *raw.Lang, Code: *raw.Code}, nil
	case TagTodo:
		var raw struct {
			Task      *string `json:"task"`
			Completed *bool   `json:"completed"`
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return fail(err)
		} else if raw.Task == nil || raw.Completed == nil {
			return fail(fmt.Errorf("todo requires task and completed"))
		}
		return Todo{Task: *raw.Task, Completed: *raw.Completed}, nil
	default:
		return fail(fmt.Errorf("unknown block type"))
	}
}

// FallbackBlock is the replacement for a block whose payload could not be parsed.
func FallbackBlock(id string) Block {
	return Block{ID: id, Data: Text(FallbackText), Fallback: true}
}
