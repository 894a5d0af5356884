package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlock_wire_shape(t *testing.T) {
	raw, err := json.Marshal(Block{ID: "b1", Data: Header{Level: 1, Text: "Hi"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"b1","type":"Header","data":{"level":1,"text":"Hi"}}`, string(raw))

	raw, err = json.Marshal(Block{ID: "b2", Data: Text("plain")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"b2","type":"Text","data":"plain"}`, string(raw))

	_, err = json.Marshal(Block{ID: "empty"})
	assert.Error(t, err)
}

func TestBlock_UnmarshalJSON(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		want BlockData
	}{
		{"text", `{"id":"a","type":"Text","data":"hello"}`, Text("hello")},
		{"header", `{"id":"a","type":"Header","data":{"level":2,"text":"x"}}`, Header{Level: 2, Text: "x"}},
		{"code", `{"id":"a","type":"Code","data":{"lang":"go","code":"package x"}}`, Code{Lang: "go", Code: "package x"}},
		{"todo", `{"id":"a","type":"Todo","data":{"task":"t","completed":true}}`, Todo{Task: "t", Completed: true}},
		{"extra fields ignored", `{"id":"a","type":"Todo","data":{"task":"t","completed":false,"x":1}}`, Todo{Task: "t"}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var b Block
			require.NoError(t, json.Unmarshal([]byte(tc.in), &b))
			assert.Equal(t, "a", b.ID)
			assert.Equal(t, tc.want, b.Data)
			assert.False(t, b.Fallback)
		})
	}
}

func TestBlock_UnmarshalJSON_rejects_mismatched_shapes(t *testing.T) {
	for _, in := range []string{
		`{"id":"a","type":"Paragraph","data":"x"}`,
		`{"id":"a","type":"Header","data":{"text":"missing level"}}`,
		`{"id":"a","type":"Header","data":{"level":300,"text":"overflow"}}`,
		`{"id":"a","type":"Todo","data":"not an object"}`,
		`{"id":"a","type":"Text"}`,
		`{"id":"a","type":"Code","data":{"lang":"go"}}`,
		`{"id":"a","type":"Text","data":null}`,
		`{"id":"a","type":"Header","data":null}`,
	} {
		var b Block
		err := json.Unmarshal([]byte(in), &b)
		var pe *BlockParseError
		if assert.True(t, errors.As(err, &pe), in) {
			assert.Equal(t, "a", pe.ID)
		}
	}
}

func TestStoredEnvelope(t *testing.T) {
	raw, err := MarshalStored(Code{Lang: "sql", Code: "select 1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1,"type":"Code","data":{"lang":"sql","code":"select 1"}}`, string(raw))

	got, err := UnmarshalStored(raw)
	require.NoError(t, err)
	assert.Equal(t, Code{Lang: "sql", Code: "select 1"}, got)

	// legacy rows carry no version
	got, err = UnmarshalStored([]byte(`{"type":"Text","data":"old"}`))
	require.NoError(t, err)
	assert.Equal(t, Text("old"), got)

	_, err = UnmarshalStored([]byte(`{"v":2,"type":"Text","data":"future"}`))
	assert.Error(t, err)
}

func TestDecodeStoredBlock_falls_back(t *testing.T) {
	b, err := DecodeStoredBlock("bad", []byte(`{"v":1,"type":"Image","data":{"url":"x"}}`))
	assert.Error(t, err)
	assert.Equal(t, FallbackBlock("bad"), b)
	assert.True(t, b.Fallback)
	assert.Equal(t, Text(FallbackText), b.Data)

	raw, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"bad","type":"Text","data":"Error parsing block data","fallback":true}`, string(raw))

	for _, raw := range []string{
		`{"v":1,"type":"Text","data":null}`,
		`{"type":"Text","data":null}`,
	} {
		b, err = DecodeStoredBlock("null", []byte(raw))
		assert.Error(t, err, raw)
		assert.Equal(t, FallbackBlock("null"), b, raw)
	}

	b, err = DecodeStoredBlock("ok", []byte(`{"v":1,"type":"Todo","data":{"task":"x","completed":false}}`))
	require.NoError(t, err)
	assert.Equal(t, Block{ID: "ok", Data: Todo{Task: "x"}}, b)
}

func TestPage_json(t *testing.T) {
	root := NewPage("Notes")
	assert.True(t, root.IsRoot())
	raw, err := json.Marshal(root)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+root.ID.String()+`","title":"Notes","parent_id":null}`, string(raw))

	child := NewChildPage("Sub", root.ID)
	assert.False(t, child.IsRoot())
	assert.NotEqual(t, uuid.Nil, child.ID)
	assert.Equal(t, root.ID, *child.ParentID)

	raw, err = json.Marshal(PageWithBlocks{Page: child, Blocks: []Block{{ID: "1", Data: Text("t")}}})
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "Sub", decoded["title"])
	assert.Equal(t, root.ID.String(), decoded["parent_id"])
	assert.Len(t, decoded["blocks"], 1)
}

func TestChangeNotification(t *testing.T) {
	id := uuid.New()
	msg := ChangeNotification{Type: NotificationPageSaved, PageID: id, Title: "Notes"}.String()
	assert.JSONEq(t, `{"type":"page_saved","page_id":"`+id.String()+`","title":"Notes"}`, msg)

	n, ok := ParseChangeNotification(msg)
	require.True(t, ok)
	assert.Equal(t, id, n.PageID)

	_, ok = ParseChangeNotification("hello everyone")
	assert.False(t, ok)
	_, ok = ParseChangeNotification(`{"type":"page_saved"}`)
	assert.False(t, ok)
}
