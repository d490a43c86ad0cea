package redisipc

import "github.com/vmihailenco/msgpack/v5"

// MsgpackCodec serializes payloads with vmihailenco/msgpack/v5. Compact and
// fast; use `msgpack:"fieldName"` tags where JSON tags are not enough.
// The zero value is ready to use.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error)   { return msgpack.Marshal(v) }
func (MsgpackCodec) Unmarshal(b []byte, v any) error { return msgpack.Unmarshal(b, v) }
func (MsgpackCodec) Name() string                    { return "msgpack" }

func init() {
	if err := RegisterCodec("msgpack", func() Codec { return MsgpackCodec{} }); err != nil {
		panic(err)
	}
}
