package codec

import (
	"reflect"

	ugcodec "github.com/ugorji/go/codec"
)

type msgpackCodec struct {
	h *ugcodec.MsgpackHandle
}

// Msgpack returns a MessagePack codec.
func Msgpack() Codec {
	h := &ugcodec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	h.RawToString = true
	h.WriteExt = true
	return msgpackCodec{h: h}
}

func (msgpackCodec) Name() string { return "msgpack" }
func (msgpackCodec) ContentType() string { return "application/msgpack" }

func (c msgpackCodec) Marshal(v any) ([]byte, error) {
	var out []byte
	if err := ugcodec.NewEncoderBytes(&out, c.h).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func (c msgpackCodec) Unmarshal(data []byte, v any) error {
	return ugcodec.NewDecoderBytes(data, c.h).Decode(v)
}
