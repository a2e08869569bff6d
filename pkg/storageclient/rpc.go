package storageclient

import (
	"bytes"
	"encoding/gob"

	"github.com/fireflyer/ffs/pkg/kv"
)

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, kv.Wrap(kv.CodeInvalidArgument, err, "storageclient: encode payload")
	}
	return buf.Bytes(), nil
}

func decodeGob(payload []byte, out interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(out); err != nil {
		return kv.Wrap(kv.CodeInvalidArgument, err, "storageclient: decode payload")
	}
	return nil
}
