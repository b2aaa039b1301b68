package msg

import (
	"encoding/base64"
	"encoding/json"
	"errors"
)

// binaryTag is the reserved key marking a byte-array leaf in the encoded
// tree. It is distinguishable from ordinary payload keys by the
// double-underscore frame.
const binaryTag = "__binary__"

// Bytes is a raw byte-array leaf. It encodes as a one-key object carrying a
// base64 string so the whole message tree stays text-safe.
type Bytes []byte

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		binaryTag: base64.StdEncoding.EncodeToString(b),
	})
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var wrapped map[string]string
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	encoded, ok := wrapped[binaryTag]
	if !ok || len(wrapped) != 1 {
		return errors.New("msg: not a tagged binary value")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}
