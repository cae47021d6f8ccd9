package serializer

import (
	"bytes"
	"encoding/gob"

	"github.com/alexanderwatt/corecache/rpc/common"
)

// NewGOBSerializer creates a serializer using Go's gob encoding. Gob is
// self describing, so frames run larger than the binary codec, and both
// ends must be Go. Kept for item bodies whose props round-trip awkwardly
// through JSON string escaping.
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

type gobSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(msg)
}
