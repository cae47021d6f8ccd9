package serializer

import (
	"encoding/json"

	"github.com/alexanderwatt/corecache/rpc/common"
)

// NewJSONSerializer creates a serializer rendering messages as JSON. The
// slowest and largest of the three codecs, but human readable on the wire
// and decodable by non-Go clients, so the first choice when tracing a
// session (pair it with the header's DebugRequest flag).
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	return json.Unmarshal(b, msg)
}
