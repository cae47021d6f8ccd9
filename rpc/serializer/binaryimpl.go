package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
	"github.com/alexanderwatt/corecache/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present. Boolean fields
// carry no payload, the flag bit is the value.
const (
	hasMoreFollowing  uint32 = 1 << 0
	hasReplyRequired  uint32 = 1 << 1
	hasDebugRequest   uint32 = 1 << 2
	hasReplyAddress   uint32 = 1 << 3
	hasReplyContract  uint32 = 1 << 4
	hasItemName       uint32 = 1 << 5
	hasItemId         uint32 = 1 << 6
	hasKind           uint32 = 1 << 7
	hasDataType       uint32 = 1 << 8
	hasAppScope       uint32 = 1 << 9
	hasProps          uint32 = 1 << 10
	hasBody           uint32 = 1 << 11
	hasExpires        uint32 = 1 << 12
	hasFilter         uint32 = 1 << 13
	hasMinimumUsn     uint32 = 1 << 14
	hasAsAtTime       uint32 = 1 << 15
	hasIncludeDeleted uint32 = 1 << 16
	hasExcludeBody    uint32 = 1 << 17
	hasStartRow       uint32 = 1 << 18
	hasRowCount       uint32 = 1 << 19
	hasSubscriptionId uint32 = 1 << 20
	hasExpiry         uint32 = 1 << 21
	hasItems          uint32 = 1 << 22
	hasUsn            uint32 = 1 << 23
	hasCount          uint32 = 1 << 24
	hasSuccess        uint32 = 1 << 25
	hasResult         uint32 = 1 << 26
	hasErr            uint32 = 1 << 27
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

// Serialize writes the message in the wire layout:
// 1 byte message type, 4 bytes presence flags (big endian), 16 bytes session
// id, 16 bytes request id, 8 bytes expected USN, then every flagged field in
// flag-bit order.
func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	w := &binWriter{}

	w.u8(byte(msg.MsgType))

	flags := b.flagsOf(msg)
	w.u32(flags)

	w.id(msg.Header.SessionId)
	w.id(msg.Header.RequestId)
	w.u64(msg.ExpectedUsn)

	if flags&hasReplyAddress != 0 {
		w.str(msg.Header.ReplyAddress)
	}
	if flags&hasReplyContract != 0 {
		w.str(msg.Header.ReplyContract)
	}
	if flags&hasItemName != 0 {
		w.str(msg.ItemName)
	}
	if flags&hasItemId != 0 {
		w.id(msg.ItemId)
	}
	if flags&hasKind != 0 {
		w.u8(byte(msg.Kind))
	}
	if flags&hasDataType != 0 {
		w.str(msg.DataType)
	}
	if flags&hasAppScope != 0 {
		w.str(msg.AppScope)
	}
	if flags&hasProps != 0 {
		w.props(msg.Props)
	}
	if flags&hasBody != 0 {
		w.blob(msg.Body)
	}
	if flags&hasExpires != 0 {
		w.time(msg.Expires)
	}
	if flags&hasFilter != 0 {
		w.str(msg.Filter)
	}
	if flags&hasMinimumUsn != 0 {
		w.u64(msg.MinimumUsn)
	}
	if flags&hasAsAtTime != 0 {
		w.time(msg.AsAtTime)
	}
	if flags&hasStartRow != 0 {
		w.u64(uint64(msg.StartRow))
	}
	if flags&hasRowCount != 0 {
		w.u64(uint64(msg.RowCount))
	}
	if flags&hasSubscriptionId != 0 {
		w.id(msg.SubscriptionId)
	}
	if flags&hasExpiry != 0 {
		w.time(msg.Expiry)
	}
	if flags&hasItems != 0 {
		w.u32(uint32(len(msg.Items)))
		for _, it := range msg.Items {
			w.item(it)
		}
	}
	if flags&hasUsn != 0 {
		w.u64(msg.Usn)
	}
	if flags&hasCount != 0 {
		w.u64(uint64(msg.Count))
	}
	if flags&hasResult != 0 {
		w.u64(uint64(msg.Result))
	}
	if flags&hasErr != 0 {
		w.str(msg.Err)
	}

	return w.buf.Bytes(), nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	r := &binReader{data: data}

	msgType := r.u8()
	flags := r.u32()
	if r.err != nil {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{
		MsgType: common.MessageType(msgType),
		Header: common.SessionHeader{
			SessionId:     r.id(),
			RequestId:     r.id(),
			MoreFollowing: flags&hasMoreFollowing != 0,
			ReplyRequired: flags&hasReplyRequired != 0,
			DebugRequest:  flags&hasDebugRequest != 0,
		},
		ExpectedUsn:    r.u64(),
		IncludeDeleted: flags&hasIncludeDeleted != 0,
		ExcludeBody:    flags&hasExcludeBody != 0,
		Success:        flags&hasSuccess != 0,
	}

	if flags&hasReplyAddress != 0 {
		msg.Header.ReplyAddress = r.str()
	}
	if flags&hasReplyContract != 0 {
		msg.Header.ReplyContract = r.str()
	}
	if flags&hasItemName != 0 {
		msg.ItemName = r.str()
	}
	if flags&hasItemId != 0 {
		msg.ItemId = r.id()
	}
	if flags&hasKind != 0 {
		msg.Kind = item.Kind(r.u8())
	}
	if flags&hasDataType != 0 {
		msg.DataType = r.str()
	}
	if flags&hasAppScope != 0 {
		msg.AppScope = r.str()
	}
	if flags&hasProps != 0 {
		msg.Props = r.props()
	}
	if flags&hasBody != 0 {
		msg.Body = r.blob()
	}
	if flags&hasExpires != 0 {
		msg.Expires = r.time()
	}
	if flags&hasFilter != 0 {
		msg.Filter = r.str()
	}
	if flags&hasMinimumUsn != 0 {
		msg.MinimumUsn = r.u64()
	}
	if flags&hasAsAtTime != 0 {
		msg.AsAtTime = r.time()
	}
	if flags&hasStartRow != 0 {
		msg.StartRow = int(r.u64())
	}
	if flags&hasRowCount != 0 {
		msg.RowCount = int(r.u64())
	}
	if flags&hasSubscriptionId != 0 {
		msg.SubscriptionId = r.id()
	}
	if flags&hasExpiry != 0 {
		msg.Expiry = r.time()
	}
	if flags&hasItems != 0 {
		count := r.u32()
		if r.err == nil && count > 0 {
			msg.Items = make([]*item.Item, 0, count)
			for i := uint32(0); i < count && r.err == nil; i++ {
				msg.Items = append(msg.Items, r.item())
			}
		}
	}
	if flags&hasUsn != 0 {
		msg.Usn = r.u64()
	}
	if flags&hasCount != 0 {
		msg.Count = int(r.u64())
	}
	if flags&hasResult != 0 {
		msg.Result = store.RetCode(r.u64())
	}
	if flags&hasErr != 0 {
		msg.Err = r.str()
	}

	return r.err
}

// flagsOf computes the presence bits for every non-zero field.
func (b binarySerializerImpl) flagsOf(msg common.Message) uint32 {
	var flags uint32
	set := func(cond bool, bit uint32) {
		if cond {
			flags |= bit
		}
	}
	set(msg.Header.MoreFollowing, hasMoreFollowing)
	set(msg.Header.ReplyRequired, hasReplyRequired)
	set(msg.Header.DebugRequest, hasDebugRequest)
	set(msg.Header.ReplyAddress != "", hasReplyAddress)
	set(msg.Header.ReplyContract != "", hasReplyContract)
	set(msg.ItemName != "", hasItemName)
	set(msg.ItemId != uuid.Nil, hasItemId)
	set(msg.Kind != item.KindUndefined, hasKind)
	set(msg.DataType != "", hasDataType)
	set(msg.AppScope != "", hasAppScope)
	set(len(msg.Props) > 0, hasProps)
	set(msg.Body != nil, hasBody)
	set(!msg.Expires.IsZero(), hasExpires)
	set(msg.Filter != "", hasFilter)
	set(msg.MinimumUsn > 0, hasMinimumUsn)
	set(!msg.AsAtTime.IsZero(), hasAsAtTime)
	set(msg.IncludeDeleted, hasIncludeDeleted)
	set(msg.ExcludeBody, hasExcludeBody)
	set(msg.StartRow > 0, hasStartRow)
	set(msg.RowCount > 0, hasRowCount)
	set(msg.SubscriptionId != uuid.Nil, hasSubscriptionId)
	set(!msg.Expiry.IsZero(), hasExpiry)
	set(msg.Items != nil, hasItems)
	set(msg.Usn > 0, hasUsn)
	set(msg.Count > 0, hasCount)
	set(msg.Success, hasSuccess)
	set(msg.Result != store.RetCSuccess, hasResult)
	set(msg.Err != "", hasErr)
	return flags
}

// --------------------------------------------------------------------------
// Wire primitives
// --------------------------------------------------------------------------

type binWriter struct {
	buf bytes.Buffer
}

func (w *binWriter) u8(v byte) { w.buf.WriteByte(v) }

func (w *binWriter) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *binWriter) id(v uuid.UUID) { w.buf.Write(v[:]) }

func (w *binWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *binWriter) blob(b []byte) {
	w.u32(uint32(len(b)))
	w.buf.Write(b)
}

// time encodes an instant as unix nanoseconds. Callers must not pass the
// zero time, presence is tracked in the flags.
func (w *binWriter) time(t time.Time) { w.u64(uint64(t.UnixNano())) }

func (w *binWriter) props(p item.Props) {
	w.u32(uint32(len(p)))
	for k, v := range p {
		w.str(k)
		w.str(v)
	}
}

func (w *binWriter) item(it *item.Item) {
	w.id(it.Id)
	w.str(it.Name)
	w.u8(byte(it.Kind))
	w.str(it.DataType)
	w.str(it.AppScope)
	w.u64(it.USN)
	w.time(it.Created)
	if it.Expires.IsZero() {
		w.u64(0)
	} else {
		w.time(it.Expires)
	}
	if it.Deleted {
		w.u8(1)
	} else {
		w.u8(0)
	}
	w.props(it.Props)
	if it.Body == nil {
		w.u8(0)
	} else {
		w.u8(1)
		w.blob(it.Body)
	}
}

// binReader decodes the wire primitives with a sticky error: after the first
// short read every accessor returns the zero value.
type binReader struct {
	data []byte
	pos  int
	err  error
}

func (r *binReader) fail() {
	if r.err == nil {
		r.err = fmt.Errorf("data too short at offset %d", r.pos)
	}
}

func (r *binReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.fail()
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *binReader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *binReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *binReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *binReader) id() uuid.UUID {
	var id uuid.UUID
	b := r.take(16)
	if b != nil {
		copy(id[:], b)
	}
	return id
}

func (r *binReader) str() string {
	n := r.u32()
	b := r.take(int(n))
	if b == nil {
		return ""
	}
	return string(b)
}

func (r *binReader) blob() []byte {
	n := r.u32()
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *binReader) time() time.Time {
	n := r.u64()
	if r.err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(n)).UTC()
}

func (r *binReader) props() item.Props {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	p := make(item.Props, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		k := r.str()
		p[k] = r.str()
	}
	return p
}

func (r *binReader) item() *item.Item {
	it := &item.Item{
		Id:       r.id(),
		Name:     r.str(),
		Kind:     item.Kind(r.u8()),
		DataType: r.str(),
		AppScope: r.str(),
		USN:      r.u64(),
		Created:  r.time(),
		Expires:  r.time(),
		Deleted:  r.u8() != 0,
		Props:    r.props(),
	}
	if r.u8() != 0 {
		it.Body = r.blob()
	}
	return it
}
