package item

import (
	"time"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Item Kind
// --------------------------------------------------------------------------

// Kind classifies an item within the store. Most application data is KindObject;
// KindSignal items carry transient control messages, KindDebug items carry
// diagnostic payloads.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindObject
	KindSignal
	KindDebug
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindSignal:
		return "signal"
	case KindDebug:
		return "debug"
	default:
		return "undefined"
	}
}

// --------------------------------------------------------------------------
// Property Bag
// --------------------------------------------------------------------------

// Props is the property bag attached to every item. Properties are used
// for filtering without deserializing the item body. A nil Props behaves
// like an empty bag.
type Props map[string]string

// Get returns the value for a property name. The boolean return value
// indicates whether the property is present.
func (p Props) Get(name string) (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p[name]
	return v, ok
}

// Clone returns an independent copy of the property bag.
func (p Props) Clone() Props {
	if p == nil {
		return nil
	}
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// --------------------------------------------------------------------------
// Item
// --------------------------------------------------------------------------

// Item is the atomic unit of storage: a versioned, named, typed object.
// The store assigns Id, USN and Created on every revision; all other fields
// are supplied by the caller. Items are value types once published - holders
// of a snapshot must treat it as immutable.
type Item struct {
	// Identity
	Id       uuid.UUID // unique per revision, supports time-travel loads
	Name     string    // hierarchical dotted name, e.g. "ns.trade.T1"
	Kind     Kind      // item classification
	DataType string    // declared data-type name of the body
	AppScope string    // application scope tag ("" = global)

	// Versioning
	USN     uint64    // store-wide monotonic update sequence number
	Created time.Time // revision creation timestamp
	Expires time.Time // zero = never expires
	Deleted bool      // soft-delete tombstone marker

	// Payload
	Props Props  // filterable metadata
	Body  []byte // opaque serialized body
}

// Clone returns a deep copy of the item.
func (it *Item) Clone() *Item {
	out := *it
	out.Props = it.Props.Clone()
	if it.Body != nil {
		out.Body = make([]byte, len(it.Body))
		copy(out.Body, it.Body)
	}
	return &out
}

// WithoutBody returns a copy of the item with the body stripped, for
// metadata-only query answers.
func (it *Item) WithoutBody() *Item {
	out := *it
	out.Props = it.Props.Clone()
	out.Body = nil
	return &out
}

// IsExpiredAt reports whether the item's expiry has passed at the given time.
// Items with a zero Expires never expire.
func (it *Item) IsExpiredAt(t time.Time) bool {
	return !it.Expires.IsZero() && !t.Before(it.Expires)
}

// IsCurrentAt reports whether this revision existed at the given time,
// i.e. the revision was created at or before t.
func (it *Item) IsCurrentAt(t time.Time) bool {
	return !it.Created.After(t)
}
