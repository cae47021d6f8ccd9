package common

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
)

// --------------------------------------------------------------------------
// Session Header
// --------------------------------------------------------------------------

// SessionHeader envelopes every exchange. RequestId correlates replies with
// requests; MoreFollowing marks a paged answer that will be continued under
// the same RequestId. A reply whose RequestId is unknown to the receiver is
// dropped as stale rather than treated as a protocol fault.
type SessionHeader struct {
	SessionId     uuid.UUID `json:"sessionId"`
	RequestId     uuid.UUID `json:"requestId"`
	MoreFollowing bool      `json:"moreFollowing,omitempty"`
	ReplyRequired bool      `json:"replyRequired,omitempty"`
	ReplyAddress  string    `json:"replyAddress,omitempty"`
	ReplyContract string    `json:"replyContract,omitempty"`
	DebugRequest  bool      `json:"debugRequest,omitempty"`
}

// NewHeader returns a header for a fresh request on the given session.
func NewHeader(sessionId uuid.UUID) SessionHeader {
	return SessionHeader{
		SessionId:     sessionId,
		RequestId:     uuid.New(),
		ReplyRequired: true,
	}
}

// Reply derives the header for a response to this request.
func (h SessionHeader) Reply(moreFollowing bool) SessionHeader {
	return SessionHeader{
		SessionId:     h.SessionId,
		RequestId:     h.RequestId,
		MoreFollowing: moreFollowing,
		DebugRequest:  h.DebugRequest,
	}
}

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Session envelope
	Header SessionHeader `json:"header"`

	// Item addressing
	ItemName string    `json:"itemName,omitempty"` // Used for: SaveItem, LoadItem, DeleteItem
	ItemId   uuid.UUID `json:"itemId,omitempty"`   // Used for: LoadById

	// Save fields
	Kind        item.Kind  `json:"kind,omitempty"`     // Used for: SaveItem, SelectItems
	DataType    string     `json:"dataType,omitempty"` // Used for: SaveItem, SelectItems, DeleteWhere, CreateSubscription
	AppScope    string     `json:"appScope,omitempty"` // Used for: SaveItem
	Props       item.Props `json:"props,omitempty"`    // Used for: SaveItem
	Body        []byte     `json:"body,omitempty"`     // Used for: SaveItem
	ExpectedUsn uint64     `json:"expectedUsn"`        // Used for: SaveItem
	Expires     time.Time  `json:"expires,omitempty"`  // Used for: SaveItem

	// Query fields
	Filter         string    `json:"filter,omitempty"`         // Used for: SelectItems, DeleteWhere, CreateSubscription
	MinimumUsn     uint64    `json:"minimumUsn,omitempty"`     // Used for: SelectItems (delta sync)
	AsAtTime       time.Time `json:"asAtTime,omitempty"`       // Used for: SelectItems (time travel)
	IncludeDeleted bool      `json:"includeDeleted,omitempty"` // Used for: SelectItems
	ExcludeBody    bool      `json:"excludeBody,omitempty"`    // Used for: SelectItems (metadata only)
	StartRow       int       `json:"startRow,omitempty"`       // Used for: SelectItems (paging)
	RowCount       int       `json:"rowCount,omitempty"`       // Used for: SelectItems (paging)

	// Subscription fields
	SubscriptionId uuid.UUID `json:"subscriptionId,omitempty"` // Used for: Create/Extend/CancelSubscription, NotifyItems
	Expiry         time.Time `json:"expiry,omitempty"`         // Used for: Create/ExtendSubscription

	// Response fields
	Items   []*item.Item  `json:"items,omitempty"` // Used for: AnswerItems, NotifyItems
	Usn     uint64        `json:"usn,omitempty"`   // Used for: CompletionResult (SaveItem, DeleteItem)
	Count   int           `json:"count,omitempty"` // Used for: CompletionResult (DeleteWhere)
	Success bool          `json:"success,omitempty"`
	Result  store.RetCode `json:"result,omitempty"`
	Err     string        `json:"err,omitempty"` // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSaveItemRequest creates a new SaveItem request.
func NewSaveItemRequest(h SessionHeader, req store.SaveRequest) *Message {
	return &Message{
		MsgType:     MsgTSaveItem,
		Header:      h,
		ItemName:    req.Name,
		Kind:        req.Kind,
		DataType:    req.DataType,
		AppScope:    req.AppScope,
		Props:       req.Props,
		Body:        req.Body,
		ExpectedUsn: req.ExpectedUsn,
		Expires:     req.Expires,
	}
}

// ToSaveRequest extracts the store save request from a SaveItem message.
func (m *Message) ToSaveRequest() store.SaveRequest {
	return store.SaveRequest{
		Name:        m.ItemName,
		Kind:        m.Kind,
		DataType:    m.DataType,
		AppScope:    m.AppScope,
		Props:       m.Props,
		Body:        m.Body,
		ExpectedUsn: m.ExpectedUsn,
		Expires:     m.Expires,
	}
}

// NewLoadItemRequest creates a new LoadItem request (point query by name).
func NewLoadItemRequest(h SessionHeader, name string) *Message {
	return &Message{
		MsgType:  MsgTLoadItem,
		Header:   h,
		ItemName: name,
	}
}

// NewLoadByIdRequest creates a new LoadById request (historical revision).
func NewLoadByIdRequest(h SessionHeader, id uuid.UUID) *Message {
	return &Message{
		MsgType: MsgTLoadById,
		Header:  h,
		ItemId:  id,
	}
}

// NewSelectItemsRequest creates a new SelectItems request.
func NewSelectItemsRequest(h SessionHeader, q store.Query) *Message {
	return &Message{
		MsgType:        MsgTSelectItems,
		Header:         h,
		Kind:           q.Kind,
		DataType:       q.DataType,
		Filter:         expr.Serialise(q.Filter),
		MinimumUsn:     q.MinimumUsn,
		AsAtTime:       q.AsAtTime,
		IncludeDeleted: q.IncludeDeleted,
		ExcludeBody:    q.ExcludeBody,
		StartRow:       q.StartRow,
		RowCount:       q.RowCount,
	}
}

// ToQuery extracts the store query from a SelectItems message. A malformed
// filter yields RetCInvalidFilter.
func (m *Message) ToQuery() (store.Query, error) {
	filter, err := expr.Parse(m.Filter)
	if err != nil {
		return store.Query{}, err
	}
	return store.Query{
		Kind:           m.Kind,
		DataType:       m.DataType,
		Filter:         filter,
		MinimumUsn:     m.MinimumUsn,
		AsAtTime:       m.AsAtTime,
		IncludeDeleted: m.IncludeDeleted,
		ExcludeBody:    m.ExcludeBody,
		StartRow:       m.StartRow,
		RowCount:       m.RowCount,
	}, nil
}

// NewDeleteItemRequest creates a new DeleteItem request.
func NewDeleteItemRequest(h SessionHeader, name string) *Message {
	return &Message{
		MsgType:  MsgTDeleteItem,
		Header:   h,
		ItemName: name,
	}
}

// NewDeleteWhereRequest creates a new DeleteWhere request.
func NewDeleteWhereRequest(h SessionHeader, dataType string, filter expr.IExpression) *Message {
	return &Message{
		MsgType:  MsgTDeleteWhere,
		Header:   h,
		DataType: dataType,
		Filter:   expr.Serialise(filter),
	}
}

// NewCreateSubscriptionRequest creates a new CreateSubscription request. The
// subscription id is client generated.
func NewCreateSubscriptionRequest(h SessionHeader, subId uuid.UUID, dataType string, filter expr.IExpression, expiry time.Time) *Message {
	return &Message{
		MsgType:        MsgTCreateSubscription,
		Header:         h,
		SubscriptionId: subId,
		DataType:       dataType,
		Filter:         expr.Serialise(filter),
		Expiry:         expiry,
	}
}

// NewExtendSubscriptionRequest creates a new ExtendSubscription request.
func NewExtendSubscriptionRequest(h SessionHeader, subId uuid.UUID, expiry time.Time) *Message {
	return &Message{
		MsgType:        MsgTExtendSubscription,
		Header:         h,
		SubscriptionId: subId,
		Expiry:         expiry,
	}
}

// NewCancelSubscriptionRequest creates a new CancelSubscription request.
func NewCancelSubscriptionRequest(h SessionHeader, subId uuid.UUID) *Message {
	return &Message{
		MsgType:        MsgTCancelSubscription,
		Header:         h,
		SubscriptionId: subId,
	}
}

// NewAnswerItems creates an AnswerItems response page. moreFollowing marks
// that at least one more page follows under the same request id.
func NewAnswerItems(reqHeader SessionHeader, items []*item.Item, moreFollowing bool) *Message {
	return &Message{
		MsgType: MsgTAnswerItems,
		Header:  reqHeader.Reply(moreFollowing),
		Items:   items,
	}
}

// NewNotifyItems creates a NotifyItems push (fire and forget, no reply
// expected).
func NewNotifyItems(sessionId, subId uuid.UUID, items []*item.Item) *Message {
	return &Message{
		MsgType: MsgTNotifyItems,
		Header: SessionHeader{
			SessionId:     sessionId,
			ReplyRequired: false,
		},
		SubscriptionId: subId,
		Items:          items,
	}
}

// NewCompletionResult creates a CompletionResult response for a mutating
// operation. usn carries the assigned USN (Save/Delete), count the number of
// affected items (DeleteWhere).
func NewCompletionResult(reqHeader SessionHeader, usn uint64, count int, err error) *Message {
	msg := &Message{
		MsgType: MsgTCompletionResult,
		Header:  reqHeader.Reply(false),
		Usn:     usn,
		Count:   count,
		Success: err == nil,
		Result:  store.CodeOf(err),
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// ToError converts a CompletionResult back into the store error it carries,
// or nil on success.
func (m *Message) ToError() error {
	if m.Success {
		return nil
	}
	return store.NewError(m.Result, m.Err)
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTCompletionResult:
		return "completionResult"
	case MsgTSaveItem:
		return "saveItem"
	case MsgTLoadItem:
		return "loadItem"
	case MsgTLoadById:
		return "loadById"
	case MsgTSelectItems:
		return "selectItems"
	case MsgTAnswerItems:
		return "answerItems"
	case MsgTNotifyItems:
		return "notifyItems"
	case MsgTDeleteItem:
		return "deleteItem"
	case MsgTDeleteWhere:
		return "deleteWhere"
	case MsgTCreateSubscription:
		return "createSubscription"
	case MsgTExtendSubscription:
		return "extendSubscription"
	case MsgTCancelSubscription:
		return "cancelSubscription"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "completionResult":
		*t = MsgTCompletionResult
	case "saveItem":
		*t = MsgTSaveItem
	case "loadItem":
		*t = MsgTLoadItem
	case "loadById":
		*t = MsgTLoadById
	case "selectItems":
		*t = MsgTSelectItems
	case "answerItems":
		*t = MsgTAnswerItems
	case "notifyItems":
		*t = MsgTNotifyItems
	case "deleteItem":
		*t = MsgTDeleteItem
	case "deleteWhere":
		*t = MsgTDeleteWhere
	case "createSubscription":
		*t = MsgTCreateSubscription
	case "extendSubscription":
		*t = MsgTExtendSubscription
	case "cancelSubscription":
		*t = MsgTCancelSubscription
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown          MessageType = iota
	MsgTCompletionResult             // Success/result-code/message reply for mutating operations

	// Item store operations

	MsgTSaveItem    // Save a new item revision
	MsgTLoadItem    // Load the latest revision by name
	MsgTLoadById    // Load a historical revision by id
	MsgTSelectItems // Filtered, paged query
	MsgTAnswerItems // Paged answer to LoadItem/LoadById/SelectItems
	MsgTDeleteItem  // Tombstone the latest revision of a name
	MsgTDeleteWhere // Tombstone all items matching a filter

	// Subscription operations

	MsgTCreateSubscription // Create a leased subscription
	MsgTExtendSubscription // Renew a subscription lease
	MsgTCancelSubscription // Cancel a subscription
	MsgTNotifyItems        // Subscription push of changed items
)
