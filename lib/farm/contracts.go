package farm

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/item"
	"github.com/alexanderwatt/corecache/lib/store"
)

// --------------------------------------------------------------------------
// Item Contracts
// --------------------------------------------------------------------------

// Data types of the items the farm exchanges through the store.
const (
	RequestDataType      = "Farm.Request"
	ResultDataType       = "Farm.Result"
	CancellationDataType = "Farm.Cancellation"
)

// PropRequestId is the item property carrying the request id, so requests
// and results can be filtered without decoding the body.
const PropRequestId = "RequestId"

// RequestItemName returns the store name of a request item.
func RequestItemName(id uuid.UUID) string { return RequestDataType + "." + id.String() }

// ResultItemName returns the store name of a result item. All revisions of a
// request's result share this name, so readers always see the latest by USN.
func ResultItemName(id uuid.UUID) string { return ResultDataType + "." + id.String() }

// CancellationItemName returns the store name of a cancellation item.
func CancellationItemName(id uuid.UUID) string { return CancellationDataType + "." + id.String() }

// RequestStatus is the worker-local state machine of a request.
type RequestStatus uint8

const (
	StatusReceived   RequestStatus = iota // Seen by the owning worker, not yet started.
	StatusProcessing                      // The workflow is executing.
	StatusCompleted                       // The workflow returned an outcome.
	StatusFaulted                         // The workflow failed, fault detail attached.
	StatusCancelled                       // Cancelled before or during execution.
)

func (s RequestStatus) String() string {
	switch s {
	case StatusReceived:
		return "Received"
	case StatusProcessing:
		return "Processing"
	case StatusCompleted:
		return "Completed"
	case StatusFaulted:
		return "Faulted"
	case StatusCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Done reports whether the status is terminal.
func (s RequestStatus) Done() bool {
	return s == StatusCompleted || s == StatusFaulted || s == StatusCancelled
}

// Request is the body of a request item.
type Request struct {
	RequestId uuid.UUID       `json:"requestId"`
	Created   time.Time       `json:"created"`
	Requester string          `json:"requester,omitempty"`
	Workload  json.RawMessage `json:"workload,omitempty"`
}

// Fault carries structured failure detail on a Faulted result.
type Fault struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Result is the body of a result item. The latest revision for a request id
// supersedes all earlier ones.
type Result struct {
	RequestId uuid.UUID       `json:"requestId"`
	Status    RequestStatus   `json:"status"`
	Submitted time.Time       `json:"submitted"`
	Updated   time.Time       `json:"updated"`
	Fault     *Fault          `json:"fault,omitempty"`
	Outcome   json.RawMessage `json:"outcome,omitempty"`
}

// Cancellation is the body of a cancellation item. Saving one asks the
// owning worker to stop the request's workflow.
type Cancellation struct {
	RequestId uuid.UUID `json:"requestId"`
	Requester string    `json:"requester,omitempty"`
}

// --------------------------------------------------------------------------
// Store Helpers
// --------------------------------------------------------------------------

// SubmitRequest saves a request item into the store, assigning the id and
// creation time if unset. It returns the request id and the item's USN.
func SubmitRequest(s store.IItemStore, req Request) (uuid.UUID, uint64, error) {
	if req.RequestId == uuid.Nil {
		req.RequestId = uuid.New()
	}
	if req.Created.IsZero() {
		req.Created = time.Now()
	}
	body, err := json.Marshal(&req)
	if err != nil {
		return uuid.Nil, 0, store.NewError(store.RetCInternalError, fmt.Sprintf("submit request: %v", err))
	}
	usn, err := s.Save(store.SaveRequest{
		Name:        RequestItemName(req.RequestId),
		Kind:        item.KindObject,
		DataType:    RequestDataType,
		Props:       item.Props{PropRequestId: req.RequestId.String()},
		Body:        body,
		ExpectedUsn: store.AnyUsn,
	})
	if err != nil {
		return uuid.Nil, 0, err
	}
	return req.RequestId, usn, nil
}

// SubmitCancellation saves a cancellation item for the given request id.
func SubmitCancellation(s store.IItemStore, requestId uuid.UUID, requester string) (uint64, error) {
	body, err := json.Marshal(&Cancellation{RequestId: requestId, Requester: requester})
	if err != nil {
		return 0, store.NewError(store.RetCInternalError, fmt.Sprintf("submit cancellation: %v", err))
	}
	return s.Save(store.SaveRequest{
		Name:        CancellationItemName(requestId),
		Kind:        item.KindObject,
		DataType:    CancellationDataType,
		Props:       item.Props{PropRequestId: requestId.String()},
		Body:        body,
		ExpectedUsn: store.AnyUsn,
	})
}

// LoadResult loads and decodes the latest result for a request id,
// or RetCNotFound if no result has been published yet.
func LoadResult(s store.IItemStore, requestId uuid.UUID) (*Result, error) {
	it, err := s.Load(ResultItemName(requestId))
	if err != nil {
		return nil, err
	}
	return decodeResult(it)
}

func decodeRequest(it *item.Item) (*Request, error) {
	var req Request
	if err := json.Unmarshal(it.Body, &req); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("decode request %q: %v", it.Name, err))
	}
	return &req, nil
}

func decodeResult(it *item.Item) (*Result, error) {
	var res Result
	if err := json.Unmarshal(it.Body, &res); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("decode result %q: %v", it.Name, err))
	}
	return &res, nil
}

func decodeCancellation(it *item.Item) (*Cancellation, error) {
	var c Cancellation
	if err := json.Unmarshal(it.Body, &c); err != nil {
		return nil, store.NewError(store.RetCInternalError, fmt.Sprintf("decode cancellation %q: %v", it.Name, err))
	}
	return &c, nil
}
