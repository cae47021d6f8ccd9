package store

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/expr"
	"github.com/alexanderwatt/corecache/lib/item"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// AnyUsn disables the optimistic concurrency check on Save.
const AnyUsn uint64 = ^uint64(0)

// SaveRequest describes one Save operation. Name, DataType and Body are
// required; everything else is optional.
type SaveRequest struct {
	Name     string
	Kind     item.Kind
	DataType string
	AppScope string
	Props    item.Props
	Body     []byte

	// ExpectedUsn enables optimistic concurrency: the save fails with
	// RetCConcurrencyConflict unless the item's current USN matches.
	// AnyUsn (the zero SaveRequest does NOT default to this - set it
	// explicitly or use NewSaveRequest) skips the check.
	ExpectedUsn uint64

	// Expires schedules the revision to drop out of default reads after
	// the given time. Zero means never.
	Expires time.Time
}

// NewSaveRequest returns a SaveRequest with the concurrency check disabled.
func NewSaveRequest(name, dataType string, body []byte, props item.Props) SaveRequest {
	return SaveRequest{
		Name:        name,
		Kind:        item.KindObject,
		DataType:    dataType,
		Props:       props,
		Body:        body,
		ExpectedUsn: AnyUsn,
	}
}

// Query describes a filtered read over the store. The zero value selects
// every live object item.
type Query struct {
	Kind           item.Kind        // KindUndefined = any kind
	DataType       string           // "" = any data type
	Filter         expr.IExpression // nil = match all
	MinimumUsn     uint64           // only revisions with USN > MinimumUsn (delta sync)
	AsAtTime       time.Time        // zero = latest state; otherwise state as of this instant
	IncludeDeleted bool             // include tombstone revisions
	ExcludeBody    bool             // return metadata only
	StartRow       int              // paging offset
	RowCount       int              // page size; 0 = unbounded
}

// ChangeHandler receives every committed Save/Delete revision. The store
// invokes it synchronously before returning to the caller, so handlers must
// be fast and must not call back into the store.
type ChangeHandler func(it *item.Item)

// IItemStore is the contract of the item cache. All write operations return
// the USN assigned to the new revision; read operations return snapshots
// that callers must treat as immutable.
type IItemStore interface {
	// Save inserts a new revision of the named item and returns its USN.
	// First-time names always succeed (regardless of ExpectedUsn, which
	// only guards revisions of existing items).
	Save(req SaveRequest) (usn uint64, err error)

	// Load returns the latest live (not deleted, not expired) revision of
	// the named item, or RetCNotFound.
	Load(name string) (*item.Item, error)

	// LoadById returns the specific historical revision with the given id,
	// including deleted and superseded revisions (time travel).
	LoadById(id uuid.UUID) (*item.Item, error)

	// Select returns every revision matching the query, ordered by USN
	// ascending.
	Select(q Query) ([]*item.Item, error)

	// Delete marks the latest revision of the named item deleted by
	// appending a tombstone revision, and returns the tombstone's USN.
	// Deleting an unknown or already-deleted name returns RetCNotFound.
	Delete(name string) (usn uint64, err error)

	// DeleteWhere tombstones every live item matching the data type and
	// filter, returning the number of items deleted.
	DeleteWhere(dataType string, filter expr.IExpression) (count int, err error)

	// SetWatcher registers the change handler. At most one watcher is
	// supported; it must be registered before concurrent use begins.
	SetWatcher(h ChangeHandler)
}

// ISnapshotter is implemented by stores that can serialize their full
// revision history, e.g. for raft snapshotting.
type ISnapshotter interface {
	// SaveSnapshot writes the complete revision log to w.
	SaveSnapshot(w io.Writer) error

	// LoadSnapshot replaces the store's contents with a previously saved
	// snapshot. Must not be called concurrently with other operations.
	LoadSnapshot(r io.Reader) error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is the typed error returned by all store operations, wrapping a
// return code and a message. The code travels over the wire so remote
// callers observe the same taxonomy as local ones.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("ItemStoreError (%s): %s", e.Code, e.Msg)
}

// NewError creates a new store Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// CodeOf extracts the return code from an error. Non-store errors map to
// RetCInternalError; nil maps to RetCSuccess.
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	if errors.Is(err, expr.ErrInvalidFilter) {
		return RetCInvalidFilter
	}
	return RetCInternalError
}

// IsNotFound reports whether the error carries RetCNotFound.
func IsNotFound(err error) bool { return CodeOf(err) == RetCNotFound }

// IsConcurrencyConflict reports whether the error carries RetCConcurrencyConflict.
func IsConcurrencyConflict(err error) bool { return CodeOf(err) == RetCConcurrencyConflict }

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess             RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                      // 1: Operation failed due to an internal error.
	RetCConcurrencyConflict                // 2: Save rejected, expected USN is stale.
	RetCNotFound                           // 3: Unknown name, id or subscription.
	RetCInvalidFilter                      // 4: Malformed filter expression.
	RetCStaleReply                         // 5: Reply to an unknown or expired request id.
	RetCWorkflowFault                      // 6: Exception during request processing.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCConcurrencyConflict:
		return "ConcurrencyConflict"
	case RetCNotFound:
		return "NotFound"
	case RetCInvalidFilter:
		return "InvalidFilter"
	case RetCStaleReply:
		return "StaleReply"
	case RetCWorkflowFault:
		return "WorkflowFault"
	default:
		return "Unknown"
	}
}
