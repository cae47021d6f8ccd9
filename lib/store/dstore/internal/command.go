package internal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexanderwatt/corecache/lib/item"
)

// CommandType defines the possible write operations for the state machine.
type CommandType uint8

const (
	CommandTSave        CommandType = iota // Append a new revision of an item.
	CommandTDelete                         // Tombstone the latest revision of a named item.
	CommandTDeleteWhere                    // Tombstone every live item matching a filter.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTSave:
		return "Save"
	case CommandTDelete:
		return "Delete"
	case CommandTDeleteWhere:
		return "DeleteWhere"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// Command represents a write to be executed by the state machine (a single
// entry in the raft log). The proposer stamps it with its wall clock so all
// replicas record the same revision timestamp.
type Command struct {
	Type  CommandType `json:"op"`
	Stamp time.Time   `json:"ts"`

	// Save fields
	Name        string     `json:"name,omitempty"`
	Kind        item.Kind  `json:"kind,omitempty"`
	DataType    string     `json:"dataType,omitempty"`
	AppScope    string     `json:"appScope,omitempty"`
	Props       item.Props `json:"props,omitempty"`
	Body        []byte     `json:"body,omitempty"`
	ExpectedUsn uint64     `json:"expectedUsn"`
	Expires     time.Time  `json:"expires,omitempty"`

	// DeleteWhere fields (Name and DataType are shared with Save/Delete)
	Filter string `json:"filter,omitempty"`
}

// Serialize marshals the command as JSON for the raft log.
func (command *Command) Serialize() ([]byte, error) {
	data, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("serialize command: %w", err)
	}
	return data, nil
}

// Deserialize extracts all Command fields from a raft log entry.
func (command *Command) Deserialize(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty command")
	}
	if err := json.Unmarshal(data, command); err != nil {
		return fmt.Errorf("deserialize command: %w", err)
	}
	return nil
}

// ApplyResult travels back to the proposer in the raft entry result. Exactly
// one of Usn or Count is meaningful, depending on the command type.
type ApplyResult struct {
	Usn   uint64 `json:"usn,omitempty"`
	Count int    `json:"count,omitempty"`
}

// Encode marshals the result for sm.Result.Data.
func (r *ApplyResult) Encode() []byte {
	data, _ := json.Marshal(r)
	return data
}

// Decode unmarshals the result from sm.Result.Data.
func (r *ApplyResult) Decode(data []byte) error {
	return json.Unmarshal(data, r)
}
