package internal

import (
	"github.com/google/uuid"

	"github.com/alexanderwatt/corecache/lib/store"
)

// QueryType defines the possible read-only queries for the state machine.
type QueryType uint8

const (
	QueryTLoad     QueryType = iota // Load the latest live revision by name.
	QueryTLoadById                  // Load a historical revision by id.
	QueryTSelect                    // Run a filtered query over the store.
)

func (q QueryType) String() string {
	switch q {
	case QueryTLoad:
		return "Load"
	case QueryTLoadById:
		return "LoadById"
	case QueryTSelect:
		return "Select"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests sent via SyncRead. It is
// handed to the state machine in-process, so it carries the live filter
// expression instead of a serialized form.
type Query struct {
	Type QueryType
	Name string      // for QueryTLoad
	Id   uuid.UUID   // for QueryTLoadById
	Sel  store.Query // for QueryTSelect
}
