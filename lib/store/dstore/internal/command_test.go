package internal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderwatt/corecache/lib/item"
)

func TestCommandRoundTrip(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cmds := []Command{
		{
			Type:        CommandTSave,
			Stamp:       stamp,
			Name:        "Trade.1001",
			Kind:        item.KindObject,
			DataType:    "Trade",
			AppScope:    "Highlander.V5",
			Props:       item.Props{"Counterparty": "14859"},
			Body:        []byte(`{"notional":1000000}`),
			ExpectedUsn: 42,
			Expires:     stamp.Add(24 * time.Hour),
		},
		{Type: CommandTDelete, Stamp: stamp, Name: "Trade.1001"},
		{Type: CommandTDeleteWhere, Stamp: stamp, DataType: "Trade", Filter: `{"op":"all"}`},
	}

	for _, want := range cmds {
		t.Run(want.Type.String(), func(t *testing.T) {
			data, err := want.Serialize()
			require.NoError(t, err)

			var got Command
			require.NoError(t, got.Deserialize(data))
			assert.Equal(t, want.Type, got.Type)
			assert.Equal(t, want.Name, got.Name)
			assert.Equal(t, want.DataType, got.DataType)
			assert.Equal(t, want.Props, got.Props)
			assert.Equal(t, want.Body, got.Body)
			assert.Equal(t, want.ExpectedUsn, got.ExpectedUsn)
			assert.Equal(t, want.Filter, got.Filter)
			assert.True(t, want.Stamp.Equal(got.Stamp))
			assert.True(t, want.Expires.Equal(got.Expires))
		})
	}
}

func TestCommandDeserializeRejectsGarbage(t *testing.T) {
	var cmd Command
	assert.Error(t, cmd.Deserialize(nil))
	assert.Error(t, cmd.Deserialize([]byte("not json")))
}

func TestApplyResultRoundTrip(t *testing.T) {
	want := ApplyResult{Usn: 7, Count: 3}
	var got ApplyResult
	require.NoError(t, got.Decode(want.Encode()))
	assert.Equal(t, want, got)
}
