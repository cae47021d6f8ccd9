package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderwatt/corecache/lib/item"
)

func TestAllMatchesEverything(t *testing.T) {
	assert.True(t, All().Evaluate(nil))
	assert.True(t, All().Evaluate(item.Props{"a": "b"}))
	assert.True(t, And().Evaluate(nil))
}

func TestEquals(t *testing.T) {
	e := Equals("Market", "EOD")

	assert.True(t, e.Evaluate(item.Props{"Market": "EOD"}))
	assert.False(t, e.Evaluate(item.Props{"Market": "LIVE"}))
	assert.False(t, e.Evaluate(item.Props{"Other": "EOD"}), "missing property must not match")
	assert.False(t, e.Evaluate(nil))
}

func TestStartsWith(t *testing.T) {
	e := StartsWith("ItemName", "ns.trade.")

	assert.True(t, e.Evaluate(item.Props{"ItemName": "ns.trade.T1"}))
	assert.True(t, e.Evaluate(item.Props{"ItemName": "NS.Trade.T1"}), "prefix match ignores case")
	assert.False(t, e.Evaluate(item.Props{"ItemName": "ns.curve.AUD"}))
	assert.False(t, e.Evaluate(item.Props{"ItemName": "ns"}), "value shorter than prefix")
	assert.False(t, e.Evaluate(nil), "missing property must not match")
}

// probeExpr records whether it was evaluated, to verify AND short-circuiting.
type probeExpr struct {
	result bool
	hits   *int
}

func (p probeExpr) Evaluate(item.Props) bool { *p.hits++; return p.result }
func (p probeExpr) String() string           { return "probe" }
func (p probeExpr) encode() node             { return node{Op: opAll} }

func TestAndShortCircuits(t *testing.T) {
	var first, second int
	e := And(probeExpr{false, &first}, probeExpr{true, &second})

	assert.False(t, e.Evaluate(nil))
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second, "right-hand side must not be evaluated after a non-match")
}

func TestEvaluateIsPure(t *testing.T) {
	e := And(NameStartsWith("ns."), Equals("Market", "EOD"))
	props := item.Props{"ItemName": "ns.trade.T1", "Market": "EOD"}
	for i := 0; i < 10; i++ {
		assert.True(t, e.Evaluate(props))
	}
}

func TestMatchItemExposesMetadata(t *testing.T) {
	it := &item.Item{
		Name:     "ns.trade.T1",
		DataType: "Trade",
		AppScope: "demo",
		Props:    item.Props{"Counterparty": "13142"},
	}

	assert.True(t, MatchItem(NameStartsWith("ns.trade."), it))
	assert.True(t, MatchItem(Equals(SysPropDataType, "Trade"), it))
	assert.True(t, MatchItem(Equals("Counterparty", "13142"), it))
	assert.False(t, MatchItem(NameStartsWith("ns.curve."), it))
}

func TestSerialiseParseRoundTrip(t *testing.T) {
	exprs := []IExpression{
		All(),
		Equals("Market", "EOD"),
		StartsWith("ItemName", "ns.trade."),
		And(NameStartsWith("ns."), Equals("Market", "EOD"), All()),
	}
	props := item.Props{"ItemName": "ns.trade.T1", "Market": "EOD"}

	for _, e := range exprs {
		parsed, err := Parse(Serialise(e))
		require.NoError(t, err)
		assert.Equal(t, e.Evaluate(props), parsed.Evaluate(props), "round-trip changed semantics for %s", e)
		assert.Equal(t, e.Evaluate(nil), parsed.Evaluate(nil))
	}
}

func TestParseEmptyIsAll(t *testing.T) {
	e, err := Parse("")
	require.NoError(t, err)
	assert.True(t, e.Evaluate(nil))
}

func TestParseRejectsMalformedInput(t *testing.T) {
	for _, s := range []string{
		"{not json",
		`{"op":"xor"}`,
		`{"op":"equ"}`,
		`{"op":"starts"}`,
		`{"op":"and","args":[{"op":"nope"}]}`,
	} {
		_, err := Parse(s)
		require.Error(t, err, "input %q", s)
		assert.ErrorIs(t, err, ErrInvalidFilter)
	}
}
