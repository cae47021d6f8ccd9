package expr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alexanderwatt/corecache/lib/item"
)

// --------------------------------------------------------------------------
// Reserved Property Names
// --------------------------------------------------------------------------

// System properties injected by MatchItem so that expressions can filter on
// item metadata as well as on application properties.
const (
	SysPropItemName = "ItemName"
	SysPropDataType = "DataType"
	SysPropAppScope = "AppScope"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IExpression is an immutable, composable predicate evaluated against an
// item property bag. Expressions are pure: evaluating the same expression
// against the same bag always yields the same result, and evaluation never
// fails - a missing property is a non-match, not an error.
type IExpression interface {
	// Evaluate returns whether the property bag satisfies the predicate.
	Evaluate(props item.Props) bool
	// String returns a human-readable rendering of the expression.
	String() string

	// encode converts the expression into its wire node form.
	encode() node
}

// MatchItem evaluates an expression against an item, exposing the item's
// metadata (name, data type, app scope) as system properties alongside the
// application property bag.
func MatchItem(e IExpression, it *item.Item) bool {
	props := make(item.Props, len(it.Props)+3)
	for k, v := range it.Props {
		props[k] = v
	}
	props[SysPropItemName] = it.Name
	props[SysPropDataType] = it.DataType
	props[SysPropAppScope] = it.AppScope
	return e.Evaluate(props)
}

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// All returns the expression that matches every item.
func All() IExpression {
	return allExpr{}
}

// Equals returns an expression matching items whose property propName is
// present and equal to value.
func Equals(propName, value string) IExpression {
	return equalsExpr{prop: propName, value: value}
}

// StartsWith returns an expression matching items whose property propName
// is present and starts with the given prefix. The comparison ignores case.
func StartsWith(propName, prefix string) IExpression {
	return startsExpr{prop: propName, prefix: prefix}
}

// NameStartsWith returns an expression matching items whose name starts with
// the given prefix.
func NameStartsWith(prefix string) IExpression {
	return StartsWith(SysPropItemName, prefix)
}

// And returns the boolean conjunction of the given expressions. Evaluation
// is left-to-right and stops at the first non-match. And() with no arguments
// matches everything.
func And(args ...IExpression) IExpression {
	// flatten to keep the tree shallow
	flat := make([]IExpression, 0, len(args))
	for _, a := range args {
		if inner, ok := a.(andExpr); ok {
			flat = append(flat, inner.args...)
			continue
		}
		flat = append(flat, a)
	}
	return andExpr{args: flat}
}

// --------------------------------------------------------------------------
// Leaf and Combinator Implementations
// --------------------------------------------------------------------------

type allExpr struct{}

func (allExpr) Evaluate(item.Props) bool { return true }
func (allExpr) String() string           { return "ALL" }
func (allExpr) encode() node             { return node{Op: opAll} }

type equalsExpr struct {
	prop  string
	value string
}

func (e equalsExpr) Evaluate(props item.Props) bool {
	v, ok := props.Get(e.prop)
	return ok && v == e.value
}

func (e equalsExpr) String() string {
	return fmt.Sprintf("%s == %q", e.prop, e.value)
}

func (e equalsExpr) encode() node {
	return node{Op: opEquals, Prop: e.prop, Value: e.value}
}

type startsExpr struct {
	prop   string
	prefix string
}

func (e startsExpr) Evaluate(props item.Props) bool {
	v, ok := props.Get(e.prop)
	if !ok || len(v) < len(e.prefix) {
		return false
	}
	return strings.EqualFold(v[:len(e.prefix)], e.prefix)
}

func (e startsExpr) String() string {
	return fmt.Sprintf("%s starts-with %q", e.prop, e.prefix)
}

func (e startsExpr) encode() node {
	return node{Op: opStarts, Prop: e.prop, Value: e.prefix}
}

type andExpr struct {
	args []IExpression
}

func (e andExpr) Evaluate(props item.Props) bool {
	for _, a := range e.args {
		if !a.Evaluate(props) {
			return false
		}
	}
	return true
}

func (e andExpr) String() string {
	parts := make([]string, len(e.args))
	for i, a := range e.args {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

func (e andExpr) encode() node {
	args := make([]node, len(e.args))
	for i, a := range e.args {
		args[i] = a.encode()
	}
	return node{Op: opAnd, Args: args}
}

// --------------------------------------------------------------------------
// Wire Format
// --------------------------------------------------------------------------

// Expression trees travel inside protocol messages as a compact JSON node
// tree. The format is stable: op codes are never renumbered or reused.
const (
	opAll    = "all"
	opEquals = "equ"
	opStarts = "starts"
	opAnd    = "and"
)

type node struct {
	Op    string `json:"op"`
	Prop  string `json:"prop,omitempty"`
	Value string `json:"value,omitempty"`
	Args  []node `json:"args,omitempty"`
}

// Serialise encodes an expression for transport. A nil expression encodes
// as the match-all expression.
func Serialise(e IExpression) string {
	if e == nil {
		e = All()
	}
	b, err := json.Marshal(e.encode())
	if err != nil {
		// node trees contain only strings and slices; this cannot happen
		panic(err)
	}
	return string(b)
}

// Parse decodes an expression previously produced by Serialise. An empty
// string parses as the match-all expression. Malformed input yields an
// error wrapping ErrInvalidFilter.
func Parse(s string) (IExpression, error) {
	if s == "" {
		return All(), nil
	}
	var n node
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilter, err)
	}
	return decode(n)
}

func decode(n node) (IExpression, error) {
	switch n.Op {
	case opAll:
		return All(), nil
	case opEquals:
		if n.Prop == "" {
			return nil, fmt.Errorf("%w: equ node without property name", ErrInvalidFilter)
		}
		return Equals(n.Prop, n.Value), nil
	case opStarts:
		if n.Prop == "" {
			return nil, fmt.Errorf("%w: starts node without property name", ErrInvalidFilter)
		}
		return StartsWith(n.Prop, n.Value), nil
	case opAnd:
		args := make([]IExpression, 0, len(n.Args))
		for _, a := range n.Args {
			sub, err := decode(a)
			if err != nil {
				return nil, err
			}
			args = append(args, sub)
		}
		return And(args...), nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidFilter, n.Op)
	}
}
