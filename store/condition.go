package store

import (
	"fmt"
	"strings"
)

type Op int

const (
	OpNotExists Op = iota + 1
	OpLessThan
)

func (o Op) String() string {
	switch o {
	case OpNotExists:
		return "attribute_not_exists"
	case OpLessThan:
		return "<"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Clause is a single primitive test on one attribute of the stored row.
type Clause struct {
	Op    Op
	Attr  string
	Value int64
}

// Condition is a disjunction of clauses. The zero Condition never holds.
type Condition struct {
	clauses []Clause
}

// AttributeNotExists holds when the stored row lacks attr. Applied to the
// partition key it holds iff no row exists.
func AttributeNotExists(attr string) Condition {
	return Condition{clauses: []Clause{{Op: OpNotExists, Attr: attr}}}
}

// LessThan holds when the stored numeric attr is strictly less than value.
func LessThan(attr string, value int64) Condition {
	return Condition{clauses: []Clause{{Op: OpLessThan, Attr: attr, Value: value}}}
}

// Or returns a condition that holds when either c or other holds.
func (c Condition) Or(other Condition) Condition {
	clauses := make([]Clause, 0, len(c.clauses)+len(other.clauses))
	clauses = append(clauses, c.clauses...)
	clauses = append(clauses, other.clauses...)
	return Condition{clauses: clauses}
}

func (c Condition) Clauses() []Clause {
	out := make([]Clause, len(c.clauses))
	copy(out, c.clauses)
	return out
}

func (c Condition) IsZero() bool {
	return len(c.clauses) == 0
}

// Eval evaluates the condition against rec. A nil rec means no row exists.
func (c Condition) Eval(rec *Record) bool {
	for _, cl := range c.clauses {
		if cl.eval(rec) {
			return true
		}
	}
	return false
}

func (cl Clause) eval(rec *Record) bool {
	if rec == nil {
		// Every attribute is missing, and a comparison against a missing
		// attribute is false.
		return cl.Op == OpNotExists
	}
	switch cl.Op {
	case OpNotExists:
		return !hasAttr(cl.Attr)
	case OpLessThan:
		v, ok := numericAttr(rec, cl.Attr)
		return ok && v < cl.Value
	}
	return false
}

func (c Condition) String() string {
	if len(c.clauses) == 0 {
		return "false"
	}
	parts := make([]string, 0, len(c.clauses))
	for _, cl := range c.clauses {
		switch cl.Op {
		case OpNotExists:
			parts = append(parts, fmt.Sprintf("attribute_not_exists(%s)", cl.Attr))
		case OpLessThan:
			parts = append(parts, fmt.Sprintf("%s < %d", cl.Attr, cl.Value))
		default:
			parts = append(parts, cl.Op.String())
		}
	}
	return strings.Join(parts, " OR ")
}

func hasAttr(attr string) bool {
	return attr == AttrName || attr == AttrSequenceNumber
}

func numericAttr(rec *Record, attr string) (int64, bool) {
	if attr == AttrSequenceNumber {
		return rec.SequenceNumber, true
	}
	return 0, false
}
