package expr

// Node is one element of the parsed expression tree. The grammar is
// closed: literals, identifier paths, unary/binary operators over a fixed
// set, and calls to a fixed set of pure functions (spec §4.3).
type Node interface{ isNode() }

type NumberLit struct{ Value float64 }
type StringLit struct{ Value string }
type BoolLit struct{ Value bool }

// IdentPath is a dotted identifier, e.g. "status.code" resolved against
// the evaluation Context.
type IdentPath struct{ Parts []string }

type UnaryOp struct {
	Op   string // "-" or "not"
	Expr Node
}

type BinaryOp struct {
	Op          string // +,-,*,/,==,!=,<,<=,>,>=,and,or
	Left, Right Node
}

// Call is an invocation of one of the fixed pure functions: status(), now(),
// elapsed(), count(), has().
type Call struct {
	Name string
	Args []Node
}

func (NumberLit) isNode() {}
func (StringLit) isNode() {}
func (BoolLit) isNode()   {}
func (IdentPath) isNode() {}
func (UnaryOp) isNode()   {}
func (BinaryOp) isNode()  {}
func (Call) isNode()      {}
