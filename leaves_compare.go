package oactree

func init() {
	RegisterInstructionKind("Equals", func() Instruction { return newCompare("Equals", equalsOp) })
	RegisterInstructionKind("LessThan", func() Instruction { return newCompare("LessThan", lessThanOp) })
	RegisterInstructionKind("LessThanOrEqual", func() Instruction { return newCompare("LessThanOrEqual", lessThanOrEqualOp) })
	RegisterInstructionKind("GreaterThan", func() Instruction { return newCompare("GreaterThan", greaterThanOp) })
	RegisterInstructionKind("GreaterThanOrEqual", func() Instruction { return newCompare("GreaterThanOrEqual", greaterThanOrEqualOp) })
}

type compareOp func(lhs, rhs float64) bool

func equalsOp(a, b float64) bool             { return a == b }
func lessThanOp(a, b float64) bool           { return a < b }
func lessThanOrEqualOp(a, b float64) bool    { return a <= b }
func greaterThanOp(a, b float64) bool        { return a > b }
func greaterThanOrEqualOp(a, b float64) bool { return a >= b }

// Compare evaluates two attribute-resolved values ("lhs", "rhs") with its
// op, succeeding iff the comparison holds (§4.5: Equals/LessThan[OrEqual]/
// GreaterThan[OrEqual] share this one shape).
type Compare struct {
	Base
	op compareOp
}

// NewCompare constructs a comparison leaf of the given registered kind.
func NewCompare(kind string, op compareOp, raw map[string]string) *Compare {
	c := newCompareRaw(kind, op)
	declareAttrs(&c.Base, []attributeSpec{
		{Name: "lhs", Category: CategoryBoth, Mandatory: true},
		{Name: "rhs", Category: CategoryBoth, Mandatory: true},
	}, raw)
	return c
}

func newCompare(kind string, op compareOp) *Compare {
	return NewCompare(kind, op, nil)
}

func newCompareRaw(kind string, op compareOp) *Compare {
	return &Compare{Base: NewBase(kind), op: op}
}

func (c *Compare) Setup(ctx *SetupContext) error { return c.Attributes().Resolve(ctx.Types) }

func (c *Compare) ExecuteSingle(ui UserInterface, ws *Workspace) ExecutionStatus {
	return Tick(&c.Base, ui, c, func() ExecutionStatus {
		lhs, err := c.Attributes().GetAttributeValue("lhs", ws)
		if err != nil {
			return Failure
		}
		rhs, err := c.Attributes().GetAttributeValue("rhs", ws)
		if err != nil {
			return Failure
		}
		if lhs.Kind() == rhs.Kind() && lhs.Equal(rhs) && c.Type() == "Equals" {
			return Success
		}
		lf, err := lhs.AsFloat64()
		if err != nil {
			return Failure
		}
		rf, err := rhs.AsFloat64()
		if err != nil {
			return Failure
		}
		if c.op(lf, rf) {
			return Success
		}
		return Failure
	})
}

func (c *Compare) Halt()             {}
func (c *Compare) Reset()            { c.ResetState() }
func (c *Compare) Children() []Instruction { return nil }
