package oactree

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sup-oac/oactree/value"
)

const (
	defaultTickTimeout    = 100 * time.Millisecond
	defaultTimingAccuracy = 50 * time.Millisecond
)

// PreambleTypeDecl is one "register this named type" record carried by a
// procedure's preamble (§3 "Procedure").
type PreambleTypeDecl struct {
	Name string
	Type value.Type
}

// ProcedureOption customises a Procedure at construction, mirroring the
// functional-options pattern used throughout this package.
type ProcedureOption func(*Procedure)

// WithWorkspace overrides the default empty Workspace.
func WithWorkspace(ws *Workspace) ProcedureOption {
	return func(p *Procedure) {
		if ws != nil {
			p.workspace = ws
		}
	}
}

// WithTypeRegistry overrides the default empty TypeRegistry.
func WithTypeRegistry(reg *value.TypeRegistry) ProcedureOption {
	return func(p *Procedure) {
		if reg != nil {
			p.types = reg
		}
	}
}

// WithInstructionRegistry overrides the default (process-wide) instruction
// registry, mainly useful for tests that need an isolated catalogue.
func WithInstructionRegistry(reg *InstructionRegistry) ProcedureOption {
	return func(p *Procedure) {
		if reg != nil {
			p.instrs = reg
		}
	}
}

// WithRoots sets the top-level instructions; the first one is root unless
// WithRootIndex overrides the selection.
func WithRoots(roots ...Instruction) ProcedureOption {
	return func(p *Procedure) {
		p.roots = roots
	}
}

// WithRootIndex selects which of the top-level instructions executes when
// more than one is present (§3: "exactly one is flagged root").
func WithRootIndex(i int) ProcedureOption {
	return func(p *Procedure) { p.rootIndex = i }
}

// WithFilePath records the procedure's own source path, used to resolve
// relative Include* references.
func WithFilePath(path string) ProcedureOption {
	return func(p *Procedure) { p.filePath = path }
}

// WithPreamble attaches type-registration records applied idempotently
// during Setup.
func WithPreamble(decls ...PreambleTypeDecl) ProcedureOption {
	return func(p *Procedure) { p.preamble = decls }
}

// WithName overrides GetProcedureName's fallback-to-path behaviour.
func WithName(name string) ProcedureOption {
	return func(p *Procedure) { p.name = name }
}

// WithTemplates registers named subtrees that Include/IncludeProcedure
// nodes elsewhere in this procedure (or in a procedure that includes it)
// may clone by name (§4.5 "Include").
func WithTemplates(templates map[string]Instruction) ProcedureOption {
	return func(p *Procedure) {
		for name, instr := range templates {
			p.templates[name] = instr
		}
	}
}

// Procedure is the top-level container: an ordered set of root candidate
// instructions (one selected as the execution root), an owned Workspace, an
// attribute table (tickTimeout, timingAccuracy), a type preamble, and a
// lazily populated cache of included sub-procedures (§3, §4.8).
type Procedure struct {
	mu sync.Mutex

	name      string
	filePath  string
	roots     []Instruction
	rootIndex int

	workspace *Workspace
	types     *value.TypeRegistry
	instrs    *InstructionRegistry
	attrs     *AttributeTable
	preamble  []PreambleTypeDecl

	subProcedures map[string]*Procedure
	templates     map[string]Instruction

	tickTimeout    time.Duration
	timingAccuracy time.Duration
}

// NewProcedure builds a procedure with default (empty) workspace and
// registries, applying opts in order.
func NewProcedure(opts ...ProcedureOption) *Procedure {
	p := &Procedure{
		workspace:      NewWorkspace(),
		types:          value.NewTypeRegistry(),
		instrs:         DefaultInstructionRegistry,
		attrs:          NewAttributeTable(),
		subProcedures:  make(map[string]*Procedure),
		templates:      make(map[string]Instruction),
		tickTimeout:    defaultTickTimeout,
		timingAccuracy: defaultTimingAccuracy,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Workspace exposes the owned workspace.
func (p *Procedure) Workspace() *Workspace { return p.workspace }

// Types exposes the owned type registry.
func (p *Procedure) Types() *value.TypeRegistry { return p.types }

// Instructions exposes the instruction registry consulted for Include*.
func (p *Procedure) Instructions() *InstructionRegistry { return p.instrs }

// Attributes exposes the procedure-level attribute table (tickTimeout,
// timingAccuracy, name, ...).
func (p *Procedure) Attributes() *AttributeTable { return p.attrs }

// TickTimeout returns the clamped root-tick cadence (§4.7, default 100ms).
func (p *Procedure) TickTimeout() time.Duration { return p.tickTimeout }

// TimingAccuracy returns the clamped blocking-leaf poll quantum (§4.6).
func (p *Procedure) TimingAccuracy() time.Duration { return p.timingAccuracy }

// SetCadence overrides the tick/polling cadence, clamping both to (0, 60s]
// per §6.
func (p *Procedure) SetCadence(tick, accuracy time.Duration, ui UserInterface) {
	p.tickTimeout = clampCadence(tick, defaultTickTimeout, "tickTimeout", ui)
	p.timingAccuracy = clampCadence(accuracy, defaultTimingAccuracy, "timingAccuracy", ui)
}

// Root returns the selected execution root.
func (p *Procedure) Root() (Instruction, error) {
	if p.rootIndex < 0 || p.rootIndex >= len(p.roots) {
		return nil, fmt.Errorf("oactree: root index %d out of range (%d candidates)", p.rootIndex, len(p.roots))
	}
	return p.roots[p.rootIndex], nil
}

// Template returns the named subtree registered via WithTemplates, for
// Include/IncludeProcedure to clone.
func (p *Procedure) Template(name string) (Instruction, error) {
	t, ok := p.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrIncludeNotFound, name)
	}
	return t, nil
}

// GetProcedureName returns the name attribute if set, else the file path.
func (p *Procedure) GetProcedureName() string {
	if p.name != "" {
		return p.name
	}
	return p.filePath
}

// ResolveRelativePath joins filename against the procedure's own directory
// unless filename is already absolute (§4.8).
func ResolveRelativePath(p *Procedure, filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(filepath.Dir(p.filePath), filename)
}

// SubProcedure returns the cached sub-procedure for absPath, loading it via
// load on a cache miss. Concurrent callers requesting the same path block
// behind the same load.
func (p *Procedure) SubProcedure(absPath string, load func(string) (*Procedure, error)) (*Procedure, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub, ok := p.subProcedures[absPath]; ok {
		return sub, nil
	}
	sub, err := load(absPath)
	if err != nil {
		return nil, err
	}
	p.subProcedures[absPath] = sub
	return sub, nil
}

// Setup applies the preamble, sets up the workspace, then recursively sets
// up every root instruction (§4.8). Include* resolution happens inside each
// instruction's own Setup, which receives this procedure via SetupContext.
func (p *Procedure) Setup() error {
	for _, decl := range p.preamble {
		if err := p.types.Register(decl.Name, decl.Type); err != nil {
			return fmt.Errorf("oactree: preamble type %q: %w", decl.Name, err)
		}
	}
	if err := p.workspace.Setup(p.types); err != nil {
		return err
	}
	ctx := &SetupContext{Workspace: p.workspace, Types: p.types, Instrs: p.instrs, Procedure: p}
	for _, root := range p.roots {
		if err := root.Setup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset tears down every live root instruction (joining any asynchronously
// running subtrees) before tearing down the workspace (§4.8).
func (p *Procedure) Reset() {
	for _, root := range p.roots {
		root.Reset()
	}
	p.workspace.Teardown()
}
