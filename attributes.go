package oactree

import (
	"fmt"
	"strings"

	"github.com/sup-oac/oactree/value"
)

// AttributeCategory constrains how an attribute's raw string may be
// interpreted: as a literal, as a workspace path, or either (§4.4).
type AttributeCategory uint8

const (
	CategoryValue AttributeCategory = iota
	CategoryVariableName
	CategoryBoth
)

// placeholderSigil marks an attribute value as "fetch from workspace at
// access time" for Value/Both category attributes.
const placeholderSigil = '@'

// attributeSpec is the static declaration an instruction kind registers for
// one of its attributes before Setup runs.
type attributeSpec struct {
	Name      string
	Category  AttributeCategory
	Type      value.Type
	Mandatory bool
}

// attributeEntry is the resolved, Setup-time state of one declared
// attribute: its raw string plus a lazily-parsed literal Value.
type attributeEntry struct {
	spec   attributeSpec
	raw    string
	parsed value.Value
	hasRaw bool
}

// AttributeTable holds the declared and resolved attributes of a single
// instruction instance. Declaration happens at construction; resolution
// happens once during Setup.
type AttributeTable struct {
	order   []string
	entries map[string]*attributeEntry
}

// NewAttributeTable builds an empty table ready to accept declarations.
func NewAttributeTable() *AttributeTable {
	return &AttributeTable{entries: make(map[string]*attributeEntry)}
}

// Declare registers an attribute's shape; raw is the string captured from
// the procedure document ("" if absent).
func (t *AttributeTable) Declare(spec attributeSpec, raw string, present bool) {
	if _, exists := t.entries[spec.Name]; !exists {
		t.order = append(t.order, spec.Name)
	}
	t.entries[spec.Name] = &attributeEntry{spec: spec, raw: raw, hasRaw: present}
}

// Names returns declared attribute names in declaration order.
func (t *AttributeTable) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Resolve walks every declaration, enforcing mandatory presence and category
// rules, and pre-parses literal (non-indirected) values. Called once from
// Setup.
func (t *AttributeTable) Resolve(types *value.TypeRegistry) error {
	for _, name := range t.order {
		e := t.entries[name]
		if !e.hasRaw || e.raw == "" {
			if e.spec.Mandatory {
				return fmt.Errorf("%w: %s", ErrMandatoryAttributeMissing, name)
			}
			continue
		}
		if e.spec.Category == CategoryVariableName && isPlaceholder(e.raw) {
			return fmt.Errorf("%w: %s forbids workspace indirection", ErrAttributeCategoryViolation, name)
		}
		if e.spec.Category != CategoryVariableName && !isPlaceholder(e.raw) && e.spec.Type.Kind != value.KindInvalid {
			v, err := value.FromLiteralString(types, e.spec.Type, e.raw)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrAttributeParse, name, err)
			}
			e.parsed = v
		}
	}
	return nil
}

func isPlaceholder(raw string) bool {
	return len(raw) > 0 && raw[0] == placeholderSigil
}

// GetAttributeString returns the raw declared string for name.
func (t *AttributeTable) GetAttributeString(name string) (string, error) {
	e, ok := t.entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
	}
	return e.raw, nil
}

// SetRaw overwrites the raw declared string for an already-declared
// attribute, used by CloneInstruction to transplant a template's attribute
// values onto a freshly constructed clone before Setup resolves them.
func (t *AttributeTable) SetRaw(name, raw string) {
	e, ok := t.entries[name]
	if !ok {
		return
	}
	e.raw = raw
	e.hasRaw = raw != ""
}

// HasAttribute reports whether name was declared with a non-empty value.
func (t *AttributeTable) HasAttribute(name string) bool {
	e, ok := t.entries[name]
	return ok && e.hasRaw && e.raw != ""
}

// GetAttributeValue resolves name to a Value: workspace indirection for
// Value/Both categories whose raw string carries the placeholder sigil,
// otherwise the pre-parsed literal (§4.4).
func (t *AttributeTable) GetAttributeValue(name string, ws *Workspace) (value.Value, error) {
	e, ok := t.entries[name]
	if !ok {
		return value.Value{}, fmt.Errorf("%w: %s", ErrUnknownAttribute, name)
	}
	if !e.hasRaw || e.raw == "" {
		return value.Value{}, fmt.Errorf("%w: %s", ErrMandatoryAttributeMissing, name)
	}
	if e.spec.Category != CategoryVariableName && isPlaceholder(e.raw) {
		path := strings.TrimPrefix(e.raw, string(placeholderSigil))
		return ws.GetValue(path)
	}
	if e.spec.Category == CategoryVariableName {
		return ws.GetValue(e.raw)
	}
	return e.parsed, nil
}

// SetValueFromAttributeName writes v into the workspace path named by the
// attribute identified by attrName; attrName's category must permit it.
func (t *AttributeTable) SetValueFromAttributeName(ws *Workspace, attrName string, v value.Value) error {
	e, ok := t.entries[attrName]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAttribute, attrName)
	}
	if e.spec.Category == CategoryValue {
		return fmt.Errorf("%w: %s is Value-category, cannot be a write target", ErrAttributeCategoryViolation, attrName)
	}
	path := e.raw
	if isPlaceholder(path) {
		path = strings.TrimPrefix(path, string(placeholderSigil))
	}
	return ws.SetValue(path, v)
}

// InitialisePlaceholderAttributes walks instr and its descendants, replacing
// any attribute string beginning with the placeholder sigil with the value
// looked up by the same name (sans sigil) in replacements. Used by Include
// to parameterise cloned subtrees with the including node's own attributes.
func InitialisePlaceholderAttributes(instr Instruction, replacements map[string]string) {
	table := instr.Attributes()
	for _, name := range table.order {
		e := table.entries[name]
		if !e.hasRaw || !isPlaceholder(e.raw) {
			continue
		}
		key := strings.TrimPrefix(e.raw, string(placeholderSigil))
		if v, ok := replacements[key]; ok {
			e.raw = v
		}
	}
	for _, child := range instr.Children() {
		InitialisePlaceholderAttributes(child, replacements)
	}
}
