package hl7

import (
	"strconv"
	"strings"
	"sync"

	"hie/internal/apperror"
)

const (
	fieldSep     = '|'
	componentSep = '^'
	subCompSep   = '&'
	repeatSep    = '~'
)

// ParsedView is a lazy, schema-bound view over one HL7 message's raw bytes.
// It never mutates raw; SetField produces a new byte slice instead.
type ParsedView struct {
	raw    []byte
	schema *Schema

	mu       sync.Mutex
	parsed   bool
	segments map[string][][]string // segment name -> occurrences -> field tokens (raw, "|"-split)
	order    []segmentOccurrence   // segments in wire order, for SetField's re-serialisation
	cache    map[string]string
}

type segmentOccurrence struct {
	name   string
	tokens []string
}

// NewParsedView constructs a lazy view over raw, bound to schema.
func NewParsedView(raw []byte, schema *Schema) *ParsedView {
	return &ParsedView{raw: raw, schema: schema}
}

// Raw returns the original, unmodified message bytes.
func (v *ParsedView) Raw() []byte { return v.raw }

// Schema returns the schema this view was parsed against.
func (v *ParsedView) Schema() *Schema { return v.schema }

// ensureParsed splits raw into segments on first access. Purely structural:
// no field defaults or validation happen here.
func (v *ParsedView) ensureParsed() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.parsed {
		return
	}

	text := strings.ReplaceAll(string(v.raw), "\n", "\r")
	lines := strings.Split(text, "\r")

	v.segments = make(map[string][][]string)
	v.order = make([]segmentOccurrence, 0, len(lines))
	v.cache = make(map[string]string)

	for _, line := range lines {
		if line == "" {
			continue
		}
		name := line
		if idx := strings.IndexByte(line, fieldSep); idx >= 0 {
			name = line[:idx]
		} else if len(line) >= 3 {
			name = line[:3]
		}
		tokens := strings.Split(line, string(fieldSep))
		v.segments[name] = append(v.segments[name], tokens)
		v.order = append(v.order, segmentOccurrence{name: name, tokens: tokens})
	}

	v.parsed = true
}

// GetSegment returns the field tokens of the first occurrence of name, or
// nil if the segment isn't present.
func (v *ParsedView) GetSegment(name string) []string {
	v.ensureParsed()
	v.mu.Lock()
	defer v.mu.Unlock()
	occs := v.segments[name]
	if len(occs) == 0 {
		return nil
	}
	return occs[0]
}

// GetMessageType returns MSH-9 (e.g. "ADT^A01" normalized to "ADT_A01"),
// or "" if MSH or MSH-9 is absent.
func (v *ParsedView) GetMessageType() string {
	raw := v.GetField("MSH-9", "")
	if raw == "" {
		return ""
	}
	return strings.ReplaceAll(raw, string(componentSep), "_")
}

// fieldPath is a parsed SEGMENT(occurrence)-field.component.sub reference.
type fieldPath struct {
	segment    string
	occurrence int // 1-indexed, defaults to 1
	position   int
	component  int // 0 means "whole field"
	subComp    int // 0 means "whole component"
}

// parsePath parses the path grammar used by GetField/SetField:
// SEGMENT(occurrence)-field[.component[.sub]].
func parsePath(path string) (fieldPath, bool) {
	dash := strings.IndexByte(path, '-')
	if dash < 0 {
		return fieldPath{}, false
	}
	head, tail := path[:dash], path[dash+1:]

	fp := fieldPath{occurrence: 1}

	if open := strings.IndexByte(head, '('); open >= 0 {
		close := strings.IndexByte(head, ')')
		if close < open {
			return fieldPath{}, false
		}
		occ, err := strconv.Atoi(head[open+1 : close])
		if err != nil || occ < 1 {
			return fieldPath{}, false
		}
		fp.segment = head[:open]
		fp.occurrence = occ
	} else {
		fp.segment = head
	}
	if fp.segment == "" {
		return fieldPath{}, false
	}

	parts := strings.Split(tail, ".")
	pos, err := strconv.Atoi(parts[0])
	if err != nil || pos < 1 {
		return fieldPath{}, false
	}
	fp.position = pos

	if len(parts) > 1 {
		comp, err := strconv.Atoi(parts[1])
		if err != nil || comp < 1 {
			return fieldPath{}, false
		}
		fp.component = comp
	}
	if len(parts) > 2 {
		sub, err := strconv.Atoi(parts[2])
		if err != nil || sub < 1 {
			return fieldPath{}, false
		}
		fp.subComp = sub
	}

	return fp, true
}

// rawToken returns the unsplit field token at fp's position for the given
// segment occurrence's tokens, honoring MSH's field-separator special case
// (MSH-1 is the separator itself; MSH-n for n>=2 is tokens[n-1]).
func rawToken(segmentName string, tokens []string, position int) (string, bool) {
	if segmentName == "MSH" {
		if position == 1 {
			return string(fieldSep), true
		}
		idx := position - 1
		if idx < 0 || idx >= len(tokens) {
			return "", false
		}
		return tokens[idx], true
	}

	if position < 0 || position >= len(tokens) {
		return "", false
	}
	return tokens[position], true
}

// GetField resolves path against the message and returns its value, or
// def if the field is absent. Decoded values are cached by path.
func (v *ParsedView) GetField(path string, def string) string {
	v.ensureParsed()

	v.mu.Lock()
	if cached, ok := v.cache[path]; ok {
		v.mu.Unlock()
		return cached
	}
	v.mu.Unlock()

	fp, ok := parsePath(path)
	if !ok {
		return def
	}

	v.mu.Lock()
	occs := v.segments[fp.segment]
	v.mu.Unlock()
	if fp.occurrence > len(occs) {
		return def
	}
	tokens := occs[fp.occurrence-1]

	token, ok := rawToken(fp.segment, tokens, fp.position)
	if !ok {
		return def
	}

	value := token
	if fp.component > 0 {
		comps := strings.Split(token, string(componentSep))
		if fp.component > len(comps) {
			return def
		}
		value = comps[fp.component-1]

		if fp.subComp > 0 {
			subs := strings.Split(value, string(subCompSep))
			if fp.subComp > len(subs) {
				return def
			}
			value = subs[fp.subComp-1]
		}
	}

	if value == "" {
		return def
	}

	v.mu.Lock()
	v.cache[path] = value
	v.mu.Unlock()
	return value
}

// HasField reports whether path resolves to a non-empty value.
func (v *ParsedView) HasField(path string) bool {
	return v.GetField(path, "") != ""
}

// GetFields resolves each of paths, defaulting missing values to "".
func (v *ParsedView) GetFields(paths []string) map[string]string {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		out[p] = v.GetField(p, "")
	}
	return out
}

// SetField sets path to value and returns new raw bytes reflecting the
// change. The receiver's own raw bytes are never modified.
func (v *ParsedView) SetField(path, value string) ([]byte, error) {
	v.ensureParsed()

	fp, ok := parsePath(path)
	if !ok {
		return nil, errInvalidPath(path)
	}

	v.mu.Lock()
	occs := v.segments[fp.segment]
	v.mu.Unlock()
	if fp.occurrence > len(occs) {
		return nil, errInvalidPath(path)
	}

	// Rebuild line-by-line, only mutating the targeted occurrence.
	occurrenceToPatch := fp.occurrence

	v.mu.Lock()
	order := make([]segmentOccurrence, len(v.order))
	copy(order, v.order)
	v.mu.Unlock()

	seen := 0
	lines := make([]string, 0, len(order))
	for _, so := range order {
		tokens := so.tokens
		if so.name == fp.segment {
			seen++
			if seen == occurrenceToPatch {
				tokens = patchTokens(so.name, so.tokens, fp, value)
			}
		}
		lines = append(lines, strings.Join(tokens, string(fieldSep)))
	}

	return []byte(strings.Join(lines, "\r") + "\r"), nil
}

// patchTokens returns a copy of tokens with fp's position (and optional
// component/sub-component) rewritten to value.
func patchTokens(segmentName string, tokens []string, fp fieldPath, value string) []string {
	out := make([]string, len(tokens))
	copy(out, tokens)

	idx := fp.position
	if segmentName == "MSH" {
		idx = fp.position - 1
	}
	for idx >= len(out) {
		out = append(out, "")
	}
	if idx < 0 {
		return out // MSH-1 (the separator itself) cannot be rewritten this way
	}

	if fp.component == 0 {
		out[idx] = value
		return out
	}

	comps := strings.Split(out[idx], string(componentSep))
	for fp.component > len(comps) {
		comps = append(comps, "")
	}
	if fp.subComp == 0 {
		comps[fp.component-1] = value
	} else {
		subs := strings.Split(comps[fp.component-1], string(subCompSep))
		for fp.subComp > len(subs) {
			subs = append(subs, "")
		}
		subs[fp.subComp-1] = value
		comps[fp.component-1] = strings.Join(subs, string(subCompSep))
	}
	out[idx] = strings.Join(comps, string(componentSep))
	return out
}

func errInvalidPath(path string) error {
	return apperror.NewWithField(apperror.CodeInvalidArgument, "invalid field path", path)
}

// ToDict returns a coarse map representation of the message, suitable for
// logging or debugging (not a structural decomposition).
func (v *ParsedView) ToDict() map[string]string {
	return map[string]string{"raw": string(v.raw)}
}
