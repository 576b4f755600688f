// Package hl7 implements a schema-driven, lazily-parsed view over HL7 v2
// messages: segment/field definitions, validation, and ACK generation.
package hl7

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Severity classifies a ValidationError.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ValidationError is one structural problem found in a message by Validate.
type ValidationError struct {
	Path     string
	Message  string
	Severity Severity
}

func (e ValidationError) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Path, e.Message)
}

func newError(path, message string) ValidationError {
	return ValidationError{Path: path, Message: message, Severity: SeverityError}
}

// Schema is a named, versioned description of HL7 segments and message
// types. Schemas support single-parent inheritance via BaseSchema: lookups
// that miss locally are expected to walk the chain via the owning registry.
type Schema struct {
	name       string
	version    string
	baseSchema string

	segments     map[string]SegmentDefinition
	messageTypes map[string]MessageTypeDefinition
}

// NewSchema creates a schema seeded with the standard HL7 v2.4 segment and
// message-type tables; name identifies it (e.g. a site dialect), version
// defaults to "2.4", and baseSchema (if non-empty) names its parent for
// inheritance.
func NewSchema(name, version, baseSchema string) *Schema {
	if version == "" {
		version = "2.4"
	}
	s := &Schema{
		name:         name,
		version:      version,
		baseSchema:   baseSchema,
		segments:     make(map[string]SegmentDefinition, len(StandardSegments)),
		messageTypes: make(map[string]MessageTypeDefinition, len(StandardMessageTypes)),
	}
	for k, v := range StandardSegments {
		s.segments[k] = v
	}
	for k, v := range StandardMessageTypes {
		s.messageTypes[k] = v
	}
	return s
}

func (s *Schema) Name() string       { return s.name }
func (s *Schema) Version() string    { return s.version }
func (s *Schema) BaseSchema() string { return s.baseSchema }

// Segments returns the schema's segment definitions, keyed by name.
func (s *Schema) Segments() map[string]SegmentDefinition { return s.segments }

// MessageTypes returns the schema's message-type definitions, keyed by name.
func (s *Schema) MessageTypes() map[string]MessageTypeDefinition { return s.messageTypes }

// AddSegment adds or overrides a segment definition.
func (s *Schema) AddSegment(def SegmentDefinition) { s.segments[def.Name] = def }

// AddMessageType adds or overrides a message-type definition.
func (s *Schema) AddMessageType(def MessageTypeDefinition) { s.messageTypes[def.Name] = def }

// Parse builds a lazy ParsedView over raw, bound to this schema.
func (s *Schema) Parse(raw []byte) *ParsedView {
	return NewParsedView(raw, s)
}

// Validate checks raw against the schema: MSH must be present and have all
// of its required fields populated; the message's resolved type (if known)
// must have all of its required segments present.
func (s *Schema) Validate(raw []byte) []ValidationError {
	var errs []ValidationError

	view := s.Parse(raw)
	view.ensureParsed()

	msh := view.GetSegment("MSH")
	if msh == nil {
		return append(errs, newError("MSH", "missing required MSH segment"))
	}

	msgType := view.GetMessageType()
	if msgType == "" {
		errs = append(errs, newError("MSH-9", "missing message type"))
	}

	if def, ok := s.messageTypes[msgType]; ok {
		for segName := range def.RequiredSegments {
			if view.GetSegment(segName) == nil {
				errs = append(errs, newError(segName, "missing required segment: "+segName))
			}
		}
	}

	if mshDef, ok := s.segments["MSH"]; ok {
		for _, fd := range mshDef.Fields {
			if !fd.Required {
				continue
			}
			path := fmt.Sprintf("MSH-%d", fd.Position)
			if view.GetField(path, "") == "" {
				errs = append(errs, newError(path, "missing required field: "+fd.Name))
			}
		}
	}

	return errs
}

// IsValid reports whether raw has no error-severity ValidationErrors.
func (s *Schema) IsValid(raw []byte) bool {
	for _, e := range s.Validate(raw) {
		if e.Severity == SeverityError {
			return false
		}
	}
	return true
}

// CreateAck builds an ACK message for parsed: sender/receiver are swapped,
// the timestamp is refreshed, and the control id/version are copied from
// the original message.
func (s *Schema) CreateAck(parsed *ParsedView, ackCode, textMessage string) []byte {
	sendingApp := parsed.GetField("MSH-3", "")
	sendingFac := parsed.GetField("MSH-4", "")
	receivingApp := parsed.GetField("MSH-5", "")
	receivingFac := parsed.GetField("MSH-6", "")
	controlID := parsed.GetField("MSH-10", "")
	version := parsed.GetField("MSH-12", "2.4")

	timestamp := time.Now().Format("20060102150405")

	msh := fmt.Sprintf("MSH|^~\\&|%s|%s|%s|%s|%s||ACK|%s|P|%s",
		receivingApp, receivingFac, sendingApp, sendingFac, timestamp, controlID, version)

	msa := fmt.Sprintf("MSA|%s|%s", ackCode, controlID)
	if textMessage != "" {
		msa += "|" + textMessage
	}

	return []byte(msh + "\r" + msa + "\r")
}

// --- IRIS-style HL7 schema XML loading ---

type schemaXML struct {
	XMLName  xml.Name       `xml:"HL7Schema"`
	Category *categoryXML   `xml:"Category"`
	Segments []segmentXML   `xml:"SegmentStructure"`
	Messages []messageTypeXML `xml:"MessageType"`
}

type categoryXML struct {
	Name string `xml:"name,attr"`
	Base string `xml:"base,attr"`
}

type segmentXML struct {
	Name        string    `xml:"name,attr"`
	Description string    `xml:"description,attr"`
	Fields      []fieldXML `xml:"SegmentSubStructure"`
}

type fieldXML struct {
	Piece       string `xml:"piece,attr"`
	Description string `xml:"description,attr"`
	DataType    string `xml:"datatype,attr"`
	Length      string `xml:"length,attr"`
	Required    string `xml:"required,attr"`
	Repeating   string `xml:"repeating,attr"`
}

type messageTypeXML struct {
	Name        string `xml:"name,attr"`
	Description string `xml:"description,attr"`
}

// LoadSchemaFromXML parses an IRIS-style HL7 schema XML file into a Schema.
func LoadSchemaFromXML(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file %q: %w", path, err)
	}

	var doc schemaXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema xml %q: %w", path, err)
	}

	name := baseName(path)
	base := ""
	if doc.Category != nil {
		if doc.Category.Name != "" {
			name = doc.Category.Name
		}
		base = doc.Category.Base
	}

	schema := NewSchema(name, "", base)

	for _, se := range doc.Segments {
		if se.Name == "" {
			continue
		}
		def := SegmentDefinition{Name: se.Name, Description: se.Description}
		for _, fe := range se.Fields {
			if fe.Piece == "" {
				continue
			}
			pos, err := strconv.Atoi(fe.Piece)
			if err != nil {
				continue
			}
			fd := FieldDefinition{
				Position: pos,
				Name:     fe.Description,
				DataType: "ST",
			}
			if fd.Name == "" {
				fd.Name = fmt.Sprintf("Field%d", pos)
			}
			if fe.DataType != "" {
				fd.DataType = fe.DataType
			}
			if fe.Length != "" {
				if n, err := strconv.Atoi(fe.Length); err == nil {
					fd.MaxLength = n
				}
			}
			fd.Required = lowerBool(fe.Required)
			fd.Repeating = lowerBool(fe.Repeating)
			def.Fields = append(def.Fields, fd)
		}
		schema.AddSegment(def)
	}

	for _, me := range doc.Messages {
		if me.Name == "" {
			continue
		}
		schema.AddMessageType(MessageTypeDefinition{Name: me.Name, Description: me.Description})
	}

	return schema, nil
}

func lowerBool(s string) bool {
	return s == "true" || s == "True" || s == "TRUE"
}

func baseName(path string) string {
	start := 0
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			start = i + 1
			break
		}
	}
	name := path[start:]
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}
