package hl7

// FieldDefinition describes one field within a segment, matching the IRIS
// HL7 schema's SegmentSubStructure element.
type FieldDefinition struct {
	Position   int // 1-indexed field position
	Name       string
	DataType   string // e.g. ST, HD, TS, MSG, PT, VID
	MaxLength  int    // 0 means unbounded
	Required   bool
	Repeating  bool
	Components []FieldDefinition
}

// SegmentDefinition describes one HL7 segment (e.g. MSH, PID, OBX).
type SegmentDefinition struct {
	Name        string
	Description string
	Fields      []FieldDefinition
}

// Field returns the field definition at position, or (zero, false) if absent.
func (s SegmentDefinition) Field(position int) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Position == position {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// MessageTypeDefinition describes one HL7 message type's expected segment
// structure (e.g. ADT_A01).
type MessageTypeDefinition struct {
	Name             string
	Description      string
	Segments         []string        // ordered list of segment names
	RequiredSegments map[string]bool
	RepeatingSegments map[string]bool
}

func seg(name, description string, fields ...FieldDefinition) SegmentDefinition {
	return SegmentDefinition{Name: name, Description: description, Fields: fields}
}

func f(position int, name, dataType string, opts ...fieldOpt) FieldDefinition {
	fd := FieldDefinition{Position: position, Name: name, DataType: dataType}
	for _, o := range opts {
		o(&fd)
	}
	return fd
}

type fieldOpt func(*FieldDefinition)

func required(fd *FieldDefinition)  { fd.Required = true }
func repeating(fd *FieldDefinition) { fd.Repeating = true }
func maxLen(n int) fieldOpt         { return func(fd *FieldDefinition) { fd.MaxLength = n } }

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// StandardSegments holds the HL7 v2.4 segment definitions shipped by
// default with every Schema.
var StandardSegments = map[string]SegmentDefinition{
	"MSH": seg("MSH", "Message Header",
		f(1, "FieldSeparator", "ST", required, maxLen(1)),
		f(2, "EncodingCharacters", "ST", required, maxLen(4)),
		f(3, "SendingApplication", "HD"),
		f(4, "SendingFacility", "HD"),
		f(5, "ReceivingApplication", "HD"),
		f(6, "ReceivingFacility", "HD"),
		f(7, "DateTimeOfMessage", "TS", required),
		f(8, "Security", "ST"),
		f(9, "MessageType", "MSG", required),
		f(10, "MessageControlID", "ST", required),
		f(11, "ProcessingID", "PT", required),
		f(12, "VersionID", "VID", required),
	),
	"PID": seg("PID", "Patient Identification",
		f(1, "SetID", "SI"),
		f(2, "PatientID", "CX"),
		f(3, "PatientIdentifierList", "CX", repeating),
		f(4, "AlternatePatientID", "CX"),
		f(5, "PatientName", "XPN", repeating),
		f(6, "MothersMaidenName", "XPN"),
		f(7, "DateTimeOfBirth", "TS"),
		f(8, "AdministrativeSex", "IS"),
		f(9, "PatientAlias", "XPN", repeating),
		f(10, "Race", "CE", repeating),
		f(11, "PatientAddress", "XAD", repeating),
		f(12, "CountyCode", "IS"),
		f(13, "PhoneNumberHome", "XTN", repeating),
		f(14, "PhoneNumberBusiness", "XTN", repeating),
		f(15, "PrimaryLanguage", "CE"),
		f(16, "MaritalStatus", "CE"),
		f(17, "Religion", "CE"),
		f(18, "PatientAccountNumber", "CX"),
		f(19, "SSNNumber", "ST"),
	),
	"PV1": seg("PV1", "Patient Visit",
		f(1, "SetID", "SI"),
		f(2, "PatientClass", "IS", required),
		f(3, "AssignedPatientLocation", "PL"),
		f(4, "AdmissionType", "IS"),
		f(5, "PreadmitNumber", "CX"),
		f(6, "PriorPatientLocation", "PL"),
		f(7, "AttendingDoctor", "XCN", repeating),
		f(8, "ReferringDoctor", "XCN", repeating),
		f(9, "ConsultingDoctor", "XCN", repeating),
		f(10, "HospitalService", "IS"),
		f(19, "VisitNumber", "CX"),
		f(44, "AdmitDateTime", "TS"),
		f(45, "DischargeDateTime", "TS"),
	),
	"OBR": seg("OBR", "Observation Request",
		f(1, "SetID", "SI"),
		f(2, "PlacerOrderNumber", "EI"),
		f(3, "FillerOrderNumber", "EI"),
		f(4, "UniversalServiceIdentifier", "CE", required),
	),
	"OBX": seg("OBX", "Observation/Result",
		f(1, "SetID", "SI"),
		f(2, "ValueType", "ID"),
		f(3, "ObservationIdentifier", "CE", required),
		f(4, "ObservationSubID", "ST"),
		f(5, "ObservationValue", "varies", repeating),
		f(6, "Units", "CE"),
		f(7, "ReferencesRange", "ST"),
		f(8, "AbnormalFlags", "IS", repeating),
		f(11, "ObservationResultStatus", "ID", required),
	),
	"MSA": seg("MSA", "Message Acknowledgment",
		f(1, "AcknowledgmentCode", "ID", required),
		f(2, "MessageControlID", "ST", required),
		f(3, "TextMessage", "ST"),
	),
	"EVN": seg("EVN", "Event Type",
		f(1, "EventTypeCode", "ID"),
		f(2, "RecordedDateTime", "TS"),
		f(3, "DateTimePlannedEvent", "TS"),
		f(4, "EventReasonCode", "IS"),
		f(5, "OperatorID", "XCN", repeating),
		f(6, "EventOccurred", "TS"),
	),
}

// StandardMessageTypes holds the HL7 v2.4 message type definitions shipped
// by default with every Schema.
var StandardMessageTypes = map[string]MessageTypeDefinition{
	"ADT_A01": {
		Name: "ADT_A01", Description: "Admit/Visit Notification",
		Segments: []string{"MSH", "EVN", "PID", "PV1"},
		RequiredSegments: set("MSH", "EVN", "PID", "PV1"),
	},
	"ADT_A02": {
		Name: "ADT_A02", Description: "Transfer a Patient",
		Segments: []string{"MSH", "EVN", "PID", "PV1"},
		RequiredSegments: set("MSH", "EVN", "PID", "PV1"),
	},
	"ADT_A03": {
		Name: "ADT_A03", Description: "Discharge/End Visit",
		Segments: []string{"MSH", "EVN", "PID", "PV1"},
		RequiredSegments: set("MSH", "EVN", "PID", "PV1"),
	},
	"ADT_A04": {
		Name: "ADT_A04", Description: "Register a Patient",
		Segments: []string{"MSH", "EVN", "PID", "PV1"},
		RequiredSegments: set("MSH", "EVN", "PID", "PV1"),
	},
	"ADT_A08": {
		Name: "ADT_A08", Description: "Update Patient Information",
		Segments: []string{"MSH", "EVN", "PID", "PV1"},
		RequiredSegments: set("MSH", "EVN", "PID", "PV1"),
	},
	"ORU_R01": {
		Name: "ORU_R01", Description: "Unsolicited Observation Result",
		Segments:          []string{"MSH", "PID", "PV1", "OBR", "OBX"},
		RequiredSegments:  set("MSH"),
		RepeatingSegments: set("OBR", "OBX"),
	},
	"ORM_O01": {
		Name: "ORM_O01", Description: "Order Message",
		Segments: []string{"MSH", "PID", "PV1", "OBR"},
		RequiredSegments: set("MSH"),
	},
	"ACK": {
		Name: "ACK", Description: "General Acknowledgment",
		Segments: []string{"MSH", "MSA"},
		RequiredSegments: set("MSH", "MSA"),
	},
}
