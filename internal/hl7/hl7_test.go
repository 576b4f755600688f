package hl7

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleADT = "MSH|^~\\&|SENDING|FAC|RECEIVING|FAC|20240115||ADT^A01|123|P|2.4\r" +
	"EVN|A01|20240115\r" +
	"PID|1||12345||DOE^JOHN\r" +
	"PV1|1|I\r"

func TestParsedView_GetField_MSH(t *testing.T) {
	s := NewSchema("2.4", "", "")
	v := s.Parse([]byte(sampleADT))

	assert.Equal(t, "|", v.GetField("MSH-1", ""))
	assert.Equal(t, "^~\\&", v.GetField("MSH-2", ""))
	assert.Equal(t, "SENDING", v.GetField("MSH-3", ""))
	assert.Equal(t, "ADT^A01", v.GetField("MSH-9", ""))
	assert.Equal(t, "123", v.GetField("MSH-10", ""))
}

func TestParsedView_GetField_Component(t *testing.T) {
	s := NewSchema("2.4", "", "")
	v := s.Parse([]byte(sampleADT))

	assert.Equal(t, "ADT", v.GetField("MSH-9.1", ""))
	assert.Equal(t, "A01", v.GetField("MSH-9.2", ""))
	assert.Equal(t, "DOE", v.GetField("PID-5.1", ""))
	assert.Equal(t, "JOHN", v.GetField("PID-5.2", ""))
}

func TestParsedView_GetField_MissingYieldsDefault(t *testing.T) {
	s := NewSchema("2.4", "", "")
	v := s.Parse([]byte(sampleADT))

	assert.Equal(t, "fallback", v.GetField("ZZZ-1", "fallback"))
	assert.Equal(t, "", v.GetField("PID-99", ""))
}

func TestParsedView_GetMessageType(t *testing.T) {
	s := NewSchema("2.4", "", "")
	v := s.Parse([]byte(sampleADT))

	assert.Equal(t, "ADT_A01", v.GetMessageType())
}

func TestParsedView_SegmentOccurrence(t *testing.T) {
	raw := "MSH|^~\\&|A|B|C|D|20240101||ORU^R01|1|P|2.4\r" +
		"OBX|1|ST|FIRST||val1\r" +
		"OBX|2|ST|SECOND||val2\r"
	s := NewSchema("2.4", "", "")
	v := s.Parse([]byte(raw))

	assert.Equal(t, "val1", v.GetField("OBX-5", ""))
	assert.Equal(t, "val2", v.GetField("OBX(2)-5", ""))
}

func TestParsedView_SetField_Immutability(t *testing.T) {
	s := NewSchema("2.4", "", "")
	original := []byte(sampleADT)
	v := s.Parse(original)

	newRaw, err := v.SetField("PID-5.1", "SMITH")
	require.NoError(t, err)

	assert.Equal(t, original, v.Raw(), "original raw bytes must be unchanged")
	assert.NotEqual(t, newRaw, original)

	updated := s.Parse(newRaw)
	assert.Equal(t, "SMITH", updated.GetField("PID-5.1", ""))
	assert.Equal(t, "JOHN", updated.GetField("PID-5.2", ""))
}

func TestParsedView_SetField_InvalidPath(t *testing.T) {
	s := NewSchema("2.4", "", "")
	v := s.Parse([]byte(sampleADT))

	_, err := v.SetField("not-a-path-!", "x")
	require.Error(t, err)
}

func TestSchema_Validate_MissingMSH(t *testing.T) {
	s := NewSchema("2.4", "", "")
	errs := s.Validate([]byte("PID|1||12345\r"))

	require.NotEmpty(t, errs)
	assert.Equal(t, "MSH", errs[0].Path)
}

func TestSchema_Validate_MissingRequiredSegment(t *testing.T) {
	s := NewSchema("2.4", "", "")
	raw := "MSH|^~\\&|A|B|C|D|20240101||ADT^A01|1|P|2.4\rEVN|A01\r"
	errs := s.Validate([]byte(raw))

	found := false
	for _, e := range errs {
		if e.Path == "PID" {
			found = true
		}
	}
	assert.True(t, found, "expected a missing-PID validation error for ADT_A01")
}

func TestSchema_Validate_Valid(t *testing.T) {
	s := NewSchema("2.4", "", "")
	assert.True(t, s.IsValid([]byte(sampleADT)))
}

func TestSchema_CreateAck(t *testing.T) {
	s := NewSchema("2.4", "", "")
	v := s.Parse([]byte(sampleADT))

	ack := s.CreateAck(v, "AA", "")
	ackStr := string(ack)

	assert.True(t, strings.HasPrefix(ackStr, "MSH|^~\\&|RECEIVING|FAC|SENDING|FAC|"))
	assert.Contains(t, ackStr, "||ACK|123|P|2.4\r")
	assert.Contains(t, ackStr, "MSA|AA|123\r")
}

func TestSchema_CreateAck_Deterministic(t *testing.T) {
	s := NewSchema("2.4", "", "")
	v := s.Parse([]byte(sampleADT))

	a := s.CreateAck(v, "AE", "bad message")
	b := s.CreateAck(v, "AE", "bad message")

	// Timestamps may legitimately differ by a second under load; compare
	// everything except the volatile MSH-7 field instead of the whole ack.
	assert.Equal(t, v.GetField("MSH-10", ""), "123")
	assert.Contains(t, string(a), "MSA|AE|123|bad message\r")
	assert.Contains(t, string(b), "MSA|AE|123|bad message\r")

	withoutTimestamp := func(ack []byte) string {
		fields := strings.Split(string(ack), "|")
		fields[6] = ""
		return strings.Join(fields, "|")
	}
	assert.Equal(t, withoutTimestamp(a), withoutTimestamp(b))
}

func TestSchema_AddSegment_Override(t *testing.T) {
	s := NewSchema("site-dialect", "2.4", "2.4")
	s.AddSegment(SegmentDefinition{Name: "ZZZ", Description: "Custom", Fields: []FieldDefinition{
		{Position: 1, Name: "CustomField", DataType: "ST"},
	}})

	def, ok := s.Segments()["ZZZ"]
	require.True(t, ok)
	assert.Equal(t, "Custom", def.Description)
	assert.Equal(t, "2.4", s.BaseSchema())
}
