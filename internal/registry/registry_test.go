package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hie/internal/hl7"
)

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	r := NewSchemaRegistry()
	s := hl7.NewSchema("PKB", "2.4", "")
	r.Register(s)

	assert.Same(t, s, r.Get("PKB"))
	assert.Nil(t, r.Get("missing"))
}

func TestSchemaRegistry_InheritanceChain(t *testing.T) {
	r := NewSchemaRegistry()
	base := hl7.NewSchema("2.4", "2.4", "")
	cancer := hl7.NewSchema("CANCERREG2.4", "2.4", "2.4")
	pkb := hl7.NewSchema("PKB", "2.4", "CANCERREG2.4")
	r.Register(base)
	r.Register(cancer)
	r.Register(pkb)

	chain := r.GetWithInheritance("PKB")
	require.Len(t, chain, 3)
	assert.Equal(t, "PKB", chain[0].Name())
	assert.Equal(t, "CANCERREG2.4", chain[1].Name())
	assert.Equal(t, "2.4", chain[2].Name())
}

func TestSchemaRegistry_Clear(t *testing.T) {
	r := NewSchemaRegistry()
	r.Register(hl7.NewSchema("PKB", "2.4", ""))
	r.Clear()
	assert.Nil(t, r.Get("PKB"))
	assert.Empty(t, r.ListSchemas())
}

func TestClassRegistry_RegisterGetBuild(t *testing.T) {
	r := NewClassRegistry()
	r.Register("hie.hosts.hl7.HL7TCPService", func(name string, settings map[string]string) (any, error) {
		return name, nil
	})

	built, err := r.Build("hie.hosts.hl7.HL7TCPService", "ADTInbound", nil)
	require.NoError(t, err)
	assert.Equal(t, "ADTInbound", built)
}

func TestClassRegistry_RegisterAlias(t *testing.T) {
	r := NewClassRegistry()
	r.Register("hie.hosts.hl7.HL7TCPService", func(name string, settings map[string]string) (any, error) {
		return "built", nil
	})

	ok := r.RegisterAlias("EnsLib.HL7.Service.TCPService", "hie.hosts.hl7.HL7TCPService")
	assert.True(t, ok)

	built, err := r.Build("EnsLib.HL7.Service.TCPService", "ADTInbound", nil)
	require.NoError(t, err)
	assert.Equal(t, "built", built)
}

func TestClassRegistry_GetUnknownReturnsNotFound(t *testing.T) {
	r := NewClassRegistry()
	_, err := r.Get("Unknown.Class")
	assert.Error(t, err)
}

func TestClassRegistry_RegisterAliasUnknownSourceFails(t *testing.T) {
	r := NewClassRegistry()
	ok := r.RegisterAlias("Alias", "DoesNotExist")
	assert.False(t, ok)
}
