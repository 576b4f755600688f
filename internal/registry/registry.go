// Package registry provides process-wide, read-mostly lookup tables for
// message schemas and host implementation classes, used by the
// production engine to turn configuration names into live Go types.
package registry

import (
	"sort"
	"sync"

	"hie/internal/apperror"
	"hie/internal/hl7"
)

// SchemaRegistry is a global, thread-safe lookup table of HL7 schemas by
// name, supporting the same base-schema inheritance chain the schemas
// themselves carry.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*hl7.Schema
}

var defaultSchemaRegistry = NewSchemaRegistry()

// Schemas returns the process-wide default schema registry.
func Schemas() *SchemaRegistry { return defaultSchemaRegistry }

// NewSchemaRegistry creates an empty schema registry. Production code
// uses the package-level default via Schemas(); tests that need
// isolation construct their own.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*hl7.Schema)}
}

// Register adds or replaces a schema under its own Name.
func (r *SchemaRegistry) Register(schema *hl7.Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Name()] = schema
}

// Get returns the schema registered under name, or nil if none is.
func (r *SchemaRegistry) Get(name string) *hl7.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

// GetWithInheritance returns schema and its ancestors via BaseSchema,
// most-specific first.
func (r *SchemaRegistry) GetWithInheritance(name string) []*hl7.Schema {
	var chain []*hl7.Schema
	current := name
	for current != "" {
		s := r.Get(current)
		if s == nil {
			break
		}
		chain = append(chain, s)
		current = s.BaseSchema()
	}
	return chain
}

// ListSchemas returns all registered schema names, sorted.
func (r *SchemaRegistry) ListSchemas() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every registered schema. Useful for test isolation.
func (r *SchemaRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas = make(map[string]*hl7.Schema)
}

// Constructor builds a host implementation from an item name and its
// settings bag. The concrete return type is `any` because the class
// registry is shared by every host kind (service/process/operation);
// callers type-assert to the interface they expect.
type Constructor func(itemName string, settings map[string]string) (any, error)

// ClassRegistry maps IRIS/production class names (e.g.
// "EnsLib.HL7.Service.TCPService") to the Constructor that builds the
// corresponding host implementation.
type ClassRegistry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

var defaultClassRegistry = NewClassRegistry()

// Classes returns the process-wide default class registry.
func Classes() *ClassRegistry { return defaultClassRegistry }

// NewClassRegistry creates an empty class registry.
func NewClassRegistry() *ClassRegistry {
	return &ClassRegistry{constructors: make(map[string]Constructor)}
}

// Register associates className with a host constructor.
func (r *ClassRegistry) Register(className string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[className] = ctor
}

// RegisterAlias associates an additional className with the same
// constructor already registered under existing. Mirrors the teacher
// pattern of registering both the legacy IRIS class name and a
// this-repo-native one for the same implementation.
func (r *ClassRegistry) RegisterAlias(className, existing string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctor, ok := r.constructors[existing]
	if !ok {
		return false
	}
	r.constructors[className] = ctor
	return true
}

// Get returns the constructor registered under className, or an error
// wrapping apperror.CodeNotFound if none is.
func (r *ClassRegistry) Get(className string) (Constructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.constructors[className]
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeNotFound, "no host class registered", className)
	}
	return ctor, nil
}

// Build looks up className and invokes its constructor.
func (r *ClassRegistry) Build(className, itemName string, settings map[string]string) (any, error) {
	ctor, err := r.Get(className)
	if err != nil {
		return nil, err
	}
	return ctor(itemName, settings)
}

// ListClasses returns all registered class names, sorted.
func (r *ClassRegistry) ListClasses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes every registered constructor. Useful for test isolation.
func (r *ClassRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors = make(map[string]Constructor)
}
