package mongoneo

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// clsField carries the type discriminator in every stored document. It is
// written once at first save and never changes for the lifetime of a document.
const clsField = "_cls"

type definition struct {
	name        string
	cls         string
	collection  string
	connection  string
	extensible  bool
	parent      *definition
	descendants []string
	typ         reflect.Type
}

func (d *definition) newInstance() Model {
	return reflect.New(d.typ).Interface().(Model)
}

// scopeFilter translates a definition into the discriminator filter every
// operation is constrained by: exact match for definitions without registered
// subtypes, self-or-descendant for the rest.
func (d *definition) scopeFilter() bson.M {
	if len(d.descendants) == 0 {
		return bson.M{clsField: d.cls}
	}
	in := make([]string, 0, len(d.descendants)+1)
	in = append(in, d.cls)
	in = append(in, d.descendants...)
	return bson.M{clsField: bson.M{"$in": in}}
}

type modelRegistry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]*definition
	byCls  map[string]*definition
}

func newModelRegistry() *modelRegistry {
	return &modelRegistry{
		byType: make(map[reflect.Type]*definition),
		byCls:  make(map[string]*definition),
	}
}

var registry = newModelRegistry()

type registerOptions struct {
	parent   Model
	typeName string
}

type RegisterOption func(*registerOptions)

// ChildOf declares m a subtype of an already registered, inheritable parent.
func ChildOf(parent Model) RegisterOption {
	return func(o *registerOptions) {
		o.parent = parent
	}
}

// WithTypeName overrides the discriminator segment, which defaults to the Go
// type name.
func WithTypeName(name string) RegisterOption {
	return func(o *registerOptions) {
		o.typeName = name
	}
}

// Register records a model definition: its discriminator, collection,
// connection and place in the inheritance hierarchy. Registering a subtype
// updates the descendant sets of all its ancestors.
func Register(m Model, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return registry.register(m, &o)
}

func MustRegister(m Model, opts ...RegisterOption) {
	if err := Register(m, opts...); err != nil {
		panic(err)
	}
}

func (r *modelRegistry) register(m Model, o *registerOptions) error {
	typ, err := structType(m)
	if err != nil {
		return err
	}

	name := o.typeName
	if name == "" {
		name = typ.Name()
	}
	if name == "" {
		return &ConfigurationError{Model: typ.String(), Reason: "anonymous types need an explicit type name"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byType[typ]; ok {
		return &ConfigurationError{Model: name, Reason: "type already registered"}
	}

	def := &definition{
		name:       name,
		collection: m.Collection(),
		connection: DefaultConnection,
		typ:        typ,
	}
	if c, ok := m.(Connectable); ok {
		def.connection = c.Connection()
	}
	if i, ok := m.(Inheritable); ok {
		def.extensible = i.AllowInheritance()
	}

	if o.parent != nil {
		ptyp, err := structType(o.parent)
		if err != nil {
			return err
		}
		parent, ok := r.byType[ptyp]
		if !ok {
			return &ConfigurationError{Model: name, Reason: "parent model " + ptyp.Name() + " is not registered"}
		}
		if !parent.extensible {
			return &ConfigurationError{Model: name, Reason: "parent model " + parent.name + " does not allow inheritance"}
		}
		def.parent = parent
		def.cls = parent.cls + "." + name
		def.connection = parent.connection
		if def.collection != parent.collection {
			// A subtype cannot move the hierarchy to another collection;
			// the root's name wins.
			logger().Warn("subtype collection ignored",
				"model", name, "declared", def.collection, "using", parent.collection)
			def.collection = parent.collection
		}
	} else {
		def.cls = name
	}

	if def.collection == "" {
		return &ConfigurationError{Model: name, Reason: "empty collection name"}
	}
	if _, ok := r.byCls[def.cls]; ok {
		return &ConfigurationError{Model: name, Reason: "discriminator " + def.cls + " already registered"}
	}

	r.byType[typ] = def
	r.byCls[def.cls] = def
	for a := def.parent; a != nil; a = a.parent {
		a.descendants = append(a.descendants, def.cls)
	}
	return nil
}

// Deregister removes m's definition, e.g. when a plugin's models unload.
// The discriminator stays in the scope of its ancestors on purpose: stored
// documents of a removed type still match ancestor queries and surface as a
// schema mismatch instead of silently disappearing from results.
func Deregister(m Model) error {
	return registry.deregister(m)
}

func (r *modelRegistry) deregister(m Model) error {
	typ, err := structType(m)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	def, ok := r.byType[typ]
	if !ok {
		return errors.Wrapf(ErrNotRegistered, "%T", m)
	}
	delete(r.byType, typ)
	delete(r.byCls, def.cls)
	return nil
}

func (r *modelRegistry) lookup(m Model) (*definition, error) {
	t := reflect.TypeOf(m)
	if t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byType[t]
	if !ok {
		return nil, errors.Wrapf(ErrNotRegistered, "%T", m)
	}
	return def, nil
}

func (r *modelRegistry) lookupCls(cls string) (*definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byCls[cls]
	return def, ok
}

func structType(m Model) (reflect.Type, error) {
	t := reflect.TypeOf(m)
	if t == nil || t.Kind() != reflect.Ptr || t.Elem().Kind() != reflect.Struct {
		return nil, &ConfigurationError{Model: fmt.Sprintf("%T", m), Reason: "models must be registered as a pointer to struct"}
	}
	return t.Elem(), nil
}
