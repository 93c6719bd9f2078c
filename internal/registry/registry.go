// Package registry implements the invocation registry: per-class function
// tables, per-instance bound function tables, the instance store, and the
// four synthesized lifecycle operations (spec.md §4.4).
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/oriys/vrpc/internal/signature"
	"github.com/oriys/vrpc/internal/wire"
)

// ArgType is a declared formal-parameter type. It is a superset of
// signature.Tag: ArgFunction additionally marks a parameter as
// function-valued, which the dispatcher must wrap into a callback before
// invoking the target; on the wire it still tags as "string" (spec.md
// §4.2).
type ArgType string

const (
	ArgNull     ArgType = "null"
	ArgBool     ArgType = "boolean"
	ArgNumber   ArgType = "number"
	ArgString   ArgType = "string"
	ArgArray    ArgType = "array"
	ArgObject   ArgType = "object"
	ArgBinary   ArgType = "binary"
	ArgFunction ArgType = "function"
)

// wireTag returns the tag this ArgType contributes to the wire signature.
func (t ArgType) wireTag() string {
	if t == ArgFunction {
		return string(signature.TagString)
	}
	return string(t)
}

// argSig computes the registration-time signature suffix for a list of
// declared argument types, mirroring signature.Of but over declared types
// instead of observed values.
func argSig(types []ArgType) string {
	if len(types) == 0 {
		return ""
	}
	s := "-"
	for _, t := range types {
		s += t.wireTag()
	}
	return s
}

// Arg is one positional argument as seen by a target invocable: either a
// plain JSON value, or — for a slot declared ArgFunction — a Callback the
// target may invoke (possibly asynchronously, possibly more than once) to
// deliver results back to the caller.
type Arg struct {
	Value    json.RawMessage
	Callback Callback
}

// Callback delivers a callback emission for the slot it was built for.
// Constructed by the dispatcher (internal/dispatch), backed by
// internal/callback.
type Callback func(values ...json.RawMessage)

// StaticFunc is an unbound invocable, used for static functions,
// constructors, and the synthesized lifecycle operations.
type StaticFunc func(args []Arg) (json.RawMessage, error)

// MemberFunc is a function template: unbound, it must be cloned and bound
// to an instance (via Bind) before it can be invoked.
type MemberFunc func(obj any, args []Arg) (json.RawMessage, error)

// ConstructorFunc builds a new instance object from constructor arguments.
type ConstructorFunc func(args []Arg) (any, error)

type staticEntry struct {
	argTypes []ArgType
	fn       StaticFunc
}

type memberEntry struct {
	argTypes []ArgType
	fn       MemberFunc
}

type ctorEntry struct {
	argTypes []ArgType
	fn       ConstructorFunc
}

type classRecord struct {
	name       string
	static     map[string]staticEntry // name+sig -> entry, includes lifecycle synths
	staticOrd  []string                // base names seen, for discovery (deduped)
	member     map[string]memberEntry
	memberOrd  []string
	meta       map[string]wire.FunctionMeta
	ctors      map[string]ctorEntry // argsig -> ctor
}

func newClassRecord(name string) *classRecord {
	return &classRecord{
		name:   name,
		static: make(map[string]staticEntry),
		member: make(map[string]memberEntry),
		meta:   make(map[string]wire.FunctionMeta),
		ctors:  make(map[string]ctorEntry),
	}
}

type boundEntry struct {
	argTypes []ArgType
	fn       func(args []Arg) (json.RawMessage, error)
}

type instanceRecord struct {
	id        string
	className string
	obj       any
	bound     map[string]boundEntry
	isNamed   bool
}

// Lifecycle synthetic base method names.
const (
	MethodCreate       = "__create__"
	MethodCreateNamed  = "__createNamed__"
	MethodGetNamed     = "__getNamed__"
	MethodDelete       = "__delete__"
)

// Registry is the process's single Invocation Registry. All methods are
// safe for concurrent use, though spec.md §5 expects callers to only
// mutate it from the agent loop.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*classRecord
	// class order of first registration, for deterministic GetClasses.
	classOrd []string

	instances map[string]*instanceRecord
	idCounter uint64
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		classes:   make(map[string]*classRecord),
		instances: make(map[string]*instanceRecord),
	}
}

func (r *Registry) classFor(name string) *classRecord {
	c, ok := r.classes[name]
	if !ok {
		c = newClassRecord(name)
		r.classes[name] = c
		r.classOrd = append(r.classOrd, name)
	}
	return c
}

func addOrdered(ord []string, name string) []string {
	for _, existing := range ord {
		if existing == name {
			return ord
		}
	}
	return append(ord, name)
}

// RegisterConstructor registers a constructor overload for class and
// synthesizes the four lifecycle operations described in spec.md §4.4.
// Idempotent per (class, argsig): calling it again with the same argTypes
// replaces the constructor function and rebuilds the __create__ and
// __createNamed__ entries around it; the __getNamed__ and __delete__
// entries, synthesized once per class, are left in place.
func (r *Registry) RegisterConstructor(class string, argTypes []ArgType, ctor ConstructorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.classFor(class)
	ctorSig := argSig(argTypes)
	c.ctors[ctorSig] = ctorEntry{argTypes: argTypes, fn: ctor}

	r.synthCreate(c, ctorSig, argTypes, ctor)
	r.synthCreateNamed(c, ctorSig, argTypes, ctor)
	r.synthGetNamed(c)
	r.synthDelete(c)
}

func (r *Registry) synthCreate(c *classRecord, ctorSig string, argTypes []ArgType, ctor ConstructorFunc) {
	key := MethodCreate + ctorSig
	c.static[key] = staticEntry{
		argTypes: argTypes,
		fn: func(args []Arg) (json.RawMessage, error) {
			return r.create(c, "", false, argTypes, ctor, args)
		},
	}
	c.staticOrd = addOrdered(c.staticOrd, MethodCreate)
}

func (r *Registry) synthCreateNamed(c *classRecord, ctorSig string, argTypes []ArgType, ctor ConstructorFunc) {
	key := MethodCreateNamed + "-string" + trimDash(ctorSig)
	namedArgTypes := append([]ArgType{ArgString}, argTypes...)
	c.static[key] = staticEntry{
		argTypes: namedArgTypes,
		fn: func(args []Arg) (json.RawMessage, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("__createNamed__ requires an id argument")
			}
			var id string
			if err := json.Unmarshal(args[0].Value, &id); err != nil {
				return nil, fmt.Errorf("__createNamed__ id must be a string: %w", err)
			}
			r.mu.Lock()
			if existing, ok := r.instances[id]; ok && existing.isNamed {
				r.mu.Unlock()
				return json.Marshal(id)
			}
			r.mu.Unlock()
			return r.create(c, id, true, argTypes, ctor, args[1:])
		},
	}
	c.staticOrd = addOrdered(c.staticOrd, MethodCreateNamed)
}

func trimDash(s string) string {
	if len(s) > 0 && s[0] == '-' {
		return s[1:]
	}
	return s
}

func (r *Registry) synthGetNamed(c *classRecord) {
	key := MethodGetNamed + "-string"
	if _, ok := c.static[key]; ok {
		c.staticOrd = addOrdered(c.staticOrd, MethodGetNamed)
		return
	}
	c.static[key] = staticEntry{
		argTypes: []ArgType{ArgString},
		fn: func(args []Arg) (json.RawMessage, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("__getNamed__ requires an id argument")
			}
			var id string
			if err := json.Unmarshal(args[0].Value, &id); err != nil {
				return nil, fmt.Errorf("__getNamed__ id must be a string: %w", err)
			}
			r.mu.RLock()
			inst, ok := r.instances[id]
			r.mu.RUnlock()
			if !ok || !inst.isNamed || inst.className != c.name {
				return nil, fmt.Errorf("Could not find named instance: %s", id)
			}
			return json.Marshal(id)
		},
	}
	c.staticOrd = addOrdered(c.staticOrd, MethodGetNamed)
}

func (r *Registry) synthDelete(c *classRecord) {
	key := MethodDelete + "-string"
	if _, ok := c.static[key]; ok {
		c.staticOrd = addOrdered(c.staticOrd, MethodDelete)
		return
	}
	c.static[key] = staticEntry{
		argTypes: []ArgType{ArgString},
		fn: func(args []Arg) (json.RawMessage, error) {
			if len(args) == 0 {
				return nil, fmt.Errorf("__delete__ requires an id argument")
			}
			var id string
			if err := json.Unmarshal(args[0].Value, &id); err != nil {
				return nil, fmt.Errorf("__delete__ id must be a string: %w", err)
			}
			ok := r.Delete(id)
			return json.Marshal(ok)
		},
	}
	c.staticOrd = addOrdered(c.staticOrd, MethodDelete)
}

// create builds a new instance, binds every registered member template,
// stores it, and returns its id as a JSON string.
func (r *Registry) create(c *classRecord, id string, named bool, ctorArgTypes []ArgType, ctor ConstructorFunc, args []Arg) (json.RawMessage, error) {
	obj, err := ctor(args)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if id == "" {
		id = r.nextID()
	}
	inst := &instanceRecord{
		id:        id,
		className: c.name,
		obj:       obj,
		bound:     make(map[string]boundEntry),
		isNamed:   named,
	}
	for key, tmpl := range c.member {
		tmpl := tmpl
		inst.bound[key] = boundEntry{
			argTypes: tmpl.argTypes,
			fn: func(args []Arg) (json.RawMessage, error) {
				return tmpl.fn(obj, args)
			},
		}
	}
	r.instances[id] = inst
	r.mu.Unlock()

	return json.Marshal(id)
}

func (r *Registry) nextID() string {
	n := atomic.AddUint64(&r.idCounter, 1)
	return fmt.Sprintf("i%d-%s", n, uuid.New().String()[:8])
}

// RegisterMemberFunction stores a function template under name+sig on
// class. The template is cloned and bound to each instance created
// thereafter; instances that already exist when this is called do NOT
// retroactively gain the new member (class records are immutable after
// startup per spec.md §3). retType seeds the class's meta table unless a
// fuller descriptor is later attached via RegisterMeta.
func (r *Registry) RegisterMemberFunction(class, name, retType string, argTypes []ArgType, fn MemberFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.classFor(class)
	key := name + argSig(argTypes)
	c.member[key] = memberEntry{argTypes: argTypes, fn: fn}
	c.memberOrd = addOrdered(c.memberOrd, name)
	if _, ok := c.meta[key]; !ok {
		c.meta[key] = wire.FunctionMeta{ReturnType: retType}
	}
}

// RegisterStaticFunction stores an unbound invocable under name+sig on
// class. retType seeds the class's meta table unless a fuller descriptor
// is later attached via RegisterMeta.
func (r *Registry) RegisterStaticFunction(class, name, retType string, argTypes []ArgType, fn StaticFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.classFor(class)
	key := name + argSig(argTypes)
	c.static[key] = staticEntry{argTypes: argTypes, fn: fn}
	c.staticOrd = addOrdered(c.staticOrd, name)
	if _, ok := c.meta[key]; !ok {
		c.meta[key] = wire.FunctionMeta{ReturnType: retType}
	}
}

// RegisterMeta attaches a human-facing descriptor to a class's meta table.
func (r *Registry) RegisterMeta(class, nameSig string, meta wire.FunctionMeta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.classFor(class)
	c.meta[nameSig] = meta
}

// ResolvedKind distinguishes which table a Resolve hit came from.
type ResolvedKind int

const (
	KindStatic ResolvedKind = iota
	KindMember
)

// Target is what Resolve returns: a callable plus the declared argument
// types the dispatcher needs to build callback wrappers.
type Target struct {
	Kind     ResolvedKind
	ArgTypes []ArgType
	invoke   func(args []Arg) (json.RawMessage, error)
}

// Invoke calls the resolved target.
func (t Target) Invoke(args []Arg) (json.RawMessage, error) {
	return t.invoke(args)
}

// ErrContextNotFound and ErrFunctionNotFound are returned (wrapped with
// details) by Resolve; callers translate them to the wire error strings
// spelled out in spec.md §7.
var (
	ErrContextNotFound  = fmt.Errorf("context not found")
	ErrFunctionNotFound = fmt.Errorf("function not found")
)

// Resolve looks up context (an instance id, else a class name) and
// methodSig (base method name + signature suffix) and returns an
// invocable Target.
func (r *Registry) Resolve(context, methodSig string) (Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if inst, ok := r.instances[context]; ok {
		entry, ok := inst.bound[methodSig]
		if !ok {
			return Target{}, fmt.Errorf("%w: %s", ErrFunctionNotFound, methodSig)
		}
		return Target{Kind: KindMember, ArgTypes: entry.argTypes, invoke: entry.fn}, nil
	}

	if c, ok := r.classes[context]; ok {
		entry, ok := c.static[methodSig]
		if !ok {
			return Target{}, fmt.Errorf("%w: %s", ErrFunctionNotFound, methodSig)
		}
		return Target{Kind: KindStatic, ArgTypes: entry.argTypes, invoke: entry.fn}, nil
	}

	return Target{}, fmt.Errorf("%w: %s", ErrContextNotFound, context)
}

// IsInstance reports whether id names a live instance (named or
// isolated).
func (r *Registry) IsInstance(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.instances[id]
	return ok
}

// ClassOf returns the class name owning a live instance.
func (r *Registry) ClassOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return "", false
	}
	return inst.className, true
}

// Delete removes an instance, its bound table, and (if present) its
// named-instance status. Deletion of a non-existent id returns false, not
// an error (spec.md §4.4).
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; !ok {
		return false
	}
	delete(r.instances, id)
	return true
}

// GetClasses returns all registered class names.
func (r *Registry) GetClasses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.classOrd))
	copy(out, r.classOrd)
	return out
}

// GetMemberFunctions returns the name+sig keys of class's member table.
func (r *Registry) GetMemberFunctions(class string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[class]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.member))
	for k := range c.member {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// GetStaticFunctions returns the name+sig keys of class's static table,
// including the synthesized lifecycle operations.
func (r *Registry) GetStaticFunctions(class string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[class]
	if !ok {
		return nil
	}
	return sortedKeys(c.static)
}

// GetInstances returns the ids of named (shared) instances of class.
// Isolated instances never appear here (spec.md §3 invariant).
func (r *Registry) GetInstances(class string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, inst := range r.instances {
		if inst.className == class && inst.isNamed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// GetMetaData returns class's meta table.
func (r *Registry) GetMetaData(class string) map[string]wire.FunctionMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[class]
	if !ok {
		return nil
	}
	out := make(map[string]wire.FunctionMeta, len(c.meta))
	for k, v := range c.meta {
		out[k] = v
	}
	return out
}

// ClassInfo builds the discovery document for class.
func (r *Registry) ClassInfo(class string) (wire.ClassInfo, bool) {
	r.mu.RLock()
	c, ok := r.classes[class]
	r.mu.RUnlock()
	if !ok {
		return wire.ClassInfo{}, false
	}
	return wire.ClassInfo{
		ClassName:       class,
		Instances:       r.GetInstances(class),
		MemberFunctions: r.GetMemberFunctions(class),
		StaticFunctions: r.GetStaticFunctions(class),
		Meta:            r.GetMetaData(class),
		V:               wire.ProtocolVersion,
	}, true
}

// StaticBaseNames returns the deduplicated base (unsigned) static/
// constructor/lifecycle function names of class, used by the topic
// mapper to build the initial subscription set.
func (r *Registry) StaticBaseNames(class string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[class]
	if !ok {
		return nil
	}
	out := make([]string, len(c.staticOrd))
	copy(out, c.staticOrd)
	return out
}

// MemberBaseNames returns the deduplicated base member-function names of
// class, used to subscribe/unsubscribe per-instance topics.
func (r *Registry) MemberBaseNames(class string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[class]
	if !ok {
		return nil
	}
	out := make([]string, len(c.memberOrd))
	copy(out, c.memberOrd)
	return out
}

func sortedKeys(m map[string]staticEntry) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
