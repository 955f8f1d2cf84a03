package ir

import (
	"fmt"

	"go.uber.org/atomic"
)

// === IR Contexts ===

// Context owns a set of methods and issues value identifiers. Contexts are
// scoped: the orchestrator creates a fresh kernel context per compilation,
// imports the frontend's method graph into it, and releases it when the
// compilation returns.
type Context struct {
	ids       atomic.Int64
	methodIDs atomic.Int64
	methods   map[string]*Method
	order     []*Method
}

// NewContext creates an empty context.
func NewContext() *Context {
	return &Context{methods: make(map[string]*Method)}
}

func (c *Context) nextID() ValueID {
	return ValueID(c.ids.Inc())
}

// CreateMethod declares a method. The name must be unique within the
// context.
func (c *Context) CreateMethod(name string, flags MethodFlags, ret Type) (*Method, error) {
	if _, ok := c.methods[name]; ok {
		return nil, fmt.Errorf("ir: method %q already declared", name)
	}
	m := &Method{
		ctx:    c,
		id:     int(c.methodIDs.Inc()),
		Name:   name,
		Flags:  flags,
		Return: ret,
	}
	c.methods[name] = m
	c.order = append(c.order, m)
	return m, nil
}

// MustCreateMethod is CreateMethod for construction code where a duplicate
// name is a programming error.
func (c *Context) MustCreateMethod(name string, flags MethodFlags, ret Type) *Method {
	m, err := c.CreateMethod(name, flags, ret)
	if err != nil {
		panic(err)
	}
	return m
}

// Method looks up a method by name.
func (c *Context) Method(name string) (*Method, bool) {
	m, ok := c.methods[name]
	return m, ok
}

// Methods returns all methods in declaration order.
func (c *Context) Methods() []*Method {
	out := make([]*Method, len(c.order))
	copy(out, c.order)
	return out
}

// NumMethods returns the number of declared methods.
func (c *Context) NumMethods() int { return len(c.order) }
