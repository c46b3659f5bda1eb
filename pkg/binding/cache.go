package binding

import (
	"strings"
	"sync"
)

type cacheKey struct {
	chainID uint64
	address string
}

// Cache holds one Binding per (chain, address).
//
// The first ABI registered for a contract wins; later callers get the cached
// binding even when they pass a different ABI.
type Cache struct {
	bindings sync.Map // cacheKey -> *Binding
}

// NewCache creates an empty binding cache
func NewCache() *Cache {
	return &Cache{}
}

// GetOrCreate returns the cached binding for (chainID, address) or builds one from abiJSON
func (c *Cache) GetOrCreate(chainID uint64, address string, abiJSON []byte, eventName string) (*Binding, error) {
	key := cacheKey{chainID: chainID, address: strings.ToLower(address)}

	if b, ok := c.bindings.Load(key); ok {
		return b.(*Binding), nil
	}

	b, err := New(chainID, address, abiJSON, eventName)
	if err != nil {
		return nil, err
	}

	actual, _ := c.bindings.LoadOrStore(key, b)
	return actual.(*Binding), nil
}

// Len returns the number of cached bindings
func (c *Cache) Len() int {
	n := 0
	c.bindings.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Clear drops every cached binding
func (c *Cache) Clear() {
	c.bindings.Range(func(k, _ any) bool {
		c.bindings.Delete(k)
		return true
	})
}
