package parlance

import (
	"fmt"

	"github.com/raskyld/parlance/pkg/store"
)

// HeaderSpec declares a named credential the client can attach to
// authenticated connects.
type HeaderSpec struct {
	Name string

	// Key is the storage key and, for HTTP use, the header field name.
	Key string

	// Value is the initial credential value.
	Value string

	// Automatic headers are backed by a KeyValueStore: SetHeader persists
	// the value and CheckHeaders reloads it, so a credential survives
	// process restarts when the store is durable.
	Automatic bool
	Storage   store.KeyValueStore
}

// Header is the resolved (key, value) pair of a registered header.
type Header struct {
	Key   string
	Value string
}

// RegisterHeader stores the header by name. Automatic headers need a
// storage backend.
func (c *Client) RegisterHeader(spec HeaderSpec) error {
	if spec.Automatic && spec.Storage == nil {
		return fmt.Errorf("%w: automatic header %q needs a storage backend", ErrInvalidCfg, spec.Name)
	}
	c.lk.Lock()
	defer c.lk.Unlock()
	c.headers[spec.Name] = &spec
	return nil
}

// Headers lists the registered header names.
func (c *Client) Headers() []string {
	c.lk.Lock()
	defer c.lk.Unlock()
	names := make([]string, 0, len(c.headers))
	for name := range c.headers {
		names = append(names, name)
	}
	return names
}

// GetHeader resolves a registered header.
func (c *Client) GetHeader(name string) (Header, error) {
	c.lk.Lock()
	defer c.lk.Unlock()
	spec, ok := c.headers[name]
	if !ok {
		return Header{}, fmt.Errorf("%w: %q", ErrHeaderNotFound, name)
	}
	return Header{Key: spec.Key, Value: spec.Value}, nil
}

// SetHeader updates a registered header, persisting the value when the
// header is automatic.
func (c *Client) SetHeader(name, value string) error {
	c.lk.Lock()
	spec, ok := c.headers[name]
	if !ok {
		c.lk.Unlock()
		return fmt.Errorf("%w: %q", ErrHeaderNotFound, name)
	}
	spec.Value = value
	c.lk.Unlock()

	if spec.Automatic {
		return spec.Storage.SetItem(spec.Key, value)
	}
	return nil
}

// CheckHeaders reloads every automatic header from its storage backend.
// Missing keys leave the in-memory value untouched.
func (c *Client) CheckHeaders() error {
	c.lk.Lock()
	specs := make([]*HeaderSpec, 0, len(c.headers))
	for _, spec := range c.headers {
		if spec.Automatic {
			specs = append(specs, spec)
		}
	}
	c.lk.Unlock()

	for _, spec := range specs {
		val, ok, err := spec.Storage.GetItem(spec.Key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		c.lk.Lock()
		spec.Value = val
		c.lk.Unlock()
	}
	return nil
}

// headerValue is what socket channels use at connect time to fetch the
// credential named by their AuthHeader.
func (c *Client) headerValue(name string) (string, error) {
	header, err := c.GetHeader(name)
	if err != nil {
		return "", err
	}
	return header.Value, nil
}
