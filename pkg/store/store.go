// Package store provides the key-value capability the runtime persists
// credentials with. Implementations share no state: each one is an
// independent realization of KeyValueStore.
package store

// KeyValueStore is a minimal string-keyed store. GetItem reports
// presence explicitly instead of returning a sentinel value.
type KeyValueStore interface {
	GetItem(key string) (value string, ok bool, err error)
	SetItem(key, value string) error
	RemoveItem(key string) error
	Clear() error
}
