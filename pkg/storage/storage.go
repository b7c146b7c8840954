// Package storage provides the key-value collaborator the script-side wallet
// library uses to persist its state. The contract is four methods: get, set,
// remove and clear. Values are opaque strings owned entirely by the script side.
package storage

type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
	Clear() error
}
