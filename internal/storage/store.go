// Package storage provides content-addressable storage for rule outputs.
package storage

import (
	"context"
	"errors"
	"time"
)

// ObjectStore stores build artifacts addressed by hash. Rule outputs are
// stored under their rule key, so a hit means the rule has already been
// executed with identical inputs.
type ObjectStore interface {
	// Put stores an object and returns its hash.
	// If the object already exists, it returns the existing hash without writing.
	Put(ctx context.Context, obj *Object) (hash string, err error)

	// Get retrieves an object by hash.
	// Returns ErrNotFound if the object doesn't exist.
	Get(ctx context.Context, hash string) (*Object, error)

	// Exists checks if an object with the given hash exists.
	Exists(ctx context.Context, hash string) (bool, error)

	// Delete removes an object by hash.
	// Returns ErrNotFound if the object doesn't exist.
	Delete(ctx context.Context, hash string) error

	// List returns all object hashes matching the given type filter.
	// If objectType is empty, returns all objects.
	List(ctx context.Context, objectType ObjectType) ([]string, error)

	// Close releases any resources held by the store.
	Close() error
}

// Object represents a stored artifact with its metadata.
type Object struct {
	// Hash is the address of the object. When empty, Put uses the SHA256 of Data.
	Hash string

	// Type identifies the kind of object.
	Type ObjectType

	// Size is the size of the data in bytes.
	Size int64

	// Data is the object content.
	Data []byte

	// Metadata stores additional key-value pairs.
	Metadata Metadata
}

// Metadata stores object metadata.
type Metadata struct {
	CreatedAt    time.Time
	LastAccessed time.Time

	// RefCount counts Put calls for the same hash.
	RefCount int

	// Custom holds the producing target, output name and similar details.
	Custom map[string]string
}

// ObjectType identifies the kind of stored object.
type ObjectType string

const (
	// ObjectTypeRuleOutput is the output file of a rule, stored under its rule key.
	ObjectTypeRuleOutput ObjectType = "rule_output"

	// ObjectTypeBuildReport is a serialized build report.
	ObjectTypeBuildReport ObjectType = "build_report"
)

// Custom metadata keys.
const (
	MetaObjectType = "object_type"
	MetaTarget     = "target"
	MetaOutput     = "output"
	MetaMode       = "mode"
)

// ErrNotFound is returned when an object doesn't exist.
type ErrNotFound struct {
	Hash string
}

func (e ErrNotFound) Error() string {
	return "object not found: " + e.Hash
}

// IsNotFound returns true if err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
