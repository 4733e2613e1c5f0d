// Package pkgkey defines the identity of one processing target.
//
// A [Key] is the (ecosystem, name, version) triple that names a published
// package. The same key is used as the object store path prefix, the status
// registry partition key and the subscription topic, so its string forms are
// fixed:
//
//	rust:serde:1.0.193     // String, used on the wire and as topic
//	rust/serde/1.0.193     // Path, used as the storage prefix
package pkgkey

import (
	"strings"

	"github.com/matzehuels/symgraph/pkg/errors"
)

// Separator joins the key segments in the wire form.
const Separator = ":"

// Key identifies a package version within an ecosystem. Keys are immutable
// values and safe to use as map keys.
type Key struct {
	Ecosystem string `json:"ecosystem" bson:"ecosystem"`
	Name      string `json:"name" bson:"name"`
	Version   string `json:"version" bson:"version"`
}

// New builds a key after validating each segment.
func New(ecosystem, name, version string) (Key, error) {
	k := Key{
		Ecosystem: strings.ToLower(strings.TrimSpace(ecosystem)),
		Name:      strings.TrimSpace(name),
		Version:   strings.TrimSpace(version),
	}
	return k, k.Validate()
}

// Parse decodes the "ecosystem:name:version" form.
// Missing or empty segments yield an [errors.ErrCodeInvalidKey] error.
func Parse(raw string) (Key, error) {
	parts := strings.Split(strings.TrimSpace(raw), Separator)
	if len(parts) != 3 {
		return Key{}, errors.New(errors.ErrCodeInvalidKey, "key must be ecosystem:name:version, got %q", raw)
	}
	k, err := New(parts[0], parts[1], parts[2])
	if err != nil {
		return Key{}, errors.Wrap(errors.ErrCodeInvalidKey, err, "invalid key %q", raw)
	}
	return k, nil
}

// Validate checks that every segment is present and safe to embed in a
// storage path.
func (k Key) Validate() error {
	if k.Ecosystem == "" {
		return errors.New(errors.ErrCodeInvalidKey, "ecosystem cannot be empty")
	}
	if strings.ContainsAny(k.Ecosystem, "/\\: ") {
		return errors.New(errors.ErrCodeInvalidKey, "invalid ecosystem %q", k.Ecosystem)
	}
	if err := errors.ValidatePackageName(k.Name); err != nil {
		return err
	}
	return errors.ValidateVersion(k.Version)
}

// IsZero reports whether k is the zero key.
func (k Key) IsZero() bool { return k == Key{} }

// String returns the wire form "ecosystem:name:version".
func (k Key) String() string {
	return k.Ecosystem + Separator + k.Name + Separator + k.Version
}

// Path returns the storage prefix "ecosystem/name/version".
func (k Key) Path() string {
	return k.Ecosystem + "/" + k.Name + "/" + k.Version
}

// Object returns the storage path of a named object under this key.
func (k Key) Object(name string) string {
	return k.Path() + "/" + strings.TrimLeft(name, "/")
}

// WithVersion returns a copy of k pointing at another version.
func (k Key) WithVersion(version string) Key {
	k.Version = version
	return k
}

// Package returns the version-less identity "ecosystem:name".
func (k Key) Package() string {
	return k.Ecosystem + Separator + k.Name
}
