// Package platform holds the per-network publishing adapters and the
// normalized error taxonomy they translate remote failures into.
package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a publish failure. All kinds are retried uniformly;
// the engine does not guess which ones are permanent.
type ErrorKind string

const (
	KindUnreachableHost      ErrorKind = "unreachable_host"
	KindUnauthorized         ErrorKind = "unauthorized"
	KindRemoteRejected       ErrorKind = "remote_rejected"
	KindUnsupportedPlatform  ErrorKind = "unsupported_platform"
	KindCredentialDecryption ErrorKind = "credential_decryption_failed"
	KindUnexpected           ErrorKind = "unexpected"
)

type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a classified error, or KindUnexpected for
// anything opaque.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnexpected
}

// callTimeout bounds every outbound platform call so a hung request cannot
// stall the scheduler loop.
const callTimeout = 15 * time.Second

// Target carries the per-account routing data an adapter needs besides the
// credential itself.
type Target struct {
	InstanceURL string
}

// AccountInfo is the normalized result of a credential verification.
type AccountInfo struct {
	AccountID   string
	Username    string
	DisplayName string
	AvatarURL   string
}

// Adapter is the uniform capability each social network implements.
type Adapter interface {
	Name() string
	// Publish posts content and returns the URL (or URI) of the published post.
	Publish(ctx context.Context, target Target, credential, content string) (string, error)
	// VerifyCredential checks the stored credential against the live platform.
	VerifyCredential(ctx context.Context, target Target, credential string) (*AccountInfo, error)
}

// Registry maps platform identifiers to adapters. Adding a platform means
// adding one entry here.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Resolve returns the adapter for a platform identifier, or a classified
// UnsupportedPlatform error when none is registered.
func (r *Registry) Resolve(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, NewError(KindUnsupportedPlatform, "Unsupported platform: %s", name)
	}
	return a, nil
}
