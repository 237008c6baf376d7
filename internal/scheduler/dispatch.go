package scheduler

import (
	"context"

	"tootplan/internal/entity"
	"tootplan/internal/platform"
)

// CredentialDecryptor is the boundary to the credential store. The engine
// only ever sees plaintext credentials transiently, inside one dispatch.
type CredentialDecryptor interface {
	Decrypt(stored string) (string, error)
}

// Outcome is the fully classified result of one publish attempt. Adapter
// faults never escape Dispatch as errors; they are folded in here so a bad
// post cannot take down the polling loop.
type Outcome struct {
	Success      bool
	ErrorKind    platform.ErrorKind
	Error        string
	PublishedURL string
}

// Dispatcher routes a post to the adapter registered for its account's
// platform.
type Dispatcher struct {
	registry  *platform.Registry
	decryptor CredentialDecryptor
}

func NewDispatcher(registry *platform.Registry, decryptor CredentialDecryptor) *Dispatcher {
	return &Dispatcher{registry: registry, decryptor: decryptor}
}

func (d *Dispatcher) Dispatch(ctx context.Context, post *entity.Post, account *entity.Account) (outcome Outcome) {
	// A panicking adapter must not crash the scheduler mid-batch.
	defer func() {
		if r := recover(); r != nil {
			outcome = failure(platform.NewError(platform.KindUnexpected, "Unexpected error: %v", r))
		}
	}()

	adapter, err := d.registry.Resolve(account.Platform)
	if err != nil {
		return failure(err)
	}

	credential, err := d.decryptor.Decrypt(account.EncryptedCredentials)
	if err != nil {
		return failure(platform.NewError(platform.KindCredentialDecryption, "Failed to decrypt credentials: %v", err))
	}

	target := platform.Target{InstanceURL: account.InstanceURL}
	publishedURL, err := adapter.Publish(ctx, target, credential, post.Content)
	if err != nil {
		return failure(err)
	}

	return Outcome{Success: true, PublishedURL: publishedURL}
}

func failure(err error) Outcome {
	return Outcome{
		Success:   false,
		ErrorKind: platform.KindOf(err),
		Error:     err.Error(),
	}
}
