package identity

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnknownState is returned when a callback carries a state no prompt is waiting for.
	ErrUnknownState = errors.New("unknown or expired authorization state")
	// ErrNoPrompter is returned when interactive acquisition is attempted without a Prompter.
	ErrNoPrompter = errors.New("no interactive prompter configured")
)

// AuthorizationPrompt is an authorization URL the user must visit to sign in.
type AuthorizationPrompt struct {
	Provider ProviderID `json:"provider"`
	State    string     `json:"state"`
	URL      string     `json:"authorizationUrl"`
}

// CallbackResponse carries the query parameters of the redirect back from the provider.
type CallbackResponse struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// Prompter shows an authorization URL to the user and waits for the redirect.
type Prompter interface {
	Prompt(ctx context.Context, prompt AuthorizationPrompt) (CallbackResponse, error)
}

// PrompterFunc adapts a function to the Prompter interface.
type PrompterFunc func(ctx context.Context, prompt AuthorizationPrompt) (CallbackResponse, error)

// Prompt implements Prompter.
func (f PrompterFunc) Prompt(ctx context.Context, prompt AuthorizationPrompt) (CallbackResponse, error) {
	return f(ctx, prompt)
}

// CallbackBroker bridges interactive acquisition and the HTTP callback endpoint.
// Prompt publishes the URL on Prompts and blocks until Deliver is called with the
// matching state or ctx ends.
type CallbackBroker struct {
	mu      sync.Mutex
	pending map[string]chan CallbackResponse
	prompts chan AuthorizationPrompt
}

// NewCallbackBroker creates an empty broker.
func NewCallbackBroker() *CallbackBroker {
	return &CallbackBroker{
		pending: make(map[string]chan CallbackResponse),
		prompts: make(chan AuthorizationPrompt, 1),
	}
}

// Prompt implements Prompter.
func (b *CallbackBroker) Prompt(ctx context.Context, prompt AuthorizationPrompt) (CallbackResponse, error) {
	ch := make(chan CallbackResponse, 1)

	b.mu.Lock()
	b.pending[prompt.State] = ch
	b.publish(prompt)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, prompt.State)
		b.mu.Unlock()
	}()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return CallbackResponse{}, ctx.Err()
	}
}

// publish replaces any unread prompt with the newest one. Callers hold b.mu.
func (b *CallbackBroker) publish(prompt AuthorizationPrompt) {
	for {
		select {
		case b.prompts <- prompt:
			return
		default:
		}
		select {
		case <-b.prompts:
		default:
		}
	}
}

// Prompts streams authorization URLs awaiting the user.
func (b *CallbackBroker) Prompts() <-chan AuthorizationPrompt {
	return b.prompts
}

// Pending reports whether a prompt is still waiting on state.
func (b *CallbackBroker) Pending(state string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.pending[state]
	return ok
}

// Deliver hands a callback to the prompt waiting on its state.
func (b *CallbackBroker) Deliver(resp CallbackResponse) error {
	b.mu.Lock()
	ch, ok := b.pending[resp.State]
	if ok {
		delete(b.pending, resp.State)
	}
	b.mu.Unlock()

	if !ok {
		return ErrUnknownState
	}
	ch <- resp
	return nil
}
