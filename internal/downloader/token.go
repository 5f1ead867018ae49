package downloader

import (
	"context"
	"errors"
)

// Token is the cancellation handle of one download. Cancelling it is
// observed by the transport, the body read and the artifact write.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewToken creates a token that is also cancelled when parent is done.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

// Context returns the context carried through the download.
func (t *Token) Context() context.Context {
	return t.ctx
}

// Cancel signals cancellation. Safe to call more than once.
func (t *Token) Cancel() {
	t.cancel(ErrCancelled)
}

// Cancelled reports whether the token, or its parent, was cancelled.
// A parent deadline does not count as cancellation.
func (t *Token) Cancelled() bool {
	return errors.Is(context.Cause(t.ctx), context.Canceled)
}

// Err returns the cancellation cause, or nil while the token is live.
func (t *Token) Err() error {
	return context.Cause(t.ctx)
}

// release frees the token's resources once its download is finished.
func (t *Token) release() {
	t.cancel(context.Canceled)
}
