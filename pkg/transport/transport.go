// Package transport carries requests to the agent backend: the long-lived
// streaming query request, the non-streaming send, and the feedback API
// keyed by server-assigned numeric ids. The engine only ever sees these
// interfaces; credentials arrive pre-authorized via a TokenSource.
package transport

import "context"

// StreamHandlers receive the raw stream: one callback per NDJSON line and
// one when the transport closes. OnClose receives nil on clean EOF.
type StreamHandlers struct {
	OnLine  func(line []byte)
	OnClose func(err error)
}

// Agent issues requests against the conversational backend.
type Agent interface {
	// OpenStream starts the streaming query request. The returned cancel
	// aborts the transport; late data after cancel is dropped.
	OpenStream(ctx context.Context, body interface{}, h StreamHandlers) (cancel func(), err error)
	// Send performs a non-streaming request and returns the raw response.
	Send(ctx context.Context, path string, body interface{}) ([]byte, error)
}

// Feedback is the vote/comment/rename/delete surface, keyed by the
// server-assigned numeric ids (response id for votes, thread id for the
// thread calls).
type Feedback interface {
	Vote(ctx context.Context, responseID int64, upvote bool) error
	Comment(ctx context.Context, responseID int64, comment string) error
	Rename(ctx context.Context, threadID int64, title string) error
	Delete(ctx context.Context, threadID int64) error
}

// TokenSource supplies the current access token. The session manager
// refreshes it in the background; the transport just reads it per request.
type TokenSource func() string
