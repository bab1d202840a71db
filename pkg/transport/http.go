package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"threadsync/pkg/logger"
)

// Backend routes. cmd/agentsim serves the same paths.
const (
	PathStream  = "/v1/agent/stream"
	PathQuery   = "/v1/agent/query"
	PathRefresh = "/v1/session/refresh"

	PathVote   = "/v1/feedback/vote"
	PathTitle  = "/v1/threads/title"
	PathDelete = "/v1/threads/delete"
)

// HTTPAgent talks to the backend over fasthttp. The streaming request uses
// a body stream so frames are delivered as they arrive; everything else is
// a plain request/response. Feedback calls share a token-bucket limiter so
// vote storms cannot starve the stream.
type HTTPAgent struct {
	BaseURL string
	Token   TokenSource
	// MaxLineBytes caps one NDJSON frame; lines past it abort the stream.
	MaxLineBytes int64

	client  *fasthttp.Client
	limiter *rate.Limiter
}

// NewHTTPAgent builds a transport against baseURL. token may be nil for
// backends that need no credential (the dev simulator).
func NewHTTPAgent(baseURL string, token TokenSource) *HTTPAgent {
	return &HTTPAgent{
		BaseURL:      baseURL,
		Token:        token,
		MaxLineBytes: 1 << 20,
		client: &fasthttp.Client{
			StreamResponseBody: true,
			ReadTimeout:        0, // the stream stays open as long as the agent talks
			WriteTimeout:       30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (a *HTTPAgent) prepare(req *fasthttp.Request, path string, body interface{}) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req.SetRequestURI(a.BaseURL + path)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if a.Token != nil {
		if tok := a.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	req.SetBody(b)
	return nil
}

// OpenStream issues the streaming query and pumps NDJSON lines to h.OnLine
// on a dedicated goroutine until EOF, error or cancellation.
func (a *HTTPAgent) OpenStream(ctx context.Context, body interface{}, h StreamHandlers) (func(), error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	if err := a.prepare(req, PathStream, body); err != nil {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, err
	}
	if err := a.client.Do(req, resp); err != nil {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, fmt.Errorf("open stream: %w", err)
	}
	fasthttp.ReleaseRequest(req)
	if resp.StatusCode() != fasthttp.StatusOK {
		code := resp.StatusCode()
		fasthttp.ReleaseResponse(resp)
		return nil, fmt.Errorf("open stream: unexpected status %d", code)
	}

	var canceled atomic.Bool
	cancel := func() {
		if canceled.CompareAndSwap(false, true) {
			// Closing the body stream unblocks the reader goroutine.
			_ = resp.CloseBodyStream()
		}
	}

	go func() {
		defer fasthttp.ReleaseResponse(resp)
		sc := bufio.NewScanner(resp.BodyStream())
		max := int(a.MaxLineBytes)
		if max <= 0 {
			max = 1 << 20
		}
		sc.Buffer(make([]byte, 0, 64*1024), max)
		for sc.Scan() {
			if canceled.Load() || ctx.Err() != nil {
				break
			}
			line := bytes.TrimSpace(sc.Bytes())
			if len(line) == 0 {
				continue
			}
			h.OnLine(line)
		}
		err := sc.Err()
		if canceled.Load() || ctx.Err() != nil {
			err = context.Canceled
		} else if err == io.EOF {
			err = nil
		}
		if h.OnClose != nil {
			h.OnClose(err)
		}
	}()
	return cancel, nil
}

// Send performs a plain request and returns the response body.
func (a *HTTPAgent) Send(ctx context.Context, path string, body interface{}) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	if err := a.prepare(req, path, body); err != nil {
		return nil, err
	}
	deadline, ok := ctx.Deadline()
	var err error
	if ok {
		err = a.client.DoDeadline(req, resp, deadline)
	} else {
		err = a.client.Do(req, resp)
	}
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", path, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("send %s: unexpected status %d", path, resp.StatusCode())
	}
	return append([]byte(nil), resp.Body()...), nil
}

// feedback wraps Send with the rate limiter.
func (a *HTTPAgent) feedback(ctx context.Context, path string, body interface{}) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := a.Send(ctx, path, body)
	if err != nil {
		logger.Warn("feedback_call_failed", zap.String("path", path), zap.Error(err))
	}
	return err
}

// Vote records an up/down vote against a server response id.
func (a *HTTPAgent) Vote(ctx context.Context, responseID int64, upvote bool) error {
	return a.feedback(ctx, PathVote, map[string]interface{}{
		"agent_response_id": responseID,
		"is_upvote":         upvote,
	})
}

// Comment attaches a free-text comment to a server response id.
func (a *HTTPAgent) Comment(ctx context.Context, responseID int64, comment string) error {
	return a.feedback(ctx, PathVote, map[string]interface{}{
		"agent_response_id": responseID,
		"comment":           comment,
	})
}

// Rename sets a thread title server-side.
func (a *HTTPAgent) Rename(ctx context.Context, threadID int64, title string) error {
	return a.feedback(ctx, PathTitle, map[string]interface{}{
		"thread_id": threadID,
		"title":     title,
	})
}

// Delete removes a thread server-side.
func (a *HTTPAgent) Delete(ctx context.Context, threadID int64) error {
	return a.feedback(ctx, PathDelete, map[string]interface{}{
		"thread_id": threadID,
	})
}

var (
	_ Agent    = (*HTTPAgent)(nil)
	_ Feedback = (*HTTPAgent)(nil)
)
