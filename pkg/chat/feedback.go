package chat

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"threadsync/pkg/logger"
	"threadsync/pkg/models"
)

// Vote records an up or down vote on an assistant message. The remote call
// goes first; local flags flip only after it succeeds, so a rejected vote
// leaves the message untouched. Voting the already-set direction is a
// no-op, and a vote already in flight for the message absorbs later calls
// so the server sees at most one.
func (o *Orchestrator) Vote(ctx context.Context, messageID string, upvote bool) error {
	o.mu.Lock()
	m := o.findMessageLocked(messageID)
	if m == nil {
		o.mu.Unlock()
		return ErrUnknownMessage
	}
	if (upvote && m.Meta.IsUpvote) || (!upvote && m.Meta.IsDownvote) {
		o.mu.Unlock()
		return nil
	}
	if o.voteInFlight[messageID] {
		o.mu.Unlock()
		return nil
	}
	o.voteInFlight[messageID] = true
	respID := o.resolveResponseIDLocked(m)
	o.mu.Unlock()

	clear := func() {
		o.mu.Lock()
		delete(o.voteInFlight, messageID)
		o.mu.Unlock()
	}

	if respID == 0 {
		clear()
		o.events.OnWarning("this response cannot be voted on")
		return ErrNoResponseID
	}
	if err := o.feedback.Vote(ctx, respID, upvote); err != nil {
		clear()
		o.events.OnWarning("vote was not recorded")
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.voteInFlight, messageID)
	for i := range o.messages {
		if o.messages[i].ID == messageID {
			o.messages[i].Meta.IsUpvote = upvote
			o.messages[i].Meta.IsDownvote = !upvote
		}
	}
	if rec := o.store.GetMessage(messageID); rec != nil {
		rec.Meta.IsUpvote = upvote
		rec.Meta.IsDownvote = !upvote
		o.persistMessageLocked(*rec)
	}
	return nil
}

// Comment attaches free-text feedback to an assistant message.
func (o *Orchestrator) Comment(ctx context.Context, messageID, comment string) error {
	o.mu.Lock()
	m := o.findMessageLocked(messageID)
	if m == nil {
		o.mu.Unlock()
		return ErrUnknownMessage
	}
	respID := o.resolveResponseIDLocked(m)
	o.mu.Unlock()
	if respID == 0 {
		return ErrNoResponseID
	}
	return o.feedback.Comment(ctx, respID, comment)
}

// findMessageLocked looks the message up in memory first, then the store.
func (o *Orchestrator) findMessageLocked(id string) *models.Message {
	for i := range o.messages {
		if o.messages[i].ID == id {
			return &o.messages[i]
		}
	}
	return o.store.GetMessage(id)
}

// resolveResponseIDLocked finds the server response id for a message. The
// in-memory copy usually carries it; otherwise the stored record, and as a
// last resort a content-equality match against the thread's stored
// messages (covers records written before the id arrived).
func (o *Orchestrator) resolveResponseIDLocked(m *models.Message) int64 {
	if m.Meta.ResponseID != 0 {
		return m.Meta.ResponseID
	}
	if rec := o.store.GetMessage(m.ID); rec != nil && rec.Meta.ResponseID != 0 {
		return rec.Meta.ResponseID
	}
	for _, rec := range o.store.ListMessages(m.Thread) {
		if rec.Role == models.RoleAssistant && rec.Content == m.Content && rec.Meta.ResponseID != 0 {
			return rec.Meta.ResponseID
		}
	}
	return 0
}

// DeleteThread removes a thread locally and tells the server best-effort.
// The local removal is not rolled back if the remote call fails.
func (o *Orchestrator) DeleteThread(ctx context.Context, threadID string) error {
	o.mu.Lock()
	serverID := o.serverThreadIDLocked(threadID)
	delete(o.threads, threadID)
	if o.activeThread == threadID {
		o.abortStreamLocked()
		o.activeThread = ""
		o.messages = nil
		if o.cstate != nil {
			o.cstate.SetActiveThreadID("")
		}
	}
	if err := o.store.DeleteThread(threadID); err != nil {
		logger.Error("thread_delete_failed", zap.String("thread", threadID), zap.Error(err))
	}
	o.mu.Unlock()

	if serverID != 0 {
		if err := o.feedback.Delete(ctx, serverID); err != nil {
			logger.Warn("remote_thread_delete_failed",
				zap.Int64("thread", serverID), zap.Error(err))
		}
	}
	return nil
}

// RenameThread sets a thread title locally and tells the server
// best-effort. Local-only threads rename locally and skip the call.
func (o *Orchestrator) RenameThread(ctx context.Context, threadID, title string) error {
	o.mu.Lock()
	th := o.store.GetThread(threadID)
	if th == nil {
		o.mu.Unlock()
		return ErrUnknownMessage
	}
	th.Title = title
	th.Touch()
	if err := o.store.SaveThread(*th); err != nil {
		logger.Error("thread_rename_persist_failed", zap.String("thread", threadID), zap.Error(err))
	}
	o.threads[th.ID] = *th
	serverID := o.serverThreadIDLocked(threadID)
	o.mu.Unlock()

	if serverID != 0 {
		if err := o.feedback.Rename(ctx, serverID, title); err != nil {
			logger.Warn("remote_thread_rename_failed",
				zap.Int64("thread", serverID), zap.Error(err))
		}
	}
	return nil
}

// serverThreadIDLocked resolves a thread's numeric server id, 0 when the
// thread is still local-only.
func (o *Orchestrator) serverThreadIDLocked(threadID string) int64 {
	candidate := threadID
	if th := o.store.GetThread(threadID); th != nil && models.IsLocalID(candidate) && th.Meta.ServerThreadID != "" {
		candidate = th.Meta.ServerThreadID
	}
	if models.IsLocalID(candidate) {
		return 0
	}
	n, err := strconv.ParseInt(candidate, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
