package llm

import (
	"context"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/usage"
)

// RecordingClient forwards calls to an inner client and records every call's
// token usage against a session in the tracker.
type RecordingClient struct {
	inner     Client
	tracker   *usage.Tracker
	sessionID string
}

// NewRecordingClient wraps a client for one session's run.
func NewRecordingClient(inner Client, tracker *usage.Tracker, sessionID string) *RecordingClient {
	return &RecordingClient{inner: inner, tracker: tracker, sessionID: sessionID}
}

// Complete delegates and records usage. Usage is recorded even when the
// caller discards the response.
func (c *RecordingClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	c.tracker.Add(c.sessionID, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return resp, nil
}
