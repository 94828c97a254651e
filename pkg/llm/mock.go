package llm

import (
	"context"
	"errors"
	"sync"
)

// ScriptedClient returns pre-programmed responses in order. Used by agent
// and pipeline tests.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	Requests  []*Request
}

// NewScriptedClient creates an empty script.
func NewScriptedClient() *ScriptedClient {
	return &ScriptedClient{}
}

// Enqueue appends a successful response to the script.
func (s *ScriptedClient) Enqueue(resp *Response) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	s.errs = append(s.errs, nil)
	return s
}

// EnqueueError appends a failing call to the script.
func (s *ScriptedClient) EnqueueError(err error) *ScriptedClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, nil)
	s.errs = append(s.errs, err)
	return s
}

// Complete pops the next scripted response, recording the request.
func (s *ScriptedClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, req)
	if len(s.responses) == 0 {
		return nil, errors.New("scripted client exhausted")
	}
	resp, err := s.responses[0], s.errs[0]
	s.responses = s.responses[1:]
	s.errs = s.errs[1:]
	if err != nil {
		return nil, err
	}
	return resp, nil
}
