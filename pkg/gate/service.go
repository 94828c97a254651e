package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Waconiajohn/resume-agent-sub002/pkg/config"
	"github.com/Waconiajohn/resume-agent-sub002/pkg/services"
)

// SessionStore is the slice of the session service the gate protocol needs.
type SessionStore interface {
	GetGateState(ctx context.Context, sessionID string) (string, map[string]any, error)
	SetPendingGate(ctx context.Context, sessionID, gateName string, payload map[string]any) error
	UpdateGateData(ctx context.Context, sessionID, expectedGate string, payload map[string]any) error
	SaveGatePayload(ctx context.Context, sessionID string, payload map[string]any) error
	ClearPendingGate(ctx context.Context, sessionID string, payload map[string]any) error
}

// DeliveryStatus reports where a user response ended up.
type DeliveryStatus string

// Delivery statuses.
const (
	// Delivered means the pending gate matched and a waiter (if any) was woken.
	Delivered DeliveryStatus = "delivered"
	// Buffered means no matching gate was pending; the response is queued for
	// when the pipeline reaches that gate.
	Buffered DeliveryStatus = "buffered"
	// Duplicate means the gate was already answered; the response was dropped.
	Duplicate DeliveryStatus = "duplicate"
)

// Service implements the suspend/resume protocol between the pipeline and the
// user: the pipeline parks on WaitForUser, the HTTP layer delivers answers via
// Respond. Answers that arrive before their gate are buffered durably.
type Service struct {
	store        SessionStore
	registry     *Registry
	queueCfg     *config.GateQueueConfig
	pollInterval time.Duration

	now func() time.Time
}

// NewService creates the gate service.
func NewService(store SessionStore, registry *Registry, queueCfg *config.GateQueueConfig, pollInterval time.Duration) *Service {
	return &Service{
		store:        store,
		registry:     registry,
		queueCfg:     queueCfg,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// WaitForUser suspends until the user answers gateName. The buffered queue is
// consulted first so answers submitted ahead of the gate resolve immediately.
// The pending gate is always cleared on the way out, including on error.
func (s *Service) WaitForUser(ctx context.Context, sessionID, gateName string) (any, error) {
	_, payload, err := s.store.GetGateState(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load gate state: %w", err)
	}

	if remaining, queued := TakeQueuedResponse(payload, gateName, s.queueCfg); queued != nil {
		if err := s.store.SaveGatePayload(ctx, sessionID, remaining); err != nil {
			return nil, fmt.Errorf("failed to consume buffered response: %w", err)
		}
		slog.Info("Gate satisfied from buffered response",
			"session_id", sessionID, "gate", gateName)
		return queued.Response, nil
	}

	pending := WithPendingGate(payload, gateName, s.now())
	if err := s.store.SetPendingGate(ctx, sessionID, gateName, pending); err != nil {
		return nil, fmt.Errorf("failed to install pending gate: %w", err)
	}

	resp, err := s.registry.Wait(ctx, sessionID, gateName, s.pollInterval, func(ctx context.Context) (*Response, error) {
		return s.poll(ctx, sessionID, gateName)
	})
	if err != nil {
		s.clear(context.WithoutCancel(ctx), sessionID)
		return nil, err
	}

	s.clear(ctx, sessionID)
	return resp.Value, nil
}

// poll is the durable fallback: it finds an answered descriptor or a buffered
// queue entry for the gate and consumes it.
func (s *Service) poll(ctx context.Context, sessionID, gateName string) (*Response, error) {
	_, payload, err := s.store.GetGateState(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if d := CurrentGate(payload); d != nil && d.Gate == gateName && d.RespondedAt != nil {
		return &Response{Gate: gateName, Value: d.Response}, nil
	}
	remaining, queued := TakeQueuedResponse(payload, gateName, s.queueCfg)
	if queued == nil {
		return nil, nil
	}
	if err := s.store.SaveGatePayload(ctx, sessionID, remaining); err != nil {
		return nil, err
	}
	return &Response{Gate: gateName, Value: queued.Response}, nil
}

// clear drops the gate descriptor while preserving the buffered queue.
func (s *Service) clear(ctx context.Context, sessionID string) {
	_, payload, err := s.store.GetGateState(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to load gate state for clear", "session_id", sessionID, "error", err)
		return
	}
	if err := s.store.ClearPendingGate(ctx, sessionID, ClearGate(payload)); err != nil {
		slog.Warn("Failed to clear pending gate", "session_id", sessionID, "error", err)
	}
}

// Respond delivers a user answer. If the named gate is currently pending and
// unanswered, the answer is written to the descriptor and any in-process
// waiter is woken. If the gate is already answered the response is dropped.
// Otherwise the answer is buffered for when the pipeline reaches the gate.
func (s *Service) Respond(ctx context.Context, sessionID, gateName string, response any) (DeliveryStatus, error) {
	pendingGate, payload, err := s.store.GetGateState(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load gate state: %w", err)
	}

	if pendingGate == gateName {
		updated, ok := WithResponse(payload, response, s.now())
		if !ok {
			slog.Info("Gate already answered, dropping response",
				"session_id", sessionID, "gate", gateName)
			return Duplicate, nil
		}
		err := s.store.UpdateGateData(ctx, sessionID, gateName, updated)
		if err == nil {
			s.registry.Notify(sessionID, Response{Gate: gateName, Value: response})
			return Delivered, nil
		}
		if !errors.Is(err, services.ErrGateMismatch) {
			return "", fmt.Errorf("failed to record gate response: %w", err)
		}
		// The gate moved between our read and write; fall through to buffer.
	}

	buffered := AppendQueuedResponse(payload, gateName, response, s.now(), s.queueCfg)
	if err := s.store.SaveGatePayload(ctx, sessionID, buffered); err != nil {
		return "", fmt.Errorf("failed to buffer gate response: %w", err)
	}
	slog.Info("Gate response buffered", "session_id", sessionID, "gate", gateName)
	return Buffered, nil
}
