// Package rpc exposes the autopilot service to out-of-process DSL runners
// over JSON-RPC. Resume approvals are not part of this surface; they belong
// to operators on the HTTP API.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/Axion-inc/DesktopAgent-sub001/internal/domain"
	"github.com/Axion-inc/DesktopAgent-sub001/internal/service"
)

// Server accepts JSON-RPC connections from runners.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	logger    *slog.Logger
	done      chan struct{}
}

// NewServer creates a new RPC server bound to the autopilot service.
func NewServer(svc *service.Service, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rpcServer := rpc.NewServer()
	handler := &Handler{service: svc}
	if err := rpcServer.RegisterName("Autopilot", handler); err != nil {
		return nil, fmt.Errorf("register rpc handler: %w", err)
	}

	return &Server{
		rpcServer: rpcServer,
		logger:    logger,
		done:      make(chan struct{}),
	}, nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until it is closed.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			s.logger.Warn("rpc accept error", "error", err)
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements the Autopilot RPC methods.
type Handler struct {
	service *service.Service
}

// ExecutionArgs identifies an execution.
type ExecutionArgs struct {
	ExecutionID string `json:"execution_id"`
}

// RecordStepArgs wraps an execution id with a step event.
type RecordStepArgs struct {
	ExecutionID string                  `json:"execution_id"`
	Request     domain.StepEventRequest `json:"request"`
}

// FinalizeArgs closes an execution.
type FinalizeArgs struct {
	ExecutionID string `json:"execution_id"`
	Success     bool   `json:"success"`
}

// Validate runs the autopilot decision for a manifest.
func (h *Handler) Validate(req *domain.ValidateRequest, resp *domain.AutopilotDecision) error {
	if req == nil {
		return errors.New("validate request is required")
	}

	decision, err := h.service.ValidateExecution(context.Background(), *req)
	if err != nil {
		return err
	}
	if resp != nil {
		*resp = decision
	}
	return nil
}

// StartExecution registers a monitor for a validated execution.
func (h *Handler) StartExecution(req *domain.StartExecutionRequest, resp *domain.Execution) error {
	if req == nil {
		return errors.New("start request is required")
	}
	if req.ExecutionID == "" {
		return errors.New("execution_id is required")
	}

	exec, err := h.service.StartExecution(context.Background(), *req)
	if err != nil {
		return err
	}
	if resp != nil && exec != nil {
		*resp = *exec
	}
	return nil
}

// RecordStep records a step event and returns the safety verdict.
func (h *Handler) RecordStep(req *RecordStepArgs, resp *domain.StepEventResponse) error {
	if req == nil {
		return errors.New("step request is required")
	}
	if req.ExecutionID == "" {
		return errors.New("execution_id is required")
	}

	result, err := h.service.RecordStepEvent(context.Background(), req.ExecutionID, req.Request)
	if err != nil {
		return err
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// CheckSafety runs the deviation checks for an execution.
func (h *Handler) CheckSafety(req *ExecutionArgs, resp *domain.SafetyResponse) error {
	if req == nil || req.ExecutionID == "" {
		return errors.New("execution_id is required")
	}

	result, err := h.service.CheckSafety(context.Background(), req.ExecutionID)
	if err != nil {
		return err
	}
	if resp != nil && result != nil {
		*resp = *result
	}
	return nil
}

// Finalize closes an execution.
func (h *Handler) Finalize(req *FinalizeArgs, resp *domain.Execution) error {
	if req == nil || req.ExecutionID == "" {
		return errors.New("execution_id is required")
	}

	exec, err := h.service.FinalizeExecution(context.Background(), req.ExecutionID, req.Success)
	if err != nil {
		return err
	}
	if resp != nil && exec != nil {
		*resp = *exec
	}
	return nil
}
