package daemon

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/neboloop/canvas/internal/protocol"
)

// call is one in-flight request.
type call struct {
	ctx  context.Context
	conn *conn
	req  protocol.Request
}

func (c *call) params(dst any) error { return decodeParams(c.req.Params, dst) }

type handlerFunc func(c *call) (any, error)

func (s *Server) routes() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.MethodPing:               s.handlePing,
		protocol.MethodDaemonStatus:       s.handleDaemonStatus,
		protocol.MethodDaemonStop:         s.handleDaemonStop,
		protocol.MethodConnect:            s.handleConnect,
		protocol.MethodDisconnect:         s.handleDisconnect,
		protocol.MethodStatus:             s.handleStatus,
		protocol.MethodScreenshotViewport: s.handleScreenshotViewport,
		protocol.MethodScreenshotElement:  s.handleScreenshotElement,
		protocol.MethodExecute:            s.handleExecute,
		protocol.MethodStyles:             s.handleStyles,
		protocol.MethodDOM:                s.handleDOM,
		protocol.MethodDescribe:           s.handleDescribe,
		protocol.MethodContext:            s.handleContext,
		protocol.MethodA11y:               s.handleA11y,
		protocol.MethodDiff:               s.handleDiff,
		protocol.MethodWatchConfigure:     s.handleWatchConfigure,
		protocol.MethodViewerStart:        s.handleViewerStart,
		protocol.MethodViewerStop:         s.handleViewerStop,
		protocol.MethodViewerStatus:       s.handleViewerStatus,
		protocol.MethodDoctor:             s.handleDoctor,
	}
}

// handleFrame answers one frame with exactly one response line.
func (s *Server) handleFrame(ctx context.Context, c *conn, frame []byte) {
	start := time.Now()

	req, perr := protocol.ParseRequest(frame)
	var (
		resp  protocol.Response
		after func()
	)
	if perr != nil {
		resp = protocol.Failure(req.ID, perr)
	} else {
		resp, after = s.dispatch(ctx, c, req)
	}

	if err := c.write(resp); err != nil {
		s.logger.Debug("write response", "id", req.ID, "error", err)
	}
	s.logger.Debug("request",
		"method", req.Method,
		"id", req.ID,
		"ok", resp.OK,
		"duration", time.Since(start))

	if after != nil {
		after()
	}
}

// dispatch runs the handler for req. The returned func, if any, runs after
// the response has been written.
func (s *Server) dispatch(ctx context.Context, c *conn, req protocol.Request) (resp protocol.Response, after func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic",
				"method", req.Method,
				"id", req.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			resp = protocol.Failure(req.ID, protocol.Internal("%s failed unexpectedly: %v", req.Method, r))
			after = nil
		}
	}()

	if verr := protocol.CheckVersion(req.Meta.ProtocolVersion); verr != nil {
		return protocol.Failure(req.ID, verr), nil
	}
	if s.stopping.Load() {
		return protocol.Failure(req.ID, protocol.NewError(protocol.CodeDaemonShuttingDown,
			"daemon is shutting down",
			protocol.WithSuggestion("start it again with `canvas daemon start`"))), nil
	}

	cl := &call{ctx: ctx, conn: c, req: req}

	var h handlerFunc
	switch req.Method {
	case protocol.MethodWatchSubscribe:
		h = s.handleWatchSubscribe
	case protocol.MethodWatchUnsubscribe:
		h = s.handleWatchUnsubscribe
	default:
		var ok bool
		if h, ok = s.handlers[req.Method]; !ok {
			return protocol.Failure(req.ID, protocol.UnknownMethod(req.Method)), nil
		}
	}

	result, err := h(cl)
	if err != nil {
		pe := s.toProtocolError(err)
		if pe.Code == protocol.CodeInternal {
			s.logger.Error("request failed", "method", req.Method, "id", req.ID, "error", err)
		}
		return protocol.Failure(req.ID, pe), nil
	}
	resp = protocol.Success(req.ID, result)
	if req.Method == protocol.MethodDaemonStop && resp.OK {
		after = s.Shutdown
	}
	return resp, after
}
