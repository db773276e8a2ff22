package picker

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/blockshot/history"
	"github.com/hazyhaar/blockshot/kit"
	"github.com/hazyhaar/blockshot/picker/export"
)

// Controller is what the HTTP and MCP surfaces drive. *Picker implements it.
type Controller interface {
	Activate(ctx context.Context) (bool, error)
	Deactivate(ctx context.Context) bool
	Status() Status
	Recent(ctx context.Context, limit int) ([]export.Outcome, error)
	Stats(ctx context.Context) (history.Stats, error)
}

var _ Controller = (*Picker)(nil)

type activateResponse struct {
	Started   bool   `json:"started"`
	SessionID string `json:"session_id,omitempty"`
	Status    Status `json:"status"`
}

type deactivateResponse struct {
	Deactivated bool `json:"deactivated"`
}

type historyRequest struct {
	Limit int `json:"limit,omitempty"`
}

type historyResponse struct {
	Exports []export.Outcome `json:"exports"`
	Stats   history.Stats    `json:"stats"`
}

// endpoints holds the transport-neutral operations shared by routes and
// MCP tools.
type endpoints struct {
	activate   kit.Endpoint
	deactivate kit.Endpoint
	status     kit.Endpoint
	history    kit.Endpoint
}

func makeEndpoints(c Controller, logger *slog.Logger) endpoints {
	if logger == nil {
		logger = slog.Default()
	}
	wrap := func(name string, e kit.Endpoint) kit.Endpoint {
		return kit.Chain(sessionTag(c), kit.Logging(logger, name))(e)
	}

	return endpoints{
		activate: wrap("activate", func(ctx context.Context, _ any) (any, error) {
			started, err := c.Activate(ctx)
			if err != nil {
				return nil, err
			}
			st := c.Status()
			return activateResponse{Started: started, SessionID: st.SessionID, Status: st}, nil
		}),
		deactivate: wrap("deactivate", func(ctx context.Context, _ any) (any, error) {
			return deactivateResponse{Deactivated: c.Deactivate(ctx)}, nil
		}),
		status: wrap("status", func(context.Context, any) (any, error) {
			return c.Status(), nil
		}),
		history: wrap("history", func(ctx context.Context, req any) (any, error) {
			var limit int
			if r, ok := req.(*historyRequest); ok && r != nil {
				limit = r.Limit
			}
			out, err := c.Recent(ctx, limit)
			if err != nil {
				return nil, err
			}
			st, err := c.Stats(ctx)
			if err != nil {
				return nil, err
			}
			if out == nil {
				out = []export.Outcome{}
			}
			return historyResponse{Exports: out, Stats: st}, nil
		}),
	}
}

// sessionTag tags the call with the session running when it arrived.
func sessionTag(c Controller) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			if id := c.Status().SessionID; id != "" {
				ctx = kit.WithSessionID(ctx, id)
			}
			return next(ctx, req)
		}
	}
}
