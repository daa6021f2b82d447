package main

import (
	"context"

	"github.com/xdien/cipher/internal/connection"
	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/internal/fleet"
	"github.com/xdien/cipher/internal/tools/unified"
)

// fleetSource adapts *fleet.Manager to unified.ExternalSource, so the
// Unified Tool Manager can enumerate and dispatch to running connections
// without the fleet package needing to know about the unified catalog.
type fleetSource struct {
	fleet *fleet.Manager
}

func (s *fleetSource) RunningServers() []string {
	var names []string
	for _, rec := range s.fleet.Servers() {
		if rec.State == domain.StateRunning && rec.Descriptor != nil {
			names = append(names, rec.Descriptor.Name)
		}
	}
	return names
}

func (s *fleetSource) Server(name string) (unified.ExternalServer, bool) {
	conn, ok := s.fleet.GetConnection(name)
	if !ok {
		return nil, false
	}
	return &fleetServer{conn: conn}, true
}

// fleetServer adapts one *connection.Connection to unified.ExternalServer
// by routing through its current rpc.Session.
type fleetServer struct {
	conn *connection.Connection
}

func (s *fleetServer) ListTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	sess, err := s.conn.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	return sess.ListTools(ctx)
}

func (s *fleetServer) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	sess, err := s.conn.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	return sess.CallTool(ctx, name, args)
}
