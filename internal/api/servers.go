package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/coinhost/billing/internal/billing"
	"github.com/coinhost/billing/internal/db"
)

// ServerService handles the server lifecycle endpoints.
type ServerService struct {
	db     DBClient
	engine Engine
}

// NewServerService creates a new ServerService.
func NewServerService(db DBClient, engine Engine) *ServerService {
	return &ServerService{db: db, engine: engine}
}

// getAuthorizedServer retrieves a server and verifies the caller owns it.
// Servers of other users are reported as not found; admins see every server.
func (s *ServerService) getAuthorizedServer(ctx context.Context, id string) (*db.User, *billing.Server, error) {
	user, ok := GetUser(ctx)
	if !ok {
		return nil, nil, huma.Error401Unauthorized("unauthorized")
	}

	serverID, err := uuid.Parse(id)
	if err != nil {
		return nil, nil, huma.Error400BadRequest("invalid server ID")
	}

	server, err := s.db.GetServer(ctx, serverID)
	if err != nil {
		return nil, nil, mapBillingError(err)
	}
	if server.UserID != user.ID && !user.IsAdmin {
		return nil, nil, huma.Error404NotFound("server not found")
	}

	return user, server, nil
}

// ListServers handles GET /v1/servers
func (s *ServerService) ListServers(ctx context.Context, input *ListServersInput) (*ListServersOutput, error) {
	user, ok := GetUser(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	servers, err := s.db.ListServers(ctx, user.ID)
	if err != nil {
		return nil, mapBillingError(err)
	}

	resp := ListServersResponse{Servers: make([]ServerResponse, 0, len(servers))}
	for i := range servers {
		resp.Servers = append(resp.Servers, toServerResponse(&servers[i]))
	}
	return &ListServersOutput{Body: resp}, nil
}

// GetServer handles GET /v1/servers/{id}
func (s *ServerService) GetServer(ctx context.Context, input *ServerIDInput) (*ServerOutput, error) {
	_, server, err := s.getAuthorizedServer(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	return &ServerOutput{Body: toServerResponse(server)}, nil
}

// CreateServer handles POST /v1/servers
// The server is provisioned on the panel and the first hour is charged
// upfront. If the charge fails, the provisioned server is removed again.
func (s *ServerService) CreateServer(ctx context.Context, input *CreateServerInput) (*CreateServerOutput, error) {
	user, ok := GetUser(ctx)
	if !ok {
		return nil, huma.Error401Unauthorized("unauthorized")
	}

	req := input.Body
	server, charge, err := s.engine.CreateServer(ctx, billing.CreateServerRequest{
		UserID: user.ID,
		ProvisionSpec: billing.ProvisionSpec{
			Name:        req.Name,
			PanelUserID: user.PanelUserID,
			EggID:       req.EggID,
			LocationID:  req.LocationID,
			DockerImage: req.DockerImage,
			Startup:     req.Startup,
			Environment: req.Environment,
			Resources: billing.Resources{
				RAM:         req.RAM,
				CPU:         req.CPU,
				Disk:        req.Disk,
				Databases:   req.Databases,
				Allocations: req.Allocations,
				Backups:     req.Backups,
			},
		},
	})
	if err != nil {
		return nil, mapBillingError(err)
	}

	return &CreateServerOutput{Body: ServerWithChargeResponse{
		Server: toServerResponse(server),
		Charge: toChargeResponse(charge),
	}}, nil
}

// PauseServer handles POST /v1/servers/{id}/pause
func (s *ServerService) PauseServer(ctx context.Context, input *ServerIDInput) (*ServerOutput, error) {
	user, server, err := s.getAuthorizedServer(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	paused, err := s.engine.Pause(ctx, server.ID, user.ID)
	if err != nil {
		return nil, mapBillingError(err)
	}
	return &ServerOutput{Body: toServerResponse(paused)}, nil
}

// UnpauseServer handles POST /v1/servers/{id}/unpause
// The next hour is charged before the server is resumed: 402 when the
// balance is too low, 502 when the panel refuses (the charge is refunded).
func (s *ServerService) UnpauseServer(ctx context.Context, input *ServerIDInput) (*ServerOutput, error) {
	user, server, err := s.getAuthorizedServer(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	resumed, err := s.engine.Unpause(ctx, server.ID, user.ID)
	if err != nil {
		return nil, mapBillingError(err)
	}
	return &ServerOutput{Body: toServerResponse(resumed)}, nil
}

// DeleteServer handles DELETE /v1/servers/{id}
func (s *ServerService) DeleteServer(ctx context.Context, input *ServerIDInput) (*DeleteServerOutput, error) {
	user, server, err := s.getAuthorizedServer(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	if err := s.engine.DeleteServer(ctx, server.ID, user.ID); err != nil {
		return nil, mapBillingError(err)
	}
	return &DeleteServerOutput{}, nil
}

// ListAuditLogs handles GET /v1/servers/{id}/audit
func (s *ServerService) ListAuditLogs(ctx context.Context, input *ListAuditLogsInput) (*ListAuditLogsOutput, error) {
	_, server, err := s.getAuthorizedServer(ctx, input.ID)
	if err != nil {
		return nil, err
	}

	logs, err := s.db.ListAuditLogs(ctx, server.ID, input.Limit)
	if err != nil {
		return nil, mapBillingError(err)
	}

	resp := ListAuditLogsResponse{Entries: make([]AuditLogResponse, 0, len(logs))}
	for _, l := range logs {
		resp.Entries = append(resp.Entries, toAuditLogResponse(l))
	}
	return &ListAuditLogsOutput{Body: resp}, nil
}

