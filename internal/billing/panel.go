package billing

import (
	"context"

	"github.com/coinhost/billing/internal/pterodactyl"
)

// defaultIOWeight is the block IO weight given to every new server.
const defaultIOWeight = 500

// PanelGateway adapts a Pterodactyl client to Gateway.
type PanelGateway struct {
	client *pterodactyl.Client
}

// NewPanelGateway creates a PanelGateway.
func NewPanelGateway(client *pterodactyl.Client) *PanelGateway {
	return &PanelGateway{client: client}
}

func (g *PanelGateway) CreateServer(ctx context.Context, spec ProvisionSpec) (int, error) {
	req := &pterodactyl.CreateServerRequest{
		Name:        spec.Name,
		User:        spec.PanelUserID,
		Egg:         spec.EggID,
		DockerImage: spec.DockerImage,
		Startup:     spec.Startup,
		Environment: spec.Environment,
		Limits: pterodactyl.Limits{
			Memory: spec.Resources.RAM,
			Disk:   spec.Resources.Disk,
			CPU:    spec.Resources.CPU,
			IO:     defaultIOWeight,
		},
		FeatureLimits: pterodactyl.FeatureLimits{
			Databases:   spec.Resources.Databases,
			Allocations: spec.Resources.Allocations,
			Backups:     spec.Resources.Backups,
		},
		Deploy: pterodactyl.Deploy{
			Locations: []int{spec.LocationID},
		},
		StartOnCompletion: true,
	}

	server, err := g.client.CreateServer(ctx, req)
	if err != nil {
		return 0, err
	}
	return server.ID, nil
}

func (g *PanelGateway) SuspendServer(ctx context.Context, remoteID int) error {
	return g.client.SuspendServer(ctx, remoteID)
}

func (g *PanelGateway) UnsuspendServer(ctx context.Context, remoteID int) error {
	return g.client.UnsuspendServer(ctx, remoteID)
}

func (g *PanelGateway) DeleteServer(ctx context.Context, remoteID int) error {
	return g.client.DeleteServer(ctx, remoteID)
}

var _ Gateway = (*PanelGateway)(nil)
