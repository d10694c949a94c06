package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/grillzstudio/internal/apperr"
	"github.com/atinyakov/grillzstudio/internal/events"
	"github.com/atinyakov/grillzstudio/internal/storage"
)

// MeshTarget selects the record a generated mesh is attached to.
type MeshTarget int

const (
	MeshForTicket MeshTarget = iota
	MeshForOrder
)

// GenerateMesh runs a text-to-3D job for the ticket or order of email,
// re-hosts the resulting mesh in the designs bucket before its URL expires
// and records the permanent URL. An empty request falls back to the
// record's comments.
func (s *OrderService) GenerateMesh(ctx context.Context, target MeshTarget, email, request string) (string, error) {
	if s.mesh == nil {
		return "", apperr.ErrNotConfigured
	}

	request = strings.TrimSpace(request)
	switch target {
	case MeshForTicket:
		t, err := s.tickets.Get(ctx, email)
		if err != nil {
			return "", err
		}
		if request == "" {
			request = t.Comments
		}
	case MeshForOrder:
		o, err := s.orders.Get(ctx, email)
		if err != nil {
			return "", err
		}
		if request == "" {
			request = o.Comments
		}
	default:
		return "", apperr.Invalid("target", "unknown mesh target")
	}
	if strings.TrimSpace(request) == "" {
		return "", apperr.Invalid("prompt", "is required")
	}

	ephemeral, err := s.mesh.Generate(ctx, request)
	if err != nil {
		s.log.Error("mesh generation failed", zap.String("email", email), zap.Error(err))
		return "", err
	}
	data, contentType, err := s.mesh.Download(ctx, ephemeral)
	if err != nil {
		return "", err
	}
	url, err := s.bucket.Upload(ctx, storage.DesignKey(email, "mesh.glb", s.now().UTC()), data, contentType)
	if err != nil {
		return "", err
	}

	switch target {
	case MeshForTicket:
		if err := s.tickets.SetMeshURL(ctx, email, url); err != nil {
			return "", err
		}
		if t, ok := s.cache.Ticket(email); ok {
			t.AIMeshURL = &url
			s.cache.PutTicket(t)
		}
		s.events.Emit(ctx, events.TicketMeshGenerated, email, map[string]string{"url": url})
	case MeshForOrder:
		o, err := s.orders.SetMeshURL(ctx, email, url)
		if err != nil {
			return "", err
		}
		s.cache.PutOrder(*o)
		s.events.Emit(ctx, events.OrderMeshGenerated, email, map[string]string{"url": url})
	}
	return url, nil
}
