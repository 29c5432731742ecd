package chat

import (
	"context"

	"github.com/google/uuid"

	"github.com/eldtechnologies/teamchat/internal/store"
)

// senderCache resolves display names once per request.
type senderCache struct {
	ctx   context.Context
	dir   store.Directory
	names map[uuid.UUID]string
}

func (s *Service) senderNames(ctx context.Context) *senderCache {
	return &senderCache{ctx: ctx, dir: s.dir, names: make(map[uuid.UUID]string)}
}

func (c *senderCache) lookup(id uuid.UUID) string {
	if name, ok := c.names[id]; ok {
		return name
	}
	name := unknownSender
	if u, err := c.dir.GetUser(c.ctx, id); err == nil && u != nil {
		name = u.DisplayName
	}
	c.names[id] = name
	return name
}
