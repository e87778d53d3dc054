package archer

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/config"
)

// Pool hands out one Client per configured connection. Clients are created on
// first use and shared by every tenant mapped to the connection, so each
// connection has exactly one session cache.
type Pool struct {
	connections []*config.ArcherConnection
	transformer *Transformer
	logger      *zap.Logger
	opts        []Option

	mu      sync.Mutex
	clients map[string]*Client
}

// NewPool creates a pool over the configured connections
func NewPool(connections []*config.ArcherConnection, transformer *Transformer, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		connections: connections,
		transformer: transformer,
		logger:      logger,
		opts:        opts,
		clients:     make(map[string]*Client),
	}
}

// ForTenant returns the client serving tenantID or ErrNotConfigured
func (p *Pool) ForTenant(tenantID string) (*Client, error) {
	for _, conn := range p.connections {
		for _, id := range conn.TenantIDs {
			if id == tenantID {
				return p.client(conn), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotConfigured, tenantID)
}

// Get returns the client for a connection name
func (p *Pool) Get(name string) (*Client, error) {
	for _, conn := range p.connections {
		if conn.Name == name {
			return p.client(conn), nil
		}
	}
	return nil, fmt.Errorf("unknown archer connection %q", name)
}

// Names lists the configured connection names
func (p *Pool) Names() []string {
	names := make([]string, 0, len(p.connections))
	for _, conn := range p.connections {
		names = append(names, conn.Name)
	}
	sort.Strings(names)
	return names
}

func (p *Pool) client(conn *config.ArcherConnection) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[conn.Name]; ok {
		return c
	}
	c := NewClient(conn, p.transformer, p.logger, p.opts...)
	p.clients[conn.Name] = c
	p.logger.Debug("Created Archer client", zap.String("connection", conn.Name), zap.Strings("tenants", conn.TenantIDs))
	return c
}
