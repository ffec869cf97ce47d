// Package cluster composes a master and its slaves: writes go straight to the
// master, reads are round-robined over a failover ring of every member.
package cluster

import (
	"context"
	"errors"

	"github.com/user/poolgate/internal/backend"
	"github.com/user/poolgate/internal/balance"
	"github.com/user/poolgate/internal/failover"
	"github.com/user/poolgate/internal/replica"
)

// MasterSlave hands out replica handles over one master and its slaves.
type MasterSlave struct {
	ring     *failover.Ring
	splitter *replica.Splitter
}

// NewMasterSlave builds the ring [master, slaves...], a round-robin balancer
// over its nodes for reads, and a splitter writing to the master directly so
// writes never fail over. With no slaves each handle holds a single master
// connection for both reads and writes.
func NewMasterSlave(master backend.Provider, slaves []backend.Provider, opts ...failover.Option) (*MasterSlave, error) {
	if master == nil {
		return nil, errors.New("cluster: master must not be nil")
	}
	if len(slaves) == 0 {
		return &MasterSlave{splitter: replica.Shared(master)}, nil
	}

	members := append([]backend.Provider{master}, slaves...)
	ring, err := failover.NewRing(members, opts...)
	if err != nil {
		return nil, err
	}
	reads, err := balance.New(ring.Nodes(), balance.NewRoundRobin(ring.Len()))
	if err != nil {
		return nil, err
	}
	return &MasterSlave{
		ring:     ring,
		splitter: replica.New(master, reads),
	}, nil
}

// Acquire opens a handle with the master active.
func (m *MasterSlave) Acquire(ctx context.Context) (*replica.Handle, error) {
	return m.splitter.Acquire(ctx)
}

// Open implements backend.Provider.
func (m *MasterSlave) Open(ctx context.Context) (backend.Conn, error) {
	return m.splitter.Open(ctx)
}

// Ring returns the read ring, or nil for a master without slaves.
func (m *MasterSlave) Ring() *failover.Ring { return m.ring }
