package node

import (
	"net"
	"net/netip"
	"time"

	"github.com/chratos-network/core/onlinereps"
	"github.com/chratos-network/core/wire"
)

// Run brings the node up: starts the maintenance loop, the I/O executor
// pool, the network listener, and the rep crawler, then blocks until
// either SIGINT arrives or Shutdown is called from elsewhere.
func (n *Node) Run() {
	n.log.WithField("bind_address", n.self.String()).Info("node: starting")

	for i := 0; i < n.executorThreads(); i++ {
		n.wg.Add(1)
		go n.ioWorker()
	}

	n.net.Listen()
	n.repcrawler.Start()
	if n.statsSrv != nil {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.statsSrv.Serve(); err != nil {
				n.log.WithError(err).Warn("node: stats server stopped")
			}
		}()
	}

	n.seedPreconfiguredPeers()
	n.armMaintenance()

	<-n.sigintCh
	n.log.Debug("node: received interrupt, shutting down")
	n.Shutdown()
}

func (n *Node) executorThreads() int {
	if n.cfg.IOThreads < 1 {
		return 1
	}
	return n.cfg.IOThreads
}

// ioWorker drains the I/O executor queue until Shutdown closes it. A
// fixed-size pool of these, sized by IOThreads, replaces a single
// consumer goroutine so CPU-bound work (signature/PoW checks) fans out
// across cores.
func (n *Node) ioWorker() {
	defer n.wg.Done()
	for {
		select {
		case task, ok := <-n.executor:
			if !ok {
				return
			}
			task()
		case <-n.shutdownCh:
			return
		}
	}
}

// Submit enqueues task onto the I/O executor pool.
func (n *Node) Submit(task func()) {
	select {
	case n.executor <- task:
	case <-n.shutdownCh:
	}
}

func (n *Node) seedPreconfiguredPeers() {
	for _, addr := range n.cfg.PreconfiguredPeers {
		ep, err := resolveEndpoint(addr)
		if err != nil {
			n.log.WithError(err).WithField("address", addr).Warn("node: preconfigured peer")
			continue
		}
		n.peers.Insert(ep, uint8(wire.NodeIDHandshakeVersion))
		n.net.BroadcastKeepalive(ep)
	}
}

// armMaintenance arms the recurring maintenance ticks this core needs
// regardless of node state: peer purging, syn-cookie purging,
// online-weight recalculation, and keepalive broadcast.
func (n *Node) armMaintenance() {
	n.alarm.Add(n.cfg.PurgeInterval, n.purgeTick)
	n.alarm.Add(n.cfg.CookiePurgeInterval, n.cookiePurgeTick)
	n.alarm.Add(onlinereps.RecalculateInterval, n.recalculateTick)
	n.alarm.Add(n.cfg.KeepaliveInterval, n.keepaliveTick)
}

func (n *Node) purgeTick() {
	cutoff := time.Now().Add(-n.cfg.PurgeCutoff)
	if purged := n.peers.PurgeList(cutoff); purged > 0 {
		n.log.WithField("purged", purged).Debug("node: purged stale peers")
	}
	n.alarm.Add(n.cfg.PurgeInterval, n.purgeTick)
}

func (n *Node) cookiePurgeTick() {
	cutoff := time.Now().Add(-n.cfg.CookiePurgeCutoff)
	if purged := n.cookies.Purge(cutoff); purged > 0 {
		n.log.WithField("purged", purged).Debug("node: purged aged syn-cookies")
	}
	n.alarm.Add(n.cfg.CookiePurgeInterval, n.cookiePurgeTick)
}

func (n *Node) recalculateTick() {
	n.online.RecalculateStake()
	n.alarm.Add(onlinereps.RecalculateInterval, n.recalculateTick)
}

func (n *Node) keepaliveTick() {
	for _, ep := range n.peers.RandomSet(n.peers.Len()) {
		n.net.BroadcastKeepalive(ep)
	}
	for _, addr := range n.cfg.PreconfiguredPeers {
		if ep, err := resolveEndpoint(addr); err == nil {
			n.net.BroadcastKeepalive(ep)
		}
	}
	n.alarm.Add(n.cfg.KeepaliveInterval, n.keepaliveTick)
}

// Shutdown stops every background routine and releases the UDP socket.
// Idempotent.
func (n *Node) Shutdown() {
	select {
	case <-n.shutdownCh:
		return
	default:
	}
	close(n.shutdownCh)
	n.alarm.Stop()
	n.repcrawler.Stop()
	n.elections.Stop()
	n.blockproc.Stop()
	n.voteproc.Stop()
	n.net.Stop()
	n.wg.Wait()
}

func resolveEndpoint(addr string) (wire.Endpoint, error) {
	resolved, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return wire.Endpoint{}, err
	}
	ip, ok := netip.AddrFromSlice(resolved.IP)
	if !ok {
		return wire.Endpoint{}, &net.AddrError{Err: "unparseable IP", Addr: addr}
	}
	if ip.Is4In6() {
		ip = ip.Unmap()
	}
	return wire.NewEndpoint(ip, uint16(resolved.Port))
}
