package domain

import (
	"github.com/casual-go/casual/internal/ids"
	"github.com/casual-go/casual/internal/wire"
)

// GatewayPeer is one outbound gateway connection a discovery request
// can be forwarded across.
type GatewayPeer struct {
	Domain ids.Domain
}

// HandleDiscoveryRequest answers req against the services this domain
// serves locally (via locallyServes) and decides which peers the
// request should be rebroadcast to: any peer whose domain id is not
// already in req.Visited, and only when at least one requested name
// was not resolved locally. This is the loop-avoidance rewrite named
// in Design Notes — an explicit visited set carried in the message,
// never the original's process-id check.
func (o *Orchestrator) HandleDiscoveryRequest(req wire.DiscoveryRequest, locallyServes func(name string) bool, peers []GatewayPeer) (wire.DiscoveryReply, []wire.DiscoveryRequest) {
	reply := wire.DiscoveryReply{Found: make(map[string]bool, len(req.Requested))}
	var unresolved []string
	for _, name := range req.Requested {
		found := locallyServes(name)
		reply.Found[name] = found
		if !found {
			unresolved = append(unresolved, name)
		}
	}

	if len(unresolved) == 0 {
		return reply, nil
	}

	forwarded := req.WithVisit(o.id)
	forwarded.Requested = unresolved

	var rebroadcasts []wire.DiscoveryRequest
	for _, peer := range peers {
		if forwarded.HasVisited(peer.Domain) {
			continue
		}
		rebroadcasts = append(rebroadcasts, forwarded)
	}
	return reply, rebroadcasts
}
