package server

import (
	"net"
	"time"

	"dhcpd/internal/allocator"
	"dhcpd/internal/config"
	"dhcpd/internal/dhcp4"
	"dhcpd/internal/lease"
	"dhcpd/pkg/metrics"
	"dhcpd/pkg/telemetry"
)

// handler implements the server state machine of spec.md §4.5: dispatch on
// option 53, decide the lease table mutation, build the reply. Grounded on
// a config + logger + mutex-guarded state split, one method per message kind.
type handler struct {
	cfg          config.Configuration
	table        *lease.Table
	interceptors []Interceptor
	logger       telemetry.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

func newHandler(cfg config.Configuration, table *lease.Table, m *metrics.Metrics, logger telemetry.Logger, interceptors []Interceptor) *handler {
	return &handler{
		cfg:          cfg,
		table:        table,
		interceptors: interceptors,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
	}
}

// outcome is what the handler decided to do with an inbound message.
// mutated reports whether the lease table was written to, so the caller
// knows to persist and publish a lifecycle event (spec.md §6,
// SPEC_FULL.md §4.12).
type outcome struct {
	reply   *dhcp4.Message
	dest    *net.UDPAddr
	kind    ErrorKind
	err     error
	mutated bool
}

func noReply() outcome { return outcome{} }

// handle dispatches request to the appropriate state-machine branch. It
// never panics: any unexpected condition falls through to noReply, per
// spec.md §7's "no exception escapes the receive handler" invariant.
func (h *handler) handle(request *dhcp4.Message) outcome {
	if request.Op != dhcp4.OpCodeBootRequest {
		return noReply()
	}

	switch request.MessageType() {
	case dhcp4.MessageTypeDiscover:
		return h.handleDiscover(request)
	case dhcp4.MessageTypeRequest:
		return h.handleRequest(request)
	case dhcp4.MessageTypeDecline:
		return h.handleDecline(request)
	case dhcp4.MessageTypeRelease:
		return h.handleRelease(request)
	case dhcp4.MessageTypeInform:
		return h.handleInform(request)
	default:
		return noReply()
	}
}

func (h *handler) allocatorConfig() allocator.Config {
	return allocator.Config{
		ServerAddress: h.cfg.Endpoint.IP,
		SubnetMask:    h.cfg.SubnetMask,
		PoolStart:     h.cfg.PoolStart,
		PoolEnd:       h.cfg.PoolEnd,
		Reservations:  h.cfg.Reservations,
	}
}

func allocatorRequest(m *dhcp4.Message) allocator.Request {
	return allocator.Request{
		HardwareAddress: m.CHAddr,
		Hostname:        m.Options.HostName(),
		HostnamePresent: m.Options.Has(dhcp4.OptionHostName),
		RequestedIP:     m.Options.RequestedIP(),
	}
}

func (h *handler) handleDiscover(request *dhcp4.Message) outcome {
	key := lease.KeyFromMessage(request)

	h.table.Lock()
	rec, known := h.table.Get(key)

	var ip net.IP
	var mutated bool
	switch {
	case known && (rec.State == lease.StateOffered || rec.State == lease.StateAssigned):
		ip = rec.IPAddress
	default:
		ip = allocator.Allocate(h.allocatorConfig(), h.table, allocatorRequest(request))
		if ip.Equal(net.IPv4zero) {
			h.table.Unlock()
			if h.metrics != nil {
				h.metrics.Exhaustions.Inc()
			}
			h.logf("ERROR allocation exhausted for %s", request.CHAddr)
			return outcome{kind: KindAllocationExhausted, err: ErrAllocationExhausted}
		}
		if known {
			rec.State = lease.StateOffered
			rec.IPAddress = ip
			rec.OfferedTime = h.now()
			rec.HardwareAddress = request.CHAddr
			rec.Hostname = request.Options.HostName()
			rec.LastSeen = h.now()
		} else {
			rec = &lease.Record{
				Identifier:      request.Options.ClientID(),
				HardwareAddress: request.CHAddr,
				Hostname:        request.Options.HostName(),
				State:           lease.StateOffered,
				IPAddress:       ip,
				OfferedTime:     h.now(),
				LastSeen:        h.now(),
			}
		}
		h.table.Put(key, rec)
		mutated = true
	}
	h.table.Unlock()

	reply := request.NewReply(dhcp4.MessageTypeOffer)
	reply.YIAddr = ip
	reply.Options.Set(dhcp4.IPAddressLeaseTime{Duration: h.cfg.LeaseTime})
	reply.Options.Set(dhcp4.ServerIdentifier{Address: h.cfg.Endpoint.IP})
	h.maybeSetSubnetMask(request, reply)
	h.finishReply(request, reply)

	if h.metrics != nil {
		h.metrics.Offers.Inc()
	}
	return outcome{reply: reply, dest: replyDestination(request, reply), mutated: mutated}
}

func (h *handler) handleRequest(request *dhcp4.Message) outcome {
	if request.Options.Has(dhcp4.OptionServerIdentifier) {
		return h.handleSelecting(request)
	}
	if request.CIAddr.IsUnspecified() {
		return h.handleInitReboot(request)
	}
	return h.handleRenewing(request)
}

func (h *handler) handleSelecting(request *dhcp4.Message) outcome {
	key := lease.KeyFromMessage(request)
	serverID := request.Options.ServerID()

	if serverID == nil || !serverID.Equal(h.cfg.Endpoint.IP) {
		h.table.Lock()
		if rec, ok := h.table.Get(key); ok && rec.State == lease.StateOffered {
			h.table.Delete(key)
		}
		h.table.Unlock()
		return noReply()
	}

	requestedIP := request.Options.RequestedIP()

	h.table.Lock()
	rec, known := h.table.Get(key)
	if known && rec.State == lease.StateOffered && requestedIP != nil && requestedIP.Equal(rec.IPAddress) {
		rec.State = lease.StateAssigned
		rec.LeaseStart = h.now()
		rec.LeaseDuration = h.cfg.LeaseTime
		rec.LastSeen = h.now()
		h.table.Put(key, rec)
		ip := rec.IPAddress
		h.table.Unlock()
		return h.ackMutated(request, ip, true)
	}
	if known {
		h.table.Delete(key)
	}
	h.table.Unlock()
	return h.nak(request, ErrPolicyReject)
}

func (h *handler) handleInitReboot(request *dhcp4.Message) outcome {
	key := lease.KeyFromMessage(request)
	requestedIP := request.Options.RequestedIP()

	h.table.Lock()
	rec, known := h.table.Get(key)
	if known && rec.State == lease.StateAssigned && requestedIP != nil && rec.IPAddress.Equal(requestedIP) {
		rec.LeaseStart = h.now()
		rec.LastSeen = h.now()
		h.table.Put(key, rec)
		ip := rec.IPAddress
		h.table.Unlock()
		return h.ackMutated(request, ip, true)
	}
	if known {
		h.table.Delete(key)
	}
	h.table.Unlock()
	return h.nak(request, ErrPolicyReject)
}

func (h *handler) handleRenewing(request *dhcp4.Message) outcome {
	key := lease.KeyFromMessage(request)
	ciaddr := request.CIAddr

	h.table.Lock()
	rec, known := h.table.Get(key)
	if known && rec.State == lease.StateAssigned && rec.IPAddress.Equal(ciaddr) {
		rec.LeaseStart = h.now()
		rec.LastSeen = h.now()
		h.table.Put(key, rec)
		h.table.Unlock()
		return h.ackMutated(request, ciaddr, true)
	}
	if known {
		h.table.Delete(key)
	}
	if h.table.AddressInUse(ciaddr, true) {
		h.table.Unlock()
		h.logf("WARN renewal collision for %s on %s", request.CHAddr, ciaddr)
		return noReply()
	}
	h.table.Put(key, &lease.Record{
		Identifier:      request.Options.ClientID(),
		HardwareAddress: request.CHAddr,
		Hostname:        request.Options.HostName(),
		State:           lease.StateAssigned,
		IPAddress:       ciaddr,
		LeaseStart:      h.now(),
		LeaseDuration:   h.cfg.LeaseTime,
		LastSeen:        h.now(),
	})
	h.table.Unlock()
	return h.ackMutated(request, ciaddr, true)
}

func (h *handler) handleDecline(request *dhcp4.Message) outcome {
	serverID := request.Options.ServerID()
	if serverID == nil || !serverID.Equal(h.cfg.Endpoint.IP) {
		return noReply()
	}

	key := lease.KeyFromMessage(request)

	h.table.Lock()
	rec, known := h.table.Get(key)
	if known {
		ip := rec.IPAddress
		h.table.Delete(key)
		if h.cfg.DeclineExclusion > 0 && ip != nil && !ip.Equal(net.IPv4zero) {
			h.table.Put(exclusionKey(ip), &lease.Record{
				State:            lease.StateReleased,
				IPAddress:        ip,
				DeclineExcluded:  true,
				ExclusionExpires: h.now().Add(h.cfg.DeclineExclusion),
				LastSeen:         h.now(),
			})
		}
	}
	h.table.Unlock()

	if h.metrics != nil {
		h.metrics.Declines.Inc()
	}
	return outcome{mutated: known}
}

func (h *handler) handleRelease(request *dhcp4.Message) outcome {
	serverID := request.Options.ServerID()
	if serverID == nil || !serverID.Equal(h.cfg.Endpoint.IP) {
		return noReply()
	}

	key := lease.KeyFromMessage(request)

	h.table.Lock()
	rec, known := h.table.Get(key)
	if known {
		if !rec.IPAddress.Equal(request.CIAddr) {
			rec.IPAddress = net.IPv4zero
		}
		rec.State = lease.StateReleased
		rec.LastSeen = h.now()
		h.table.Put(key, rec)
	}
	h.table.Unlock()

	if h.metrics != nil {
		h.metrics.Releases.Inc()
	}
	return outcome{mutated: known}
}

func (h *handler) handleInform(request *dhcp4.Message) outcome {
	reply := request.NewReply(dhcp4.MessageTypeAck)
	reply.YIAddr = net.IPv4zero
	reply.Options.Set(dhcp4.ServerIdentifier{Address: h.cfg.Endpoint.IP})
	h.maybeSetSubnetMask(request, reply)
	h.finishReply(request, reply)

	if h.metrics != nil {
		h.metrics.Acks.Inc()
	}
	return outcome{reply: reply, dest: replyDestination(request, reply)}
}

// ack builds a DHCPACK reply. includeLease controls whether option 51 is
// set: REQUEST ACKs carry a lease time, INFORM ACKs never do (handled by
// handleInform directly, not through this helper).
func (h *handler) ack(request *dhcp4.Message, yiaddr net.IP, includeLease bool) outcome {
	reply := request.NewReply(dhcp4.MessageTypeAck)
	reply.YIAddr = yiaddr
	if includeLease {
		reply.Options.Set(dhcp4.IPAddressLeaseTime{Duration: h.cfg.LeaseTime})
	}
	reply.Options.Set(dhcp4.ServerIdentifier{Address: h.cfg.Endpoint.IP})
	h.maybeSetSubnetMask(request, reply)
	h.finishReply(request, reply)

	if h.metrics != nil {
		h.metrics.Acks.Inc()
	}
	return outcome{reply: reply, dest: replyDestination(request, reply)}
}

// ackMutated is ack for the REQUEST branches, which always write the lease
// table before replying.
func (h *handler) ackMutated(request *dhcp4.Message, yiaddr net.IP, includeLease bool) outcome {
	out := h.ack(request, yiaddr, includeLease)
	out.mutated = true
	return out
}

// nak builds a DHCPNAK reply per spec.md §4.5's NAK construction rule.
func (h *handler) nak(request *dhcp4.Message, cause error) outcome {
	reply := request.NewReply(dhcp4.MessageTypeNak)
	reply.YIAddr = net.IPv4zero
	reply.SIAddr = net.IPv4zero
	reply.CIAddr = net.IPv4zero
	reply.Options.Set(dhcp4.ServerIdentifier{Address: h.cfg.Endpoint.IP})
	h.maybeSetSubnetMask(request, reply)

	if h.metrics != nil {
		h.metrics.Naks.Inc()
	}
	return outcome{reply: reply, dest: replyDestination(request, reply), kind: KindPolicyReject, err: cause}
}

func (h *handler) maybeSetSubnetMask(request, reply *dhcp4.Message) {
	if containsCode(request.Options.ParameterRequestList(), dhcp4.OptionSubnetMask) {
		reply.Options.Set(dhcp4.SubnetMask{Mask: h.cfg.SubnetMask})
	}
}

// finishReply applies the configured-options merge and interceptor chain,
// per spec.md §4.7.
func (h *handler) finishReply(request, reply *dhcp4.Message) {
	h.maybeEchoRelayAgentInfo(request, reply)
	mergeConfiguredOptions(request, reply, h.cfg.Options)
	for _, ic := range h.interceptors {
		ic.Apply(request, reply)
	}
}

// maybeEchoRelayAgentInfo echoes option 82 back verbatim per RFC 3046, gated
// by SPEC_FULL.md §3's RelayAgentInfoEnabled switch. When the switch is off
// (the default), option 82 is left as an ordinary Generic option on the
// request and never copied to the reply.
func (h *handler) maybeEchoRelayAgentInfo(request, reply *dhcp4.Message) {
	if !h.cfg.RelayAgentInfoEnabled {
		return
	}
	if opt := request.Options.Get(dhcp4.OptionRelayAgentInformation); opt != nil {
		reply.Options.Set(opt)
	}
}

func exclusionKey(ip net.IP) lease.Key {
	return lease.Key("excl:" + ip.String())
}

func (h *handler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
