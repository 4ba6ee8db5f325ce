// Package config loads the immutable Configuration record that drives the
// DHCP server core (spec.md §3), following the same env-var loading style
// used elsewhere in this repository.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"dhcpd/internal/dhcp4"
	"dhcpd/internal/reservation"
)

// OptionMode decides whether a configured option is only sent when the
// client requested it, or always forced into the reply (spec.md §4.7).
type OptionMode int

const (
	ModeDefault OptionMode = iota
	ModeForce
)

// ConfiguredOption pairs a mode with the option to emit.
type ConfiguredOption struct {
	Mode   OptionMode
	Option dhcp4.Option
}

// Configuration is the immutable record the server core runs from
// (spec.md §3, extended per SPEC_FULL.md §2/§3).
type Configuration struct {
	Endpoint   *net.UDPAddr
	SubnetMask net.IPMask
	PoolStart  net.IP
	PoolEnd    net.IP

	OfferExpiration       time.Duration
	LeaseTime             time.Duration
	MinimumPacketSize     uint16
	RelayAgentInfoEnabled bool
	DeclineExclusion      time.Duration

	Options      []ConfiguredOption
	Reservations []reservation.Reservation

	PersistencePath     string
	PersistenceInterval time.Duration

	BindInterface string

	NATSURL      string
	OTLPEndpoint string
	AdminAddr    string
}

const (
	minimumFloorPacketSize = 312
	defaultOfferExpiration = 30 * time.Second
	defaultLeaseTime       = 24 * time.Hour
	defaultAdminAddr       = ":8067"
)

// Load builds a Configuration from environment variables, applying the
// same validate-as-you-go pattern and defaults used throughout this package.
func Load() (Configuration, error) {
	cfg := Configuration{}

	serverIPStr := getEnv("DHCPD_SERVER_IP", "")
	if serverIPStr == "" {
		return Configuration{}, fmt.Errorf("DHCPD_SERVER_IP is required")
	}
	serverIP := net.ParseIP(serverIPStr).To4()
	if serverIP == nil {
		return Configuration{}, fmt.Errorf("invalid DHCPD_SERVER_IP: %q", serverIPStr)
	}

	port := getEnvInt("DHCPD_PORT", 67)
	cfg.Endpoint = &net.UDPAddr{IP: serverIP, Port: port}

	maskStr := getEnv("DHCPD_SUBNET_MASK", "255.255.255.0")
	maskIP := net.ParseIP(maskStr).To4()
	if maskIP == nil {
		return Configuration{}, fmt.Errorf("invalid DHCPD_SUBNET_MASK: %q", maskStr)
	}
	cfg.SubnetMask = net.IPMask(maskIP)

	poolStartStr := os.Getenv("DHCPD_POOL_START")
	poolEndStr := os.Getenv("DHCPD_POOL_END")
	if poolStartStr == "" || poolEndStr == "" {
		return Configuration{}, fmt.Errorf("DHCPD_POOL_START and DHCPD_POOL_END are required")
	}
	cfg.PoolStart = net.ParseIP(poolStartStr).To4()
	cfg.PoolEnd = net.ParseIP(poolEndStr).To4()
	if cfg.PoolStart == nil || cfg.PoolEnd == nil {
		return Configuration{}, fmt.Errorf("DHCPD_POOL_START/DHCPD_POOL_END must be IPv4 addresses")
	}

	offerSecs := getEnvInt("DHCPD_OFFER_EXPIRATION_SECONDS", int(defaultOfferExpiration.Seconds()))
	cfg.OfferExpiration = time.Duration(offerSecs) * time.Second

	leaseSecs := getEnvInt("DHCPD_LEASE_SECONDS", int(defaultLeaseTime.Seconds()))
	cfg.LeaseTime = sanitizeLeaseTime(time.Duration(leaseSecs) * time.Second)

	minPkt := getEnvInt("DHCPD_MINIMUM_PACKET_SIZE", minimumFloorPacketSize)
	if minPkt < minimumFloorPacketSize {
		minPkt = minimumFloorPacketSize
	}
	cfg.MinimumPacketSize = uint16(minPkt)

	cfg.RelayAgentInfoEnabled = getEnvBool("DHCPD_RELAY_AGENT_INFO_ENABLED", false)

	declineExclSecs := getEnvInt("DHCPD_DECLINE_EXCLUSION_SECONDS", 0)
	cfg.DeclineExclusion = time.Duration(declineExclSecs) * time.Second

	cfg.BindInterface = os.Getenv("DHCPD_BIND_INTERFACE")

	cfg.PersistencePath = getEnv("DHCPD_PERSISTENCE_PATH", "")
	persistSecs := getEnvInt("DHCPD_PERSISTENCE_INTERVAL_SECONDS", 60)
	cfg.PersistenceInterval = time.Duration(persistSecs) * time.Second

	cfg.NATSURL = os.Getenv("DHCPD_NATS_URL")
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.AdminAddr = getEnv("DHCPD_ADMIN_ADDR", defaultAdminAddr)

	if dns := os.Getenv("DHCPD_DNS_SERVERS"); dns != "" {
		ips, err := parseIPList(dns)
		if err != nil {
			return Configuration{}, fmt.Errorf("invalid DHCPD_DNS_SERVERS: %w", err)
		}
		cfg.Options = append(cfg.Options, ConfiguredOption{Mode: ModeDefault, Option: dhcp4.DomainNameServer{Servers: ips}})
	}
	if routers := os.Getenv("DHCPD_ROUTERS"); routers != "" {
		ips, err := parseIPList(routers)
		if err != nil {
			return Configuration{}, fmt.Errorf("invalid DHCPD_ROUTERS: %w", err)
		}
		cfg.Options = append(cfg.Options, ConfiguredOption{Mode: ModeForce, Option: dhcp4.Router{Routers: ips}})
	}
	if ntp := os.Getenv("DHCPD_NTP_SERVERS"); ntp != "" {
		ips, err := parseIPList(ntp)
		if err != nil {
			return Configuration{}, fmt.Errorf("invalid DHCPD_NTP_SERVERS: %w", err)
		}
		cfg.Options = append(cfg.Options, ConfiguredOption{Mode: ModeDefault, Option: dhcp4.NTPServers{Servers: ips}})
	}

	reservations, err := parseReservations(os.Getenv("DHCPD_RESERVATIONS"))
	if err != nil {
		return Configuration{}, fmt.Errorf("invalid DHCPD_RESERVATIONS: %w", err)
	}
	cfg.Reservations = reservations

	return cfg, nil
}

// sanitizeLeaseTime normalizes a negative duration to zero, per spec.md §6
// ("The lease-time setter normalizes negative durations to zero").
func sanitizeLeaseTime(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

func parseIPList(value string) ([]net.IP, error) {
	parts := strings.Split(value, ",")
	ips := make([]net.IP, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		ip := net.ParseIP(trimmed).To4()
		if ip == nil {
			return nil, fmt.Errorf("%q is not a valid IPv4 address", trimmed)
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

// parseReservations parses a compact reservation list of the form
// "name=kiosk,mac=AA:BB:CC:00:00:00/24,pool=10.0.0.50-10.0.0.50,preempt=true;..."
// with entries separated by ';'. Recognized fields are name, mac (a full MAC
// address followed by /prefix-bits), hostname (a hostname prefix), pool and
// preempt; any other field is an error.
func parseReservations(value string) ([]reservation.Reservation, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	var out []reservation.Reservation
	for _, entry := range strings.Split(value, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		r, err := parseReservationEntry(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func parseReservationEntry(entry string) (reservation.Reservation, error) {
	var r reservation.Reservation
	for _, field := range strings.Split(entry, ",") {
		kv := strings.SplitN(strings.TrimSpace(field), "=", 2)
		if len(kv) != 2 {
			return reservation.Reservation{}, fmt.Errorf("malformed field %q", field)
		}
		key, val := strings.ToLower(strings.TrimSpace(kv[0])), strings.TrimSpace(kv[1])
		switch key {
		case "name":
			r.Name = val
		case "mac":
			mac, bits, err := parseMACPrefix(val)
			if err != nil {
				return reservation.Reservation{}, err
			}
			r.MACPrefix = mac
			r.MACPrefixBits = bits
		case "hostname":
			r.HostnamePrefix = val
		case "pool":
			start, end, ok := strings.Cut(val, "-")
			if !ok {
				return reservation.Reservation{}, fmt.Errorf("malformed pool %q", val)
			}
			r.PoolStart = net.ParseIP(strings.TrimSpace(start)).To4()
			r.PoolEnd = net.ParseIP(strings.TrimSpace(end)).To4()
			if r.PoolStart == nil || r.PoolEnd == nil {
				return reservation.Reservation{}, fmt.Errorf("malformed pool %q", val)
			}
		case "preempt":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return reservation.Reservation{}, fmt.Errorf("malformed preempt %q", val)
			}
			r.Preempt = b
		default:
			return reservation.Reservation{}, fmt.Errorf("unknown reservation field %q", key)
		}
	}
	return r, nil
}

func parseMACPrefix(value string) (net.HardwareAddr, int, error) {
	addrPart, bitsPart, ok := strings.Cut(value, "/")
	if !ok {
		return nil, 0, fmt.Errorf("mac prefix %q must include /bits", value)
	}
	mac, err := net.ParseMAC(addrPart)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid mac prefix %q: %w", addrPart, err)
	}
	bits, err := strconv.Atoi(bitsPart)
	if err != nil || bits < 0 || bits > len(mac)*8 {
		return nil, 0, fmt.Errorf("invalid mac prefix bit count %q", bitsPart)
	}
	return mac, bits, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
