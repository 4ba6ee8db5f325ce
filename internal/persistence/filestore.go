package persistence

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"dhcpd/internal/lease"
)

// recordDTO is the on-disk shape of a lease.Record: net.IP/net.HardwareAddr
// don't round-trip cleanly through yaml, so times and addresses are
// serialized as strings.
type recordDTO struct {
	Identifier           string `yaml:"identifier,omitempty"`
	HardwareAddress      string `yaml:"hardware_address,omitempty"`
	Hostname             string `yaml:"hostname,omitempty"`
	State                string `yaml:"state"`
	IPAddress            string `yaml:"ip_address"`
	OfferedTime          string `yaml:"offered_time,omitempty"`
	LeaseStart           string `yaml:"lease_start,omitempty"`
	LeaseDurationSeconds int64  `yaml:"lease_duration_seconds"`
	LastSeen             string `yaml:"last_seen,omitempty"`
}

func toDTO(r *lease.Record) recordDTO {
	dto := recordDTO{
		Identifier:           fmt.Sprintf("%x", r.Identifier),
		Hostname:             r.Hostname,
		State:                r.State.String(),
		IPAddress:            ipString(r.IPAddress),
		LeaseDurationSeconds: int64(r.LeaseDuration / time.Second),
	}
	if r.HardwareAddress != nil {
		dto.HardwareAddress = r.HardwareAddress.String()
	}
	if !r.OfferedTime.IsZero() {
		dto.OfferedTime = r.OfferedTime.UTC().Format(time.RFC3339Nano)
	}
	if !r.LeaseStart.IsZero() {
		dto.LeaseStart = r.LeaseStart.UTC().Format(time.RFC3339Nano)
	}
	if !r.LastSeen.IsZero() {
		dto.LastSeen = r.LastSeen.UTC().Format(time.RFC3339Nano)
	}
	if r.LeaseDuration == lease.Infinite {
		dto.LeaseDurationSeconds = -1
	}
	return dto
}

func fromDTO(dto recordDTO) *lease.Record {
	rec := &lease.Record{
		Hostname:      dto.Hostname,
		State:         stateFromString(dto.State),
		IPAddress:     net.ParseIP(dto.IPAddress).To4(),
		LeaseDuration: time.Duration(dto.LeaseDurationSeconds) * time.Second,
	}
	if dto.LeaseDurationSeconds < 0 {
		rec.LeaseDuration = lease.Infinite
	}
	if dto.HardwareAddress != "" {
		if mac, err := net.ParseMAC(dto.HardwareAddress); err == nil {
			rec.HardwareAddress = mac
		}
	}
	if dto.Identifier != "" {
		rec.Identifier = decodeHexIdentifier(dto.Identifier)
	}
	if t, err := time.Parse(time.RFC3339Nano, dto.OfferedTime); err == nil {
		rec.OfferedTime = t
	}
	if t, err := time.Parse(time.RFC3339Nano, dto.LeaseStart); err == nil {
		rec.LeaseStart = t
	}
	if t, err := time.Parse(time.RFC3339Nano, dto.LastSeen); err == nil {
		rec.LastSeen = t
	}
	return rec
}

func stateFromString(s string) lease.State {
	switch s {
	case "Offered":
		return lease.StateOffered
	case "Assigned":
		return lease.StateAssigned
	default:
		return lease.StateReleased
	}
}

func decodeHexIdentifier(s string) []byte {
	b := make([]byte, len(s)/2)
	_, err := fmt.Sscanf(s, "%x", &b)
	if err != nil {
		return nil
	}
	return b
}

func ipString(ip net.IP) string {
	if ip == nil {
		return net.IPv4zero.String()
	}
	return ip.String()
}

// FileStore persists the lease table snapshot to disk as yaml, zstd-compressed
// and, if Recipients is set, age-encrypted, pairing gopkg.in/yaml.v3 with
// klauspost/compress/zstd and filippo.io/age's public encrypt/decrypt API.
type FileStore struct {
	Recipients []age.Recipient
	Identities []age.Identity
	Pools      []PoolRange
}

// Write encodes records and atomically replaces the file at path (write to
// a temp file, then rename), matching the concurrency model's requirement
// that persistence I/O never partially corrupts the on-disk snapshot.
func (s *FileStore) Write(ctx context.Context, path string, records []*lease.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dtos := make([]recordDTO, len(records))
	for i, r := range records {
		dtos[i] = toDTO(r)
	}

	plain, err := yaml.Marshal(dtos)
	if err != nil {
		return fmt.Errorf("marshal lease snapshot: %w", err)
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if _, err := enc.Write(plain); err != nil {
		enc.Close()
		return fmt.Errorf("compress lease snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close zstd writer: %w", err)
	}

	final := compressed.Bytes()
	if len(s.Recipients) > 0 {
		final, err = encryptPayload(compressed.Bytes(), s.Recipients)
		if err != nil {
			return fmt.Errorf("encrypt lease snapshot: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, final, 0o600); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp snapshot: %w", err)
	}
	return nil
}

// Read decodes the file at path, discarding records that don't survive a
// reload per spec.md §6.
func (s *FileStore) Read(ctx context.Context, path string) ([]*lease.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	if len(s.Identities) > 0 {
		data, err = decryptPayload(data, s.Identities)
		if err != nil {
			return nil, fmt.Errorf("decrypt snapshot: %w", err)
		}
	}

	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer dec.Close()

	plain, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}

	var dtos []recordDTO
	if err := yaml.Unmarshal(plain, &dtos); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	records := make([]*lease.Record, 0, len(dtos))
	for _, dto := range dtos {
		records = append(records, fromDTO(dto))
	}
	return FilterForLoad(records, s.Pools), nil
}

func encryptPayload(plain []byte, recipients []age.Recipient) ([]byte, error) {
	var out bytes.Buffer
	w, err := age.Encrypt(&out, recipients...)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func decryptPayload(cipher []byte, identities []age.Identity) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(cipher), identities...)
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}
