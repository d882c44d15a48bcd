// Package dns exposes a small Cloudflare facade for operators driving dns-01
// validation by hand: list zones and TXT records, create and delete the
// _acme-challenge records the selector reports.
package dns

import (
	"context"
	"fmt"

	"github.com/cloudflare/cloudflare-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize zap logger: %v", err))
	}
	logger = l.With(zap.String("package", "dns"))
}

// TXT records published for dns-01 use a short TTL so withdrawal propagates
// quickly.
const challengeRecordTTL = 120

// Zone is the trimmed zone view returned by the facade.
type Zone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record is the trimmed DNS record view returned by the facade.
type Record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

// cloudflareAPI is the slice of the cloudflare-go client the facade uses.
type cloudflareAPI interface {
	ListZones(ctx context.Context, z ...string) ([]cloudflare.Zone, error)
	DNSRecords(ctx context.Context, zoneID string, rr cloudflare.DNSRecord) ([]cloudflare.DNSRecord, error)
	CreateDNSRecord(ctx context.Context, zoneID string, rr cloudflare.DNSRecord) (*cloudflare.DNSRecordResponse, error)
	DeleteDNSRecord(ctx context.Context, zoneID, recordID string) error
}

// CloudflareService wraps a Cloudflare API client.
type CloudflareService struct {
	api cloudflareAPI
}

// NewCloudflareService creates a service from an API token.
func NewCloudflareService(apiToken string) (*CloudflareService, error) {
	api, err := cloudflare.NewWithAPIToken(apiToken)
	if err != nil {
		return nil, fmt.Errorf("dns: failed to create cloudflare client: %w", err)
	}
	return &CloudflareService{api: api}, nil
}

// ListZones returns all zones the token can see.
func (s *CloudflareService) ListZones(ctx context.Context) ([]Zone, error) {
	zones, err := s.api.ListZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("dns: failed to list zones: %w", err)
	}
	out := make([]Zone, 0, len(zones))
	for _, z := range zones {
		out = append(out, Zone{ID: z.ID, Name: z.Name})
	}
	return out, nil
}

// ListTXTRecords returns the TXT records of a zone.
func (s *CloudflareService) ListTXTRecords(ctx context.Context, zoneID string) ([]Record, error) {
	records, err := s.api.DNSRecords(ctx, zoneID, cloudflare.DNSRecord{Type: "TXT"})
	if err != nil {
		return nil, fmt.Errorf("dns: failed to list records for zone '%s': %w", zoneID, err)
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, Record{ID: r.ID, Type: r.Type, Name: r.Name, Content: r.Content, TTL: r.TTL})
	}
	return out, nil
}

// CreateTXTRecord publishes a TXT record, typically the _acme-challenge
// record of a dns-01 validation request.
func (s *CloudflareService) CreateTXTRecord(ctx context.Context, zoneID, name, content string) (*Record, error) {
	resp, err := s.api.CreateDNSRecord(ctx, zoneID, cloudflare.DNSRecord{
		Type:    "TXT",
		Name:    name,
		Content: content,
		TTL:     challengeRecordTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("dns: failed to create TXT record '%s': %w", name, err)
	}
	logger.Info("TXT record created", zap.String("zone", zoneID), zap.String("name", name))
	r := resp.Result
	return &Record{ID: r.ID, Type: r.Type, Name: r.Name, Content: r.Content, TTL: r.TTL}, nil
}

// DeleteRecord removes a record from a zone.
func (s *CloudflareService) DeleteRecord(ctx context.Context, zoneID, recordID string) error {
	if err := s.api.DeleteDNSRecord(ctx, zoneID, recordID); err != nil {
		return fmt.Errorf("dns: failed to delete record '%s': %w", recordID, err)
	}
	logger.Info("DNS record deleted", zap.String("zone", zoneID), zap.String("record", recordID))
	return nil
}
