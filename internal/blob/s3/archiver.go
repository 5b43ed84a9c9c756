package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/alanyoungcy/poolmarket/internal/domain"
	"github.com/alanyoungcy/poolmarket/internal/ledger"
)

const contentTypeJSONL = "application/x-ndjson"

// Object metadata keys written with every archive.
const (
	MetaMarketID = "market-id"
	MetaStatus   = "status"
	MetaEvents   = "events"
	MetaSHA256   = "sha256"
)

// ArchivePath is the object key of market id's settlement history.
func ArchivePath(prefix string, id uint64) string {
	return fmt.Sprintf("%s/%d/settlement.jsonl", prefix, id)
}

// ParseArchivePath extracts the market id from a key built by ArchivePath.
func ParseArchivePath(prefix, path string) (uint64, bool) {
	rest, ok := strings.CutPrefix(path, prefix+"/")
	if !ok {
		return 0, false
	}
	idPart, ok := strings.CutSuffix(rest, "/settlement.jsonl")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(idPart, 10, 64)
	return id, err == nil
}

// archiveRecord is one JSONL line. The first line carries the final market
// snapshot, every following line one committed event in sequence order.
type archiveRecord struct {
	Type   string                 `json:"type"`
	Market *domain.MarketSnapshot `json:"market,omitempty"`
	Event  *domain.Event          `json:"event,omitempty"`
}

// Archiver copies every fully settled market
// to object storage once; the ledger keeps its records.
type Archiver struct {
	ledger ledger.Ledger
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing under prefix. audit may be nil.
func NewArchiver(
	led ledger.Ledger,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	audit domain.AuditStore,
	prefix string,
	logger *slog.Logger,
) *Archiver {
	if prefix == "" {
		prefix = "markets"
	}
	return &Archiver{
		ledger: led,
		writer: writer,
		reader: reader,
		audit:  audit,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// Prefix returns the key prefix archives are written under.
func (a *Archiver) Prefix() string {
	return a.prefix
}

// Key is the object key of market id's archive.
func (a *Archiver) Key(id uint64) string {
	return ArchivePath(a.prefix, id)
}

// MarketID parses an archive key back into its market id.
func (a *Archiver) MarketID(key string) (uint64, bool) {
	return ParseArchivePath(a.prefix, key)
}

// settled reports whether no operation can change m or its vault any more
// in a way the archive must reflect: cancelled, or resolved with the fee
// taken.
func settled(m domain.Market) bool {
	switch m.Status {
	case domain.MarketStatusCancelled:
		return true
	case domain.MarketStatusResolved:
		return m.FeesCollected
	default:
		return false
	}
}

// ArchiveSettled uploads every settled market that has no archive yet and
// returns how many were written.
func (a *Archiver) ArchiveSettled(ctx context.Context) (int, error) {
	var total uint64
	err := a.ledger.View(ctx, func(tx *ledger.Tx) error {
		reg, err := tx.Registry()
		if err != nil {
			return err
		}
		total = reg.TotalMarkets
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive: registry: %w", err)
	}

	archived := 0
	for id := uint64(0); id < total; id++ {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		ok, err := a.archiveMarket(ctx, id)
		if err != nil {
			return archived, err
		}
		if ok {
			archived++
		}
	}
	return archived, nil
}

func (a *Archiver) archiveMarket(ctx context.Context, id uint64) (bool, error) {
	var snap domain.MarketSnapshot
	err := a.ledger.View(ctx, func(tx *ledger.Tx) error {
		m, err := tx.Market(id)
		if err != nil {
			return err
		}
		v, err := tx.Vault(m.Address)
		if err != nil {
			return err
		}
		snap = domain.MarketSnapshot{Market: m, Vault: v}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %d: %w", id, err)
	}
	if !settled(snap.Market) {
		return false, nil
	}

	path := ArchivePath(a.prefix, id)
	_, err = a.reader.Stat(ctx, path)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, domain.ErrNotFound):
		return false, fmt.Errorf("s3blob: archive market %d: %w", id, err)
	}

	events, err := a.ledger.ListByMarket(ctx, id)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %d events: %w", id, err)
	}

	records := make([]archiveRecord, 0, len(events)+1)
	records = append(records, archiveRecord{Type: "market", Market: &snap})
	for i := range events {
		records = append(records, archiveRecord{Type: "event", Event: &events[i]})
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %d marshal: %w", id, err)
	}
	sum := sha256.Sum256(buf)
	checksum := hex.EncodeToString(sum[:])

	err = a.writer.Upload(ctx, domain.Upload{
		Key:         path,
		Body:        bytes.NewReader(buf),
		Size:        int64(len(buf)),
		ContentType: contentTypeJSONL,
		Meta: map[string]string{
			MetaMarketID: strconv.FormatUint(id, 10),
			MetaStatus:   snap.Market.Status.String(),
			MetaEvents:   strconv.Itoa(len(events)),
			MetaSHA256:   checksum,
		},
	})
	if err != nil {
		return false, fmt.Errorf("s3blob: archive market %d upload: %w", id, err)
	}

	a.logger.InfoContext(ctx, "market archived",
		slog.Uint64("market_id", id),
		slog.String("path", path),
		slog.Int("events", len(events)),
		slog.String("sha256", checksum),
	)
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.market", map[string]any{
			"market_id": id,
			"path":      path,
			"events":    len(events),
			"status":    snap.Market.Status.String(),
			"sha256":    checksum,
		}); err != nil {
			a.logger.WarnContext(ctx, "archive audit log failed", slog.String("error", err.Error()))
		}
	}
	return true, nil
}

// Verify re-reads market id's archive and reports whether its body still
// matches the checksum recorded at upload.
func (a *Archiver) Verify(ctx context.Context, id uint64) (bool, error) {
	body, obj, err := a.reader.Open(ctx, ArchivePath(a.prefix, id))
	if err != nil {
		return false, fmt.Errorf("s3blob: verify market %d: %w", id, err)
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return false, fmt.Errorf("s3blob: verify market %d: read: %w", id, err)
	}
	want := obj.Meta[MetaSHA256]
	return want != "" && want == hex.EncodeToString(h.Sum(nil)), nil
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
