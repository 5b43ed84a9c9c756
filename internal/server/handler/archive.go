package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Archive locates archived market histories and checks their integrity.
type Archive interface {
	Prefix() string
	Key(id uint64) string
	MarketID(key string) (uint64, bool)
	Verify(ctx context.Context, id uint64) (bool, error)
}

// ArchiveHandler serves settlement histories from cold storage.
type ArchiveHandler struct {
	blobs   domain.BlobReader
	archive Archive
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, archive Archive, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{
		blobs:   blobs,
		archive: archive,
		logger:  logger.With(slog.String("handler", "archive")),
	}
}

type archivedMarket struct {
	MarketID   uint64 `json:"market_id"`
	Key        string `json:"key"`
	Size       int64  `json:"size"`
	ETag       string `json:"etag,omitempty"`
	ArchivedAt string `json:"archived_at,omitempty"`
}

// List returns every archived market.
// GET /api/archive
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	objs, err := h.blobs.List(r.Context(), h.archive.Prefix()+"/")
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	out := make([]archivedMarket, 0, len(objs))
	for _, obj := range objs {
		id, ok := h.archive.MarketID(obj.Key)
		if !ok {
			continue
		}
		am := archivedMarket{MarketID: id, Key: obj.Key, Size: obj.Size, ETag: obj.ETag}
		if !obj.ModifiedAt.IsZero() {
			am.ArchivedAt = obj.ModifiedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, am)
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": out})
}

// Get streams one market's archived JSONL history. The recorded checksum is
// returned in X-Archive-SHA256.
// GET /api/archive/{id}
func (h *ArchiveHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, obj, err := h.blobs.Open(r.Context(), h.archive.Key(id))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	if sum := obj.Meta["sha256"]; sum != "" {
		w.Header().Set("X-Archive-SHA256", sum)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.Uint64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Verify recomputes an archive's checksum.
// GET /api/archive/{id}/verify
func (h *ArchiveHandler) Verify(w http.ResponseWriter, r *http.Request) {
	id, err := marketID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ok, err := h.archive.Verify(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"market_id": id, "intact": ok})
}
