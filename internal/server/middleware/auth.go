package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolmarket/internal/crypto"
	"github.com/alanyoungcy/poolmarket/internal/domain"
)

// Request signature headers.
const (
	HeaderSigner    = "X-Signer"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// maxSignedBody bounds the body read into memory for verification.
const maxSignedBody = 1 << 20

type signerKey struct{}

// WithSigner returns ctx carrying the authenticated caller.
func WithSigner(ctx context.Context, signer common.Address) context.Context {
	return context.WithValue(ctx, signerKey{}, signer)
}

// SignerFrom returns the authenticated caller stored by SignedRequest.
func SignerFrom(ctx context.Context) (common.Address, bool) {
	signer, ok := ctx.Value(signerKey{}).(common.Address)
	return signer, ok
}

// SignedRequest returns middleware that authenticates the caller from a
// secp256k1 signature over the method, path, timestamp and body. Requests
// whose timestamp is further than maxSkew from now are rejected. Each signed
// digest is accepted once; guard remembers it for twice the skew. A nil guard
// falls back to an in-process MemoryReplayGuard.
func SignedRequest(maxSkew time.Duration, now func() time.Time, guard domain.ReplayGuard, logger *slog.Logger) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	if guard == nil {
		guard = NewMemoryReplayGuard(now)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			signer, digest, err := authenticate(r, maxSkew, now())
			if err != nil {
				writeUnauthorized(w, err.Error())
				return
			}
			key := signer.Hex() + ":" + hex.EncodeToString(digest)
			fresh, err := guard.Claim(r.Context(), key, 2*maxSkew)
			if err != nil {
				logger.ErrorContext(r.Context(), "replay guard unavailable", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"error":"replay check unavailable","class":"host","retryable":true}`))
				return
			}
			if !fresh {
				writeUnauthorized(w, "request already used")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSigner(r.Context(), signer)))
		})
	}
}

// authenticate verifies the signature headers and returns the signer and the
// digest it signed.
func authenticate(r *http.Request, maxSkew time.Duration, now time.Time) (common.Address, []byte, error) {
	signerHex := strings.TrimSpace(r.Header.Get(HeaderSigner))
	tsRaw := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	sig := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if signerHex == "" || tsRaw == "" || sig == "" {
		return common.Address{}, nil, errors.New("missing request signature")
	}
	if !common.IsHexAddress(signerHex) {
		return common.Address{}, nil, errors.New("invalid signer address")
	}
	ts, err := strconv.ParseInt(tsRaw, 10, 64)
	if err != nil {
		return common.Address{}, nil, errors.New("invalid timestamp")
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > maxSkew {
		return common.Address{}, nil, errors.New("timestamp outside allowed skew")
	}

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
		if err != nil {
			return common.Address{}, nil, errors.New("unreadable body")
		}
		if len(body) > maxSignedBody {
			return common.Address{}, nil, errors.New("body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	signer := common.HexToAddress(signerHex)
	if err := crypto.VerifyRequest(signer, r.Method, r.URL.Path, ts, body, sig); err != nil {
		return common.Address{}, nil, errors.New("signature does not match signer")
	}
	// A malleated signature over the same request has the same digest.
	return signer, crypto.RequestDigest(r.Method, r.URL.Path, ts, body), nil
}

// writeUnauthorized sends a 401 response with a JSON error body.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `","class":"authorization"}`))
}
