package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/storage"
)

// Request authentication headers. The signature is a base58 ed25519 signature by
// the caller's key over SigningPayload. The timestamp is in unix seconds; a
// nonce is accepted once per caller.
const (
	HeaderCaller    = "X-Caller"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	HeaderNonce     = "X-Nonce"
)

// DefaultMaxClockSkew bounds how far a request timestamp may be from the server clock.
const DefaultMaxClockSkew = 5 * time.Minute

const (
	maxBodyBytes  = 1 << 20
	maxNonceBytes = 128
)

var (
	errUnauthenticated = errors.New("unauthenticated")
	errReplayed        = fmt.Errorf("%w: nonce already used", errUnauthenticated)
)

type callerKey struct{}

// SigningPayload returns the bytes a caller signs: method, path, timestamp,
// nonce and body separated by newlines.
func SigningPayload(method, path, timestamp, nonce string, body []byte) []byte {
	payload := make([]byte, 0, len(method)+len(path)+len(timestamp)+len(nonce)+len(body)+4)
	for _, field := range []string{method, path, timestamp, nonce} {
		payload = append(payload, field...)
		payload = append(payload, '\n')
	}
	return append(payload, body...)
}

// SignRequest sets the authentication headers of req for key with the current
// time and a fresh nonce. The request body, if any, is read and replaced.
func SignRequest(req *http.Request, key ed25519.PrivateKey) error {
	var body []byte
	if req.Body != nil {
		var err error
		if body, err = io.ReadAll(req.Body); err != nil {
			return err
		}
		_ = req.Body.Close()
		req.Body = io.NopCloser(bytes.NewReader(body))
	}
	caller := domain.AddressFromPublicKey(key.Public().(ed25519.PublicKey))
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := uuid.NewString()
	sig := ed25519.Sign(key, SigningPayload(req.Method, req.URL.Path, timestamp, nonce, body))
	req.Header.Set(HeaderCaller, caller.String())
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, base58.Encode(sig))
	return nil
}

// authenticate verifies the caller headers, consumes the request nonce and
// stores the caller in the request context.
func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := domain.ParseAddress(r.Header.Get(HeaderCaller))
		if err != nil {
			s.writeError(w, r, errUnauthenticated)
			return
		}
		sig, err := base58.Decode(r.Header.Get(HeaderSignature))
		if err != nil || len(sig) != ed25519.SignatureSize {
			s.writeError(w, r, errUnauthenticated)
			return
		}
		timestamp := r.Header.Get(HeaderTimestamp)
		issued, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil || s.skewed(issued) {
			s.writeError(w, r, errUnauthenticated)
			return
		}
		nonce := r.Header.Get(HeaderNonce)
		if nonce == "" || len(nonce) > maxNonceBytes {
			s.writeError(w, r, errUnauthenticated)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			s.writeError(w, r, errBadRequest("read body: %v", err))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		pub, err := caller.PublicKey()
		if err != nil || !ed25519.Verify(pub, SigningPayload(r.Method, r.URL.Path, timestamp, nonce, body), sig) {
			s.writeError(w, r, errUnauthenticated)
			return
		}

		err = s.Store.Update(r.Context(), func(ctx context.Context, tx storage.Tx) error {
			return tx.UseRequestNonce(ctx, caller, nonce, issued)
		})
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.logger.Warn("replayed request rejected",
				zap.String("caller", caller.String()), zap.String("path", r.URL.Path))
			err = errReplayed
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func (s *server) skewed(issued int64) bool {
	d := s.clock().Sub(time.Unix(issued, 0))
	return d > s.maxSkew || d < -s.maxSkew
}

// PruneRequestNonces forgets nonces whose timestamps are too old to pass the
// clock skew check again. A zero skew means DefaultMaxClockSkew.
func PruneRequestNonces(ctx context.Context, store storage.Store, now time.Time, skew time.Duration) error {
	if skew <= 0 {
		skew = DefaultMaxClockSkew
	}
	before := now.Add(-skew).Unix()
	return store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.PruneRequestNonces(ctx, before)
	})
}

// callerFrom returns the authenticated caller of r.
func callerFrom(r *http.Request) domain.Address {
	caller, _ := r.Context().Value(callerKey{}).(domain.Address)
	return caller
}
