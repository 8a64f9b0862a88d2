// Package api exposes the ledger over HTTP.
//
// Reads are public. Every state-changing request is signed by the caller (see
// SignRequest) and executed on behalf of the address in the X-Caller header.
// A signed request is accepted once: its nonce is recorded in the store and its
// timestamp must be within MaxClockSkew of the server clock.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"compliance-ledger/internal/compliance"
	"compliance-ledger/internal/domain"
	"compliance-ledger/internal/funds"
	"compliance-ledger/internal/logging"
	"compliance-ledger/internal/observability"
	"compliance-ledger/internal/sale"
	"compliance-ledger/internal/storage"
	"compliance-ledger/internal/token"
)

// Options wires the API to the ledger components.
type Options struct {
	Token     *token.Ledger
	Sale      *sale.Sale
	Whitelist *compliance.Whitelist
	Vault     *funds.Vault
	Store     storage.Store // outbox reads for GET /events and request nonces

	// Gates and Tokens resolve addresses given to the gate and token setters.
	// The whitelist and token above are always included.
	Gates  []compliance.Gate
	Tokens []sale.Minter

	// DepositAuthority may credit native value from outside the ledger.
	DepositAuthority domain.Address

	// Stream serves GET /events/ws. Optional.
	Stream http.Handler

	// MaxClockSkew bounds the age of signed requests. Defaults to DefaultMaxClockSkew.
	MaxClockSkew time.Duration
	Clock        func() time.Time // defaults to time.Now

	Logger *zap.Logger
}

type server struct {
	Options
	gates   map[domain.Address]compliance.Gate
	tokens  map[domain.Address]sale.Minter
	maxSkew time.Duration
	clock   func() time.Time
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewRouter returns the HTTP handler of the API.
func NewRouter(opts Options) http.Handler {
	s := &server{
		Options: opts,
		gates:   make(map[domain.Address]compliance.Gate),
		tokens:  make(map[domain.Address]sale.Minter),
		maxSkew: opts.MaxClockSkew,
		clock:   opts.Clock,
		logger:  logging.OrNop(opts.Logger).Named("api"),
		tracer:  otel.Tracer("compliance-ledger/api"),
	}
	if s.maxSkew <= 0 {
		s.maxSkew = DefaultMaxClockSkew
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	for _, g := range append([]compliance.Gate{opts.Whitelist}, opts.Gates...) {
		s.gates[g.Address()] = g
	}
	for _, m := range append([]sale.Minter{opts.Token}, opts.Tokens...) {
		s.tokens[m.Address()] = m
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/token", func(r chi.Router) {
		r.Get("/", s.tokenState)
		r.Get("/balances/{address}", s.tokenBalance)
		r.Get("/transfers", s.pendingTransfers)
		r.Get("/transfers/{nonce}", s.pendingTransfer)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/transfers", s.proposeTransfer)
			r.Post("/transfers/{nonce}/approve", s.approveTransfer)
			r.Post("/transfers/{nonce}/reject", s.rejectTransfer)
			r.Post("/mint", s.mint)
			r.Post("/fee", s.setFee)
			r.Post("/fee-recipient", s.setFeeRecipient)
			r.Post("/validator", s.setTokenValidator)
			r.Post("/owner", s.transferTokenOwnership)
			r.Post("/compliance-gate", s.setTokenGate)
		})
	})

	r.Route("/sale", func(r chi.Router) {
		r.Get("/", s.saleState)
		r.Get("/purchases", s.pendingMints)
		r.Get("/purchases/{nonce}", s.pendingMint)
		r.Get("/refunds/{address}", s.refundable)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/purchases", s.buyTokens)
			r.Post("/purchases/{nonce}/approve", s.approveMint)
			r.Post("/purchases/{nonce}/reject", s.rejectMint)
			r.Post("/claim", s.claim)
			r.Post("/finalize", s.finalize)
			r.Post("/validator", s.setSaleValidator)
			r.Post("/compliance-gate", s.setSaleGate)
			r.Post("/token", s.setTokenContract)
			r.Post("/token-owner", s.transferSaleTokenOwnership)
		})
	})

	r.Route("/whitelist", func(r chi.Router) {
		r.Get("/investors", s.investors)
		r.Get("/investors/{address}", s.investorStatus)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/investors", s.approveInvestors)
			r.Delete("/investors", s.disapproveInvestors)
			r.Post("/owner", s.transferWhitelistOwnership)
		})
	})

	r.Route("/funds", func(r chi.Router) {
		r.Get("/{address}", s.nativeBalance)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/deposits", s.deposit)
			r.Post("/transfers", s.nativeTransfer)
		})
	})

	r.Get("/events", s.events)
	if opts.Stream != nil {
		r.Handle("/events/ws", opts.Stream)
	}

	return r
}

// instrument traces each request and records its latency by route pattern.
func (s *server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ctx, span := s.tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attribute.String("http.method", r.Method)),
		)
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		span.SetName(r.Method + " " + route)
		span.SetAttributes(attribute.String("http.route", route), attribute.Int("http.status_code", status))
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
		observability.RecordHTTPRequest(r.Method, route, status, time.Since(started).Seconds())
	})
}
