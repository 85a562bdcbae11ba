package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/pflag"

	"ciphera/internal/crypto"
	"ciphera/internal/domain"
)

// --- Flags ---

var (
	port          int  // listen port
	enableLogging bool // logging toggle
)

// --- Constants ---

// Networking and server limits.
const (
	defaultPort    = 8080
	minPort        = 0
	maxPort        = 65535
	readHeaderTO   = 5 * time.Second
	readTO         = 10 * time.Second
	writeTO        = 10 * time.Second
	idleTO         = 60 * time.Second
	maxRequestBody = 1 << 20 // 1 MiB cap for incoming JSON bodies
)

// Relay policy limits.
const (
	maxPerUserQueue = 1000             // cap messages kept per user
	maxCipherBytes  = 64 << 10         // 64 KiB max cipher payload
	maxOneTimeKeys  = 500              // max one-time prekeys in a bundle
	maxFutureSkew   = 10 * time.Minute // reject timestamps too far in the future
)

// Context key for request ID.
type ctxKey string

const ctxKeyReqID ctxKey = "reqid"

// --- Types & Constructors ---

// state holds registered prekey bundles, per-user message queues, and the
// multi-device directory (device records per owner and recorded conversation
// bind requests).
type state struct {
	mu          sync.RWMutex
	bundles     map[domain.Username]domain.PreKeyBundle
	queues      map[domain.Username][]domain.Envelope
	devices     map[domain.Username][]domain.DeviceRecord
	convBindLog map[domain.ConversationID][]domain.ConversationBinding
}

// newState initialises an empty relay state.
func newState() *state {
	return &state{
		bundles:     make(map[domain.Username]domain.PreKeyBundle),
		queues:      make(map[domain.Username][]domain.Envelope),
		devices:     make(map[domain.Username][]domain.DeviceRecord),
		convBindLog: make(map[domain.ConversationID][]domain.ConversationBinding),
	}
}

// loggingResponseWriter captures status code and byte count for access logs.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

// --- Middleware ---

// withRecover wraps a handler to convert panics into 500 responses.
func withRecover(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				writeErr(w, http.StatusInternalServerError, "internal error")
				if enableLogging {
					slog.Error("panic", "err", rec)
				}
			}
		}()
		h(w, r)
	}
}

// withReqID ensures each request has an ID for tracing.
func withReqID(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = genReqID()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), ctxKeyReqID, id)
		h(w, r.WithContext(ctx))
	}
}

// withLogging logs method, path, remote, status, bytes, duration and request ID.
func withLogging(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !enableLogging {
			h(w, r)
			return
		}
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w}
		h(lrw, r)
		reqID := requestIDFromCtx(r.Context())
		slog.Info("access",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", clientIP(r),
			"status", lrw.status,
			"bytes", lrw.bytes,
			"dur", time.Since(start),
			"reqid", reqID,
		)
	}
}

// chain composes middlewares in order around a mux-compatible handler.
func chain(h http.HandlerFunc, mws ...func(http.HandlerFunc) http.HandlerFunc) http.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// --- Utilities ---

// WriteHeader records the status code then forwards to the underlying writer.
func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

// Write records the bytes written and defaults status to 200 if unset.
func (lrw *loggingResponseWriter) Write(p []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(p)
	lrw.bytes += n
	return n, err
}

// writeJSON encodes v as JSON with no HTML escaping.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		// Best effort error path.
		http.Error(w, fmt.Sprintf("encode error: %v", err), http.StatusInternalServerError)
	}
}

// writeErr writes a JSON error object with a given status code.
func writeErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// parseLimit parses the optional "limit" query parameter.
func parseLimit(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	return n, nil
}

// clientIP extracts the client IP from headers or RemoteAddr.
func clientIP(r *http.Request) string {
	// Respect common proxy headers. This is best-effort.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := indexByte(xff, ','); i >= 0 {
			return trimSpace(xff[:i])
		}
		return trimSpace(xff)
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requestIDFromCtx returns the request ID if present.
func requestIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyReqID).(string); ok {
		return v
	}
	return ""
}

// genReqID creates a simple 128-bit random hex ID.
func genReqID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}

// Small helpers without extra imports.
func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}
func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}

// --- Handlers ---

// handleRegister stores an incoming PreKeyBundle (POST /register).
func (s *state) handleRegister(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var bundle domain.PreKeyBundle
	if err := dec.Decode(&bundle); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request")
		return
	}
	if bundle.Username == "" {
		writeErr(w, http.StatusBadRequest, "username required")
		return
	}
	if len(bundle.OneTimePreKeys) > maxOneTimeKeys {
		writeErr(w, http.StatusRequestEntityTooLarge, "too many one-time keys")
		return
	}

	s.mu.Lock()
	s.bundles[bundle.Username] = bundle
	s.mu.Unlock()

	if enableLogging {
		slog.Info("register",
			"user", bundle.Username.String(),
			"spk_id", bundle.SignedPreKeyID,
			"one_time_count", len(bundle.OneTimePreKeys),
			"registration_id", bundle.RegistrationID,
			"reqid", requestIDFromCtx(r.Context()),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGet returns a stored PreKeyBundle (GET /prekey/{username}).
func (s *state) handleGet(w http.ResponseWriter, r *http.Request) {
	usernameValue := domain.Username(mux.Vars(r)["username"])
	if usernameValue == "" {
		writeErr(w, http.StatusBadRequest, "username required")
		return
	}

	s.mu.RLock()
	bundle, ok := s.bundles[usernameValue]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if enableLogging {
		slog.Info(
			"prekey_fetch",
			"user", usernameValue.String(),
			"spk_id", bundle.SignedPreKeyID,
			"one_time_count", len(bundle.OneTimePreKeys),
			"reqid", requestIDFromCtx(r.Context()),
		)
	}
	writeJSON(w, bundle)
}

// handleAccountCanary returns a fingerprint over the registered identity
// key (GET /account/{user}/canary). A client that previously cached a
// different value knows the relay's record of this account's identity key
// changed since last it checked.
func (s *state) handleAccountCanary(w http.ResponseWriter, r *http.Request) {
	usernameValue := domain.Username(mux.Vars(r)["user"])
	if usernameValue == "" {
		writeErr(w, http.StatusBadRequest, "username required")
		return
	}

	s.mu.RLock()
	bundle, ok := s.bundles[usernameValue]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]string{"canary": crypto.Fingerprint(bundle.IdentityKey.Slice())})
}

// handleRegisterDevice appends or replaces a device record for owner
// (POST /devices/{user}).
func (s *state) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	owner := domain.Username(mux.Vars(r)["user"])
	if owner == "" {
		writeErr(w, http.StatusBadRequest, "username required")
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var rec domain.DeviceRecord
	if err := dec.Decode(&rec); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request")
		return
	}
	if rec.Device == "" {
		writeErr(w, http.StatusBadRequest, "device id required")
		return
	}
	rec.Owner = owner

	s.mu.Lock()
	list := s.devices[owner]
	replaced := false
	for i, existing := range list {
		if existing.Device == rec.Device {
			list[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, rec)
	}
	s.devices[owner] = list
	s.mu.Unlock()

	if enableLogging {
		slog.Info("device_register",
			"owner", owner.String(),
			"device", rec.Device.String(),
			"status", rec.Status,
			"reqid", requestIDFromCtx(r.Context()),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListDevices returns every device on file for owner
// (GET /devices/{user}).
func (s *state) handleListDevices(w http.ResponseWriter, r *http.Request) {
	owner := domain.Username(mux.Vars(r)["user"])
	s.mu.RLock()
	list := append([]domain.DeviceRecord(nil), s.devices[owner]...)
	s.mu.RUnlock()
	writeJSON(w, list)
}

// handleBindConversation returns one ConversationBinding skeleton per
// non-revoked device the relay has on file for the peer named in the request body
// (POST /conversations/{id}/bind). Session ids are left blank: the caller
// fills them in once it has established a session with each device.
func (s *state) handleBindConversation(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	convID := domain.ConversationID(mux.Vars(r)["id"])
	if convID == "" {
		writeErr(w, http.StatusBadRequest, "conversation id required")
		return
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req struct {
		Peer domain.Username `json:"peer"`
	}
	if err := dec.Decode(&req); err != nil || req.Peer == "" {
		writeErr(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	devices := s.devices[req.Peer]
	bindings := make([]domain.ConversationBinding, 0, len(devices))
	for _, d := range devices {
		if d.Status == domain.DeviceStatusRevoked {
			continue
		}
		bindings = append(bindings, domain.ConversationBinding{Conversation: convID, Device: d.Device})
	}
	s.convBindLog[convID] = bindings
	s.mu.Unlock()

	if enableLogging {
		slog.Info("conversation_bind",
			"conversation", convID.String(),
			"peer", req.Peer.String(),
			"devices", len(bindings),
			"reqid", requestIDFromCtx(r.Context()),
		)
	}
	writeJSON(w, bindings)
}

// handleEnqueue enqueues a new Envelope (POST /msg/{user}).
func (s *state) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	usernameValue := domain.Username(mux.Vars(r)["user"])

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var env domain.Envelope
	if err := dec.Decode(&env); err != nil {
		writeErr(w, http.StatusBadRequest, "bad request")
		return
	}
	if env.To == "" {
		writeErr(w, http.StatusBadRequest, "recipient required")
		return
	}
	if usernameValue == "" || usernameValue != env.To {
		writeErr(w, http.StatusBadRequest, "recipient mismatch")
		return
	}
	if len(env.Cipher) > maxCipherBytes {
		writeErr(w, http.StatusRequestEntityTooLarge, "cipher too large")
		return
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().Unix()
	} else {
		now := time.Now()
		ts := time.Unix(env.Timestamp, 0)
		if ts.After(now.Add(maxFutureSkew)) {
			writeErr(w, http.StatusBadRequest, "timestamp in future")
			return
		}
	}

	s.mu.Lock()
	queue := append(s.queues[usernameValue], env)
	if len(queue) > maxPerUserQueue {
		queue = queue[len(queue)-maxPerUserQueue:]
	}
	s.queues[usernameValue] = queue
	queueLength := len(queue)
	s.mu.Unlock()

	if enableLogging {
		slog.Info("enqueue",
			"queue_user", usernameValue.String(),
			"from", env.From.String(),
			"to", env.To.String(),
			"cipher_bytes", len(env.Cipher),
			"has_prekey", env.PreKey != nil,
			"queue_len", queueLength,
			"reqid", requestIDFromCtx(r.Context()),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFetch fetches queued Envelopes (GET /msg/{user}?limit=N).
func (s *state) handleFetch(w http.ResponseWriter, r *http.Request) {
	usernameValue := domain.Username(mux.Vars(r)["user"])

	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "bad limit")
		return
	}

	s.mu.RLock()
	queue := s.queues[usernameValue]
	if limit == 0 || limit > len(queue) {
		limit = len(queue)
	}
	out := make([]domain.Envelope, limit)
	copy(out, queue[:limit])
	available := len(queue)
	s.mu.RUnlock()

	writeJSON(w, out)

	if enableLogging {
		slog.Info(
			"fetch",
			"user", usernameValue.String(),
			"limit", limit,
			"available", available,
			"reqid", requestIDFromCtx(r.Context()),
		)
	}
}

// handleAck acknowledges and drops N messages (POST /msg/{user}/ack).
func (s *state) handleAck(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	usernameValue := domain.Username(mux.Vars(r)["user"])

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var ack struct {
		Count int `json:"count"`
	}
	if err := dec.Decode(&ack); err != nil || ack.Count < 0 {
		writeErr(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	if ack.Count > len(s.queues[usernameValue]) {
		ack.Count = len(s.queues[usernameValue])
	}
	s.queues[usernameValue] = s.queues[usernameValue][ack.Count:]
	remaining := len(s.queues[usernameValue])
	s.mu.Unlock()

	if enableLogging {
		slog.Info(
			"ack",
			"user", usernameValue.String(),
			"drop", ack.Count,
			"remaining", remaining,
			"reqid", requestIDFromCtx(r.Context()),
		)
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Main ---

// main starts the HTTP server and registers handlers.
func main() {
	pflag.IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	pflag.BoolVar(&enableLogging, "log", false, "enable access logging")
	pflag.Parse()

	if port <= minPort || port > maxPort {
		port = defaultPort
	}

	logger := slog.New(
		slog.NewTextHandler(log.Writer(), &slog.HandlerOptions{Level: slog.LevelInfo}),
	)
	slog.SetDefault(logger)

	s := newState()
	router := mux.NewRouter()

	route := func(path, method string, h http.HandlerFunc) {
		router.HandleFunc(path, chain(h, withRecover, withReqID, withLogging)).Methods(method)
	}

	route("/register", http.MethodPost, s.handleRegister)
	route("/prekey/{username}", http.MethodGet, s.handleGet)
	route("/account/{user}/canary", http.MethodGet, s.handleAccountCanary)
	route("/devices/{user}", http.MethodPost, s.handleRegisterDevice)
	route("/devices/{user}", http.MethodGet, s.handleListDevices)
	route("/conversations/{id}/bind", http.MethodPost, s.handleBindConversation)
	route("/msg/{user}", http.MethodPost, s.handleEnqueue)
	route("/msg/{user}", http.MethodGet, s.handleFetch)
	route("/msg/{user}/ack", http.MethodPost, s.handleAck)

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           router,
		ReadHeaderTimeout: readHeaderTO,
		ReadTimeout:       readTO,
		WriteTimeout:      writeTO,
		IdleTimeout:       idleTO,
	}

	go func() {
		slog.Info("Relay listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Relay failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}
