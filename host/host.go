package host

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/relaykit/host-sdk/internal/authtoken"
	"github.com/relaykit/host-sdk/internal/fastjson"
	"github.com/relaykit/host-sdk/internal/resturl"
	"github.com/relaykit/host-sdk/internal/serviceauth"
	"github.com/relaykit/host-sdk/internal/wire"
)

const (
	sdkName    = "relaykit-host-sdk-go"
	sdkVersion = "0.1.0"
)

// Dialer opens a fresh transport connection for instanceID. The default,
// used when NewHost is given a nil Dialer, dials Config.Endpoint as a
// WebSocket carrying the x-instance-id/x-api-key headers spec.md §6 names.
type Dialer func(ctx context.Context, instanceID string) (wire.Conn, error)

// Host is the HostController of spec.md §4.3: it owns the persistent
// connection, the reconnect and ping loops, inbound RPC dispatch, and the
// resend coordinators.
type Host struct {
	cfg      Config
	routes   *RouteRegistry
	registry ComponentRegistry
	logger   *slog.Logger
	dial     Dialer

	instanceID    string
	origin        resturl.Origin
	limiter       *rate.Limiter
	resendLimiter *rate.Limiter

	oauthOnce   sync.Once
	oauthSource oauth2.TokenSource
	oauthErr    error

	mu           sync.Mutex
	socket       *wire.MessageSocket
	rpc          *wire.DuplexRPC
	initialized  bool
	shuttingDown bool
	closed       bool
	lastPong     time.Time

	transactions map[string]*TransactionRuntime
	pages        map[string]*pageSession

	renderTable  *PendingRenderTable
	pageTable    *PendingRenderTable
	loadingSnaps map[string]LoadingState

	reinitTimer *time.Timer

	closeOnce  sync.Once
	shutdownCh chan struct{}
}

// pageSession is the page-tree analogue of TransactionRuntime: it renders
// a layout rather than running an action to completion.
type pageSession struct {
	pageKey string
	page    *Page
	io      *IOClient
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHost constructs a Host bound to routes and registry. cfg is completed
// with defaults via Config.withDefaults. A nil dial uses the reference
// WebSocket transport.
func NewHost(cfg Config, routes *RouteRegistry, registry ComponentRegistry, dial Dialer) *Host {
	cfg = cfg.withDefaults()
	h := &Host{
		cfg:           cfg,
		routes:        routes,
		registry:      registry,
		logger:        cfg.logger(),
		dial:          dial,
		instanceID:    newInstanceID(),
		origin:        originFromEndpoint(cfg.Endpoint),
		limiter:       rate.NewLimiter(rate.Every(cfg.RetryInterval), 1),
		resendLimiter: rate.NewLimiter(rate.Every(cfg.RetryInterval), *cfg.MaxResendAttempts+1),
		transactions:  make(map[string]*TransactionRuntime),
		pages:         make(map[string]*pageSession),
		renderTable:   NewPendingRenderTable(),
		pageTable:     NewPendingRenderTable(),
		loadingSnaps:  make(map[string]LoadingState),
		shutdownCh:    make(chan struct{}),
	}
	if h.dial == nil {
		h.dial = h.defaultDialer
	}
	routes.Observe(h, h.onRoutesChanged)
	return h
}

func newInstanceID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%x", b)
}

func (h *Host) defaultDialer(ctx context.Context, instanceID string) (wire.Conn, error) {
	header := http.Header{}
	header.Set("x-instance-id", instanceID)

	switch {
	case h.cfg.OAuth != nil:
		bearer, err := h.oauthBearer(ctx)
		if err != nil {
			return nil, err
		}
		header.Set("Authorization", bearer)
	case h.cfg.APIKey != "":
		if err := authtoken.Validate(h.cfg.APIKey); err != nil {
			return nil, &HostError{Message: "invalid apiKey", Cause: err}
		}
		header.Set("x-api-key", h.cfg.APIKey)
	}

	return wire.Dial(ctx, h.cfg.Endpoint, header, nil)
}

// oauthBearer lazily builds the OAuth2 client-credentials token source the
// first time it is needed and reuses it thereafter; the oauth2 package
// itself handles caching and refresh of the underlying token.
func (h *Host) oauthBearer(ctx context.Context) (string, error) {
	h.oauthOnce.Do(func() {
		h.oauthSource, h.oauthErr = serviceauth.TokenSource(ctx, serviceauth.Config{
			ClientID:     h.cfg.OAuth.ClientID,
			ClientSecret: h.cfg.OAuth.ClientSecret,
			TokenURL:     h.cfg.OAuth.TokenURL,
			Scopes:       h.cfg.OAuth.Scopes,
		}, http.DefaultClient)
	})
	if h.oauthErr != nil {
		return "", &HostError{Message: "building oauth token source", Cause: h.oauthErr}
	}
	bearer, err := serviceauth.BearerHeader(ctx, h.oauthSource)
	if err != nil {
		return "", &HostError{Message: "fetching oauth token", Cause: err}
	}
	return bearer, nil
}

// originFromEndpoint derives the HTTP(S) origin the WebSocket endpoint is
// served alongside, for building dashboard/callback URLs via resturl.
func originFromEndpoint(endpoint string) resturl.Origin {
	u, err := url.Parse(endpoint)
	if err != nil {
		return resturl.Origin{}
	}
	scheme := "https"
	if u.Scheme == "ws" {
		scheme = "http"
	}
	return resturl.Origin{Scheme: scheme, Host: u.Host}
}

// DashboardURL builds the link a user can follow to watch transactionID
// render live, per spec.md §3's action-dashboard URL.
func (h *Host) DashboardURL(slug, transactionID string) (string, error) {
	return resturl.Dashboard(h.origin, slug, transactionID)
}

// Connect opens the socket, runs the INITIALIZE_HOST handshake, and starts
// the ping and reconnect-supervision loops. It returns once the initial
// handshake completes.
func (h *Host) Connect(ctx context.Context) error {
	if err := h.connectOnce(ctx); err != nil {
		return err
	}
	go h.superviseConnection()
	return nil
}

func (h *Host) connectOnce(ctx context.Context) error {
	conn, err := h.dial(ctx, h.instanceID)
	if err != nil {
		return fmt.Errorf("host: connect: %w", err)
	}

	opts := wire.DefaultOptions()
	opts.SendTimeout = h.cfg.SendTimeout
	opts.ConnectTimeout = h.cfg.ConnectTimeout
	opts.PingTimeout = h.cfg.PingTimeout
	opts.RetryChunkInterval = h.cfg.RetryChunkInterval

	socket := wire.New(conn, h.instanceID, opts, nil)
	if _, err := socket.Connect(ctx); err != nil {
		_ = conn.Close()
		return fmt.Errorf("host: socket handshake: %w", err)
	}

	handlers := h.responderHandlers()

	h.mu.Lock()
	if h.rpc == nil {
		h.rpc = wire.NewDuplexRPC(socket, h.instanceID, handlers, newSchemaValidator())
	} else {
		h.rpc.SetCommunicator(socket)
	}
	h.socket = socket
	h.lastPong = time.Now()
	h.mu.Unlock()

	if err := h.initializeHost(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.initialized = true
	h.mu.Unlock()

	h.logger.Info("host connected", "instanceId", h.instanceID, "endpoint", h.cfg.Endpoint)
	return nil
}

func (h *Host) initializeHost(ctx context.Context) error {
	params := InitializeHostParams{
		InstanceID: h.instanceID,
		SDKName:    sdkName,
		SDKVersion: sdkVersion,
		Actions:    h.routes.ActionMetadataList(),
		Pages:      h.routes.PageMetadataList(),
	}
	var result InitializeHostResult
	if err := h.call(ctx, "INITIALIZE_HOST", params, &result); err != nil {
		return fmt.Errorf("host: INITIALIZE_HOST: %w", err)
	}
	if len(result.InvalidSlugs) > 0 {
		h.logger.Warn("server rejected invalid slugs", "slugs", result.InvalidSlugs)
	}
	for _, w := range result.Warnings {
		h.logger.Warn("server warning", "message", w)
	}
	if result.SDKAlert != nil {
		h.logger.Warn("sdk alert", "severity", result.SDKAlert.Severity, "message", result.SDKAlert.Message)
	}
	return nil
}

// superviseConnection runs the ping loop and watches for unexpected
// closure, entering the reconnect loop described in spec.md §4.3.
func (h *Host) superviseConnection() {
	for {
		h.mu.Lock()
		socket := h.socket
		h.mu.Unlock()
		if socket == nil {
			return
		}

		stop := make(chan struct{})
		go h.pingLoop(socket, stop)

		waitErr := socket.Wait()
		close(stop)

		h.mu.Lock()
		shuttingDown := h.shuttingDown
		h.mu.Unlock()
		if shuttingDown {
			return
		}

		h.logger.Warn("connection lost, reconnecting", "error", waitErr)
		h.reconnectLoop()

		h.mu.Lock()
		stillInitialized := h.initialized
		h.mu.Unlock()
		if !stillInitialized {
			return
		}
	}
}

func (h *Host) pingLoop(socket *wire.MessageSocket, stop <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.PingTimeout)
		err := socket.Ping(ctx)
		cancel()
		if err == nil {
			h.mu.Lock()
			h.lastPong = time.Now()
			h.mu.Unlock()
			continue
		}
		h.logger.Debug("ping failed", "error", err)

		h.mu.Lock()
		silentFor := time.Since(h.lastPong)
		h.mu.Unlock()
		if silentFor > h.cfg.CloseUnresponsiveConnectionTimeout {
			h.logger.Warn("connection unresponsive, forcing close to trigger reconnect", "silentFor", silentFor)
			_ = socket.Close()
			return
		}
	}
}

// reconnectLoop repeatedly attempts a new socket with the same instance id,
// paced by a token-bucket limiter rather than a hand-rolled time.Sleep loop.
func (h *Host) reconnectLoop() {
	ctx := context.Background()
	for {
		h.mu.Lock()
		shuttingDown := h.shuttingDown
		h.mu.Unlock()
		if shuttingDown {
			return
		}

		if err := h.limiter.Wait(ctx); err != nil {
			return
		}

		connectCtx, cancel := context.WithTimeout(ctx, h.cfg.ConnectTimeout)
		err := h.connectOnce(connectCtx)
		cancel()
		if err == nil {
			h.resendAll()
			return
		}
		h.logger.Debug("reconnect attempt failed", "error", err)
	}
}

// onRoutesChanged coalesces route mutations for ReinitializeBatchTimeout
// before re-sending INITIALIZE_HOST (spec.md §4.3).
func (h *Host) onRoutesChanged() {
	h.mu.Lock()
	if h.reinitTimer != nil {
		h.reinitTimer.Stop()
	}
	h.reinitTimer = time.AfterFunc(h.cfg.ReinitializeBatchTimeout, func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ConnectTimeout)
		defer cancel()
		if err := h.initializeHost(ctx); err != nil {
			h.logger.Warn("re-INITIALIZE_HOST after route change failed", "error", err)
		}
	})
	h.mu.Unlock()
}

// call is a thin wrapper around DuplexRPC.Call that also unmarshals the
// response into result (nil result is valid for methods with no return
// payload the caller cares about).
func (h *Host) call(ctx context.Context, method string, params any, result any) error {
	h.mu.Lock()
	rpc := h.rpc
	h.mu.Unlock()
	if rpc == nil {
		return NotConnected
	}
	data, err := rpc.Call(ctx, method, params, 1)
	if err != nil {
		return err
	}
	if result == nil || len(data) == 0 {
		return nil
	}
	if err := fastjson.Unmarshal(data, result); err != nil {
		return &ValidationError{MethodName: method, Cause: err}
	}
	return nil
}
