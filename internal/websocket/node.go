package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perun.network/go-perun/log"

	"github.com/perun-network/perun-wsrpc/internal/metrics"
	"github.com/perun-network/perun-wsrpc/internal/transport"
)

// DefaultMaxNumRequests is the default maximum number of requests a
// connection is allowed to have open in parallel.
const DefaultMaxNumRequests = 16

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config contains the configuration of the node.
type Config struct {
	Address        string
	TLSCertificate string
	TLSPrivKey     string
	MetricsPath    string
	MaxNumRequests int
	KeepAlive      transport.KeepAlive
}

// Node serves JSON-RPC calls over websocket connections. Every connection
// is handled by its own session.
type Node struct {
	cfg      Config
	sessions *Registry
	metrics  *metrics.Server

	handlersMtx sync.RWMutex
	handlers    map[string]HandlerFunc
}

// NewNode creates a new node with the built-in methods registered. Its
// metrics are registered at reg, which may be nil.
func NewNode(cfg Config, reg prometheus.Registerer) *Node {
	if cfg.MaxNumRequests <= 0 {
		cfg.MaxNumRequests = DefaultMaxNumRequests
	}
	n := &Node{
		cfg:      cfg,
		sessions: NewRegistry(),
		metrics:  metrics.NewServer(reg),
		handlers: make(map[string]HandlerFunc),
	}
	n.registerBuiltins()
	return n
}

// Handle registers h for method, replacing any previous handler.
func (n *Node) Handle(method string, h HandlerFunc) {
	n.handlersMtx.Lock()
	defer n.handlersMtx.Unlock()
	n.handlers[method] = h
}

func (n *Node) handler(method string) (HandlerFunc, bool) {
	n.handlersMtx.RLock()
	defer n.handlersMtx.RUnlock()
	h, ok := n.handlers[method]
	return h, ok
}

// ServeHTTP upgrades the request to a websocket connection and serves it
// until it is closed.
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("upgrade: %v", err)
		return
	}

	mconn, err := transport.NewConn(conn, n.cfg.KeepAlive)
	if err != nil {
		log.Error(err)
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s := newSession(uuid.New().String(), mconn, n.cfg.MaxNumRequests)
	n.metrics.Connections.Inc()
	mconn.SetOnCloseHandler(func() {
		n.sessions.Remove(s.ID)
		n.metrics.Connections.Dec()
	})
	n.sessions.Register(s)
	s.Log().Infof("New connection from %s", mconn.RemoteAddr())

	s.serve(ctx, n)
}

// Close closes all open connections.
func (n *Node) Close() {
	n.sessions.CloseAll()
}

// NumSessions returns the number of open connections.
func (n *Node) NumSessions() int {
	return n.sessions.Len()
}

// Run runs a node on the configured address. It serves websocket
// connections on / and the metrics on the metrics path, if configured.
func Run(cfg Config) error {
	reg := prometheus.NewRegistry()
	node := NewNode(cfg, reg)

	mux := http.NewServeMux()
	mux.Handle("/", node)
	if cfg.MetricsPath != "" {
		mux.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	log.Infof("Websocket running on %s", cfg.Address)

	if cfg.TLSCertificate != "" && cfg.TLSPrivKey != "" {
		return http.ListenAndServeTLS(cfg.Address, cfg.TLSCertificate, cfg.TLSPrivKey, mux)
	}
	return http.ListenAndServe(cfg.Address, mux)
}
