package server

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/David-ssnd/rayz-endpoint/clock"
	"github.com/David-ssnd/rayz-endpoint/game"
)

const (
	// MaxClients bounds the admin client table.
	MaxClients = 8

	// StaleTimeoutMS evicts clients silent for longer than this. Clients
	// heartbeat at most every 30 s, so a healthy session always shows
	// activity inside the window.
	StaleTimeoutMS = 30000

	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Send pings with this period; must stay under the stale timeout.
	pingPeriod = 20 * time.Second
	// Maximum message size allowed from a client.
	maxMessageSize = 2048
	// Per-client outbound buffer; full buffers drop frames.
	sendBufSize = 32
)

var upgrader = websocket.Upgrader{
	// Admin/spectator pages are served from anywhere on the arena LAN.
	CheckOrigin: func(*http.Request) bool { return true },
}

var errTableFull = errors.New("client table full")

// Client is one admin WebSocket session.
type Client struct {
	handle         string
	conn           *websocket.Conn
	send           chan []byte
	lastActivity   uint32
	supportsBinary bool
	limiter        *rate.Limiter
}

// WSServer is the admin WebSocket core: a fixed-capacity client table with
// stale eviction and snapshot-then-send fan-out.
type WSServer struct {
	mu      sync.Mutex
	clients [MaxClients]*Client

	engine  *game.Engine
	clk     clock.Clock
	metrics *Metrics

	battery BatterySensor
	sound   SoundPort
	rssi    func() int

	// hitForward injects synthetic hits; wired to the router.
	hitForward func(shooterID, shooterTeam uint8, teamKnown bool, damage int)

	// onFirstClient fires when the table goes from empty to occupied.
	onFirstClient func()
}

// NewWSServer builds the WS core around the engine.
func NewWSServer(engine *game.Engine, clk clock.Clock, metrics *Metrics) *WSServer {
	return &WSServer{
		engine:  engine,
		clk:     clk,
		metrics: metrics,
		battery: FixedBattery{MV: 3700},
		sound:   LogSound{},
		rssi:    func() int { return 0 },
	}
}

// SetBattery installs the battery sensor port.
func (s *WSServer) SetBattery(b BatterySensor) { s.battery = b }

// SetSound installs the sound dispatch port.
func (s *WSServer) SetSound(p SoundPort) { s.sound = p }

// SetRSSI installs the link-quality reader used by heartbeat_ack.
func (s *WSServer) SetRSSI(fn func() int) { s.rssi = fn }

// SetHitForward installs the synthetic-hit injector.
func (s *WSServer) SetHitForward(fn func(shooterID, shooterTeam uint8, teamKnown bool, damage int)) {
	s.hitForward = fn
}

// SetOnFirstClient installs the first-connect hook.
func (s *WSServer) SetOnFirstClient(fn func()) { s.onFirstClient = fn }

// HandleWebSocket upgrades an HTTP request into an admin session. The
// session handle comes from the ?session query parameter when the client
// supplies one (re-handshakes replace the old row), else a fresh handle is
// minted.
func (s *WSServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	handle := r.URL.Query().Get("session")
	if handle == "" {
		handle = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	client := &Client{
		handle: handle,
		conn:   conn,
		send:   make(chan []byte, sendBufSize),
		// One command per control cycle, with slack for bursts.
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}

	if err := s.addClient(client); err != nil {
		log.Printf("ws: refusing client %s: %v", handle, err)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "client table full"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	log.Printf("ws: client %s connected", handle)
	go s.writePump(client)
	go s.readPump(client)
}

// addClient occupies a table slot: stale rows are swept first, a row with
// the same session handle is replaced, then the first free slot wins.
func (s *WSServer) addClient(c *Client) error {
	now := s.clk.NowMS()
	c.lastActivity = now

	s.mu.Lock()
	s.evictStaleLocked(now)

	wasEmpty := true
	for _, existing := range s.clients {
		if existing != nil {
			wasEmpty = false
			break
		}
	}

	// Re-handshake of the same handle replaces the old row.
	for i, existing := range s.clients {
		if existing != nil && existing.handle == c.handle {
			close(existing.send)
			existing.conn.Close()
			s.clients[i] = c
			s.mu.Unlock()
			s.metrics.WSClients.Set(float64(s.ClientCount()))
			return nil
		}
	}

	for i, existing := range s.clients {
		if existing == nil {
			s.clients[i] = c
			s.mu.Unlock()
			s.metrics.WSClients.Set(float64(s.ClientCount()))
			if wasEmpty && s.onFirstClient != nil {
				s.onFirstClient()
			}
			return nil
		}
	}
	s.mu.Unlock()
	return errTableFull
}

// removeClient clears the client's row if it is still current.
func (s *WSServer) removeClient(c *Client) {
	s.mu.Lock()
	removed := false
	for i, existing := range s.clients {
		if existing == c {
			s.clients[i] = nil
			close(c.send)
			removed = true
			break
		}
	}
	s.mu.Unlock()
	if removed {
		c.conn.Close()
		log.Printf("ws: client %s disconnected", c.handle)
		s.metrics.WSClients.Set(float64(s.ClientCount()))
	}
}

// evictStaleLocked drops clients silent beyond the stale timeout. Caller
// holds the table lock.
func (s *WSServer) evictStaleLocked(now uint32) {
	for i, c := range s.clients {
		if c == nil {
			continue
		}
		if clock.Since(now, c.lastActivity) > StaleTimeoutMS {
			log.Printf("ws: evicting stale client %s", c.handle)
			s.clients[i] = nil
			close(c.send)
			c.conn.Close()
		}
	}
}

// SweepStale runs stale eviction; called from the 100 ms tick.
func (s *WSServer) SweepStale() {
	now := s.clk.NowMS()
	s.mu.Lock()
	s.evictStaleLocked(now)
	s.mu.Unlock()
	s.metrics.WSClients.Set(float64(s.ClientCount()))
}

// ClientCount returns the number of occupied table rows.
func (s *WSServer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.clients {
		if c != nil {
			n++
		}
	}
	return n
}

// touch records inbound activity for the client.
func (s *WSServer) touch(c *Client) {
	s.mu.Lock()
	c.lastActivity = s.clk.NowMS()
	s.mu.Unlock()
}

// Broadcast fans a frame out to every connected client. The active set is
// snapshotted under the lock, sends happen outside it; a client whose
// buffer is full loses the frame without an activity update.
func (s *WSServer) Broadcast(frame any) {
	data := marshalFrame(frame)

	s.mu.Lock()
	targets := make([]*Client, 0, MaxClients)
	for _, c := range s.clients {
		if c != nil {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			log.Printf("ws: client %s send buffer full, frame dropped", c.handle)
		}
	}
}

// sendTo queues a frame for one client, dropping it when the buffer is full.
func (s *WSServer) sendTo(c *Client, frame any) {
	data := marshalFrame(frame)
	select {
	case c.send <- data:
	default:
		log.Printf("ws: client %s send buffer full, frame dropped", c.handle)
	}
}

// BroadcastStatus fans the current status report out to every client.
func (s *WSServer) BroadcastStatus() {
	s.Broadcast(buildStatus(s.engine.Snapshot(), s.clk.NowMS()))
}

// readPump pumps inbound frames into the dispatcher until the connection
// dies or the client closes.
func (s *WSServer) readPump(c *Client) {
	defer s.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		s.touch(c)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws: client %s read error: %v", c.handle, err)
			}
			return
		}
		if !c.limiter.Allow() {
			log.Printf("ws: client %s rate limited, frame dropped", c.handle)
			continue
		}
		s.touch(c)
		s.dispatch(c, message)
	}
}

// writePump drains the client's send buffer and emits periodic pings.
func (s *WSServer) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The table closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
