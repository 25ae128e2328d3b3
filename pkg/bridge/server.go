// ABOUTME: WebSocket publisher for live capture audio
// ABOUTME: Manages subscriber lifecycles, per-client codecs, and fan-out queues
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ProtocolVersion is the bridge wire protocol revision.
const ProtocolVersion = 1

// Config holds bridge server configuration.
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool
}

// Server publishes one live audio stream to WebSocket subscribers. Each
// subscriber gets its own bounded send queue; a slow subscriber loses
// frames rather than stalling the stream.
type Server struct {
	config   Config
	serverID string

	upgrader   websocket.Upgrader
	httpServer *http.Server
	mux        *http.ServeMux

	clients   map[string]*subscriber
	clientsMu sync.RWMutex

	adapter *Adapter

	advertiser *Advertiser

	// onVolume, when set, receives volume/set requests from subscribers.
	onVolume func(VolumeState)

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type subscriber struct {
	id    string
	name  string
	conn  *websocket.Conn
	codec string
	opus  *OpusEncoder

	sendChan chan interface{}
}

// NewServer creates a bridge server draining the given adapter.
func NewServer(config Config, adapter *Adapter) *Server {
	mux := http.NewServeMux()

	return &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      mux,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Trusted local networks only; non-browser clients send no origin.
				return true
			},
		},
		clients:  make(map[string]*subscriber),
		adapter:  adapter,
		stopChan: make(chan struct{}),
	}
}

// OnVolume registers the handler for subscriber volume/set requests.
func (s *Server) OnVolume(fn func(VolumeState)) {
	s.onVolume = fn
}

// PublishVolume notifies all subscribers of a level or mute change.
func (s *Server) PublishVolume(state VolumeState) {
	msg := Message{Type: "volume/changed", Payload: state}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, c := range s.clients {
		select {
		case c.sendChan <- msg:
		default:
		}
	}
}

// Start serves until Stop is called or the listener fails.
func (s *Server) Start() error {
	log.Printf("Bridge starting: %s (ID: %s)", s.config.Name, s.serverID)

	if s.config.EnableMDNS {
		adv, err := Advertise(s.config.Name, s.config.Port)
		if err != nil {
			log.Printf("Failed to start mDNS advertisement: %v", err)
		} else {
			s.advertiser = adv
		}
	}

	s.mux.HandleFunc("/stream", s.handleWebSocket)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.broadcast()
	}()

	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("WebSocket bridge listening on %s", addr)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		log.Printf("Bridge shutting down...")
	case err := <-errChan:
		log.Printf("HTTP server error: %v", err)
		serverErr = err
	}

	if s.advertiser != nil {
		s.advertiser.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	s.wg.Wait()
	log.Printf("Bridge stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Stop stops the server. Safe to call more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// broadcast drains the adapter and fans each block out to every subscriber
// in its negotiated codec.
func (s *Server) broadcast() {
	for {
		var msg AudioMessage
		var ok bool
		select {
		case <-s.stopChan:
			return
		case msg, ok = <-s.adapter.Messages():
			if !ok {
				return
			}
		}

		s.clientsMu.RLock()
		for _, c := range s.clients {
			s.sendAudio(c, msg)
		}
		s.clientsMu.RUnlock()
	}
}

func (s *Server) sendAudio(c *subscriber, msg AudioMessage) {
	if c.codec == "opus" {
		packets, err := c.opus.Encode(msg.Data)
		if err != nil {
			log.Printf("Opus encode error for %s: %v", c.name, err)
			return
		}
		for _, pkt := range packets {
			s.enqueue(c, EncodeChunk(ChunkOpus, msg.Timestamp, pkt))
		}
		return
	}
	s.enqueue(c, EncodeChunk(ChunkPCM, msg.Timestamp, msg.Data))
}

func (s *Server) enqueue(c *subscriber, frame []byte) {
	select {
	case c.sendChan <- frame:
	default:
		// Slow subscriber; drop the frame.
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	log.Printf("New WebSocket connection from %s", r.RemoteAddr)
	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Printf("Error reading hello: %v", err)
		return
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}

	if msg.Type != "client/hello" {
		log.Printf("Expected client/hello, got %s", msg.Type)
		return
	}

	helloData, err := json.Marshal(msg.Payload)
	if err != nil {
		log.Printf("Error marshaling hello payload: %v", err)
		return
	}

	var hello ClientHello
	if err := json.Unmarshal(helloData, &hello); err != nil {
		log.Printf("Error unmarshaling client hello: %v", err)
		return
	}
	if hello.ClientID == "" || hello.Name == "" {
		log.Printf("Client hello missing ClientID or Name")
		return
	}

	log.Printf("Client hello: %s (ID: %s, codecs: %v)", hello.Name, hello.ClientID, hello.Codecs)

	format := s.adapter.Format()
	sub := &subscriber{
		id:       hello.ClientID,
		name:     hello.Name,
		conn:     conn,
		codec:    "pcm",
		sendChan: make(chan interface{}, 100),
	}

	for _, c := range hello.Codecs {
		if c != "opus" {
			continue
		}
		enc, err := NewOpusEncoder(format)
		if err != nil {
			log.Printf("Opus unavailable for %s, falling back to pcm: %v", hello.Name, err)
			break
		}
		sub.codec = "opus"
		sub.opus = enc
		break
	}

	s.clientsMu.Lock()
	if existing, exists := s.clients[sub.id]; exists {
		s.clientsMu.Unlock()
		log.Printf("Client ID %s already connected (name: %s), rejecting duplicate", sub.id, existing.name)

		errorMsg := Message{
			Type: "server/error",
			Payload: map[string]string{
				"error":   "duplicate_client_id",
				"message": "Client ID already connected",
			},
		}
		if data, err := json.Marshal(errorMsg); err == nil {
			conn.WriteMessage(websocket.TextMessage, data)
		}
		return
	}
	s.clients[sub.id] = sub
	s.clientsMu.Unlock()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, sub.id)
		s.clientsMu.Unlock()
		close(sub.sendChan)
		log.Printf("Client disconnected: %s", sub.name)
	}()

	serverHello := ServerHello{
		ServerID: s.serverID,
		Name:     s.config.Name,
		Version:  ProtocolVersion,
	}
	if err := s.sendMessage(sub, "server/hello", serverHello); err != nil {
		log.Printf("Error sending server hello: %v", err)
		return
	}
	if err := s.sendMessage(sub, "stream/start", streamStartFor(sub.codec, format)); err != nil {
		log.Printf("Error sending stream start: %v", err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.clientWriter(sub)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
		s.handleClientMessage(sub, data)
	}
}

// clientWriter drains the subscriber's queue into its socket and keeps the
// connection alive with periodic pings.
func (s *Server) clientWriter(c *subscriber) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	const writeDeadline = 10 * time.Second

	for {
		select {
		case msg, ok := <-c.sendChan:
			if !ok {
				return
			}

			switch v := msg.(type) {
			case []byte:
				c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.conn.WriteMessage(websocket.BinaryMessage, v); err != nil {
					log.Printf("Error writing binary message: %v", err)
					return
				}
			default:
				data, err := json.Marshal(v)
				if err != nil {
					log.Printf("Error marshaling message: %v", err)
					continue
				}
				c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					log.Printf("Error writing text message: %v", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(c *subscriber, data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}

	switch msg.Type {
	case "volume/set":
		s.handleVolumeSet(c, msg.Payload)
	default:
		log.Printf("Unknown message type: %s", msg.Type)
	}
}

func (s *Server) handleVolumeSet(c *subscriber, payload interface{}) {
	stateData, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Error marshaling volume payload: %v", err)
		return
	}

	var state VolumeState
	if err := json.Unmarshal(stateData, &state); err != nil {
		log.Printf("Error unmarshaling volume state: %v", err)
		return
	}

	log.Printf("Client %s set volume: %.2f (muted: %v)", c.name, state.Level, state.Muted)
	if s.onVolume != nil {
		s.onVolume(state)
	}
}

func (s *Server) sendMessage(c *subscriber, msgType string, payload interface{}) error {
	msg := Message{
		Type:    msgType,
		Payload: payload,
	}

	select {
	case c.sendChan <- msg:
		return nil
	default:
		return fmt.Errorf("client send buffer full")
	}
}
