package server

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"castle_chat/internal/model"
	"castle_chat/internal/service/redis"
	transport "castle_chat/internal/transport/websocket"
	"castle_chat/internal/utils/log"
)

const maxPeers = 2

type (
	CertificateStore interface {
		GetByName(ctx context.Context, name string) (*model.Certificate, error)
		Put(ctx context.Context, cert *model.Certificate) error
	}

	HttpServer struct {
		mu       sync.Mutex
		channels map[string]*relayChannel

		redisService *redis.RedisService
		certificates CertificateStore
		signer       ed25519.PrivateKey
		channelTTL   time.Duration

		ctx    context.Context
		cancel context.CancelFunc
	}

	// relayChannel holds the live connections of one channel. mu orders
	// queue flushes against direct forwarding.
	relayChannel struct {
		mu       sync.Mutex
		peers    map[string]*transport.Conn
		released bool
	}
)

func NewHttpServer(redisSvc *redis.RedisService, certificates CertificateStore, signer ed25519.PrivateKey, channelTTL time.Duration) *HttpServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &HttpServer{
		channels:     make(map[string]*relayChannel),
		redisService: redisSvc,
		certificates: certificates,
		signer:       signer,
		channelTTL:   channelTTL,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *HttpServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/channels", s.HandleCreateChannel()).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}/ws", s.HandleChannelWS()).Methods(http.MethodGet)
	r.HandleFunc("/directory/root", s.HandleDirectoryRoot()).Methods(http.MethodGet)
	r.HandleFunc("/directory/{name}", s.HandleGetCertificate()).Methods(http.MethodGet)
	r.HandleFunc("/directory/{name}", s.HandlePutCertificate()).Methods(http.MethodPut)
	return r
}

// Run serves until ctx is done, then shuts down and drops every relayed
// connection.
func (s *HttpServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("relay listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *HttpServer) Close() {
	s.cancel()

	s.mu.Lock()
	channels := s.channels
	s.channels = make(map[string]*relayChannel)
	s.mu.Unlock()

	for _, ch := range channels {
		ch.mu.Lock()
		for _, conn := range ch.peers {
			conn.Close()
		}
		ch.mu.Unlock()
	}
}

func (s *HttpServer) HandleCreateChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id := uuid.NewString()
		if err := s.redisService.Set(ctx, channelKey(id), time.Now().Unix(), s.channelTTL); err != nil {
			log.Error("create channel failed", zap.Error(err))
			http.Error(w, "create channel failed", http.StatusInternalServerError)
			return
		}

		log.Info("channel created", zap.String("channel", id))
		writeJSON(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func (s *HttpServer) HandleChannelWS() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		id := mux.Vars(r)["id"]
		peer := r.URL.Query().Get("peer")
		if peer == "" {
			http.Error(w, "peer cannot be empty", http.StatusBadRequest)
			return
		}

		exists, err := s.redisService.Exists(ctx, channelKey(id))
		if err != nil {
			log.Error("channel lookup failed", zap.String("channel", id), zap.Error(err))
			http.Error(w, "channel lookup failed", http.StatusInternalServerError)
			return
		}

		if !exists {
			ws, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			conn := transport.NewConn(ws)
			_ = conn.WriteFrame(ctx, model.Frame{Kind: model.FrameNotFound})
			conn.Close()
			return
		}

		members, err := s.redisService.SMembers(ctx, peersKey(id))
		if err != nil {
			log.Error("peer lookup failed", zap.String("channel", id), zap.Error(err))
			http.Error(w, "peer lookup failed", http.StatusInternalServerError)
			return
		}
		if !contains(members, peer) && len(members) >= maxPeers {
			http.Error(w, "channel is full", http.StatusConflict)
			return
		}

		var ch *relayChannel
		for {
			ch = s.channel(id)
			ch.mu.Lock()
			if !ch.released {
				break
			}
			ch.mu.Unlock()
		}
		if _, ok := ch.peers[peer]; ok {
			ch.mu.Unlock()
			http.Error(w, "duplicated peer", http.StatusConflict)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			ch.mu.Unlock()
			log.Error("upgrade failed", zap.Error(err))
			return
		}
		conn := transport.NewConn(ws)
		ch.peers[peer] = conn

		if err := s.join(ctx, id, peer, conn); err != nil {
			log.Error("join channel failed", zap.String("channel", id), zap.Error(err))
		}
		ch.mu.Unlock()

		go s.processWSMessage(id, peer, ch, conn)
	}
}

// join records peer and hands it every frame queued by the other peers.
// ch.mu is held.
func (s *HttpServer) join(ctx context.Context, id, peer string, conn *transport.Conn) error {
	if err := s.redisService.SAdd(ctx, peersKey(id), peer); err != nil {
		return err
	}
	if err := s.redisService.Expire(ctx, peersKey(id), s.channelTTL); err != nil {
		return err
	}

	members, err := s.redisService.SMembers(ctx, peersKey(id))
	if err != nil {
		return err
	}
	for _, other := range members {
		if other == peer {
			continue
		}
		frames, err := s.GetFramesFromCache(ctx, id, other)
		if err != nil {
			return err
		}
		for _, f := range frames {
			if err := conn.WriteFrame(ctx, f); err != nil {
				return err
			}
		}
		if len(frames) > 0 {
			log.Debug("flushed queued frames", zap.String("channel", id), zap.Int("count", len(frames)))
		}
	}
	return nil
}

func (s *HttpServer) processWSMessage(id, peer string, ch *relayChannel, conn *transport.Conn) {
	for {
		f, err := conn.ReadFrame(s.ctx)
		if err != nil {
			if !transport.IsClosed(err) {
				log.Debug("worker web socket closed", zap.String("channel", id), zap.Error(err))
			}
			break
		}
		if f.Kind != model.FrameHandshake && f.Kind != model.FrameMessage && f.Kind != model.FrameClose {
			log.Warn("dropping frame", zap.String("kind", string(f.Kind)))
			continue
		}
		s.forward(id, peer, ch, f)
	}

	ch.mu.Lock()
	delete(ch.peers, peer)
	ch.mu.Unlock()
	conn.Close()

	s.forward(id, peer, ch, model.Frame{Kind: model.FrameClose})
	s.release(id, ch)
}

// forward hands f to the other peer, or queues it until that peer joins.
func (s *HttpServer) forward(id, from string, ch *relayChannel, f model.Frame) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	for peer, conn := range ch.peers {
		if peer == from {
			continue
		}
		if err := conn.WriteFrame(ctx, f); err != nil {
			log.Error("forward frame failed", zap.String("channel", id), zap.Error(err))
		}
		return
	}

	if err := s.PutFramesToCache(ctx, id, from, f); err != nil {
		log.Error("PutFramesToCache failed", zap.String("channel", id), zap.Error(err))
	}
}

func (s *HttpServer) channel(id string) *relayChannel {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[id]
	if !ok {
		ch = &relayChannel{peers: make(map[string]*transport.Conn)}
		s.channels[id] = ch
	}
	return ch
}

// release drops ch once its last peer has left. Lock order is ch.mu then s.mu.
func (s *HttpServer) release(id string, ch *relayChannel) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if len(ch.peers) > 0 {
		return
	}
	ch.released = true

	s.mu.Lock()
	if s.channels[id] == ch {
		delete(s.channels, id)
	}
	s.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("encode response failed", zap.Error(err))
		http.Error(w, "encode response failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
