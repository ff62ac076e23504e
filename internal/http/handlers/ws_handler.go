package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/auth"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/config"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/events"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/wallet"
	"go.uber.org/zap"
)

// Socket message types of the signing bridge
const (
	MsgSignRequest  = "sign_request"
	MsgSignResponse = "sign_response"
	MsgSignClosed   = "sign_closed"
)

type wsClient struct {
	mu   sync.Mutex
	send func(data []byte) error
}

// write serializes writes; a websocket connection allows one writer at a time.
func (c *wsClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(data)
}

type signReply struct {
	signed string
	err    error
}

type pendingSign struct {
	userID uuid.UUID
	reply  chan signReply
}

type signResponse struct {
	Type    string `json:"type"`
	Payload struct {
		RequestID string `json:"request_id"`
		SignedXDR string `json:"signed_xdr"`
		Rejected  bool   `json:"rejected"`
	} `json:"payload"`
}

// DealParties resolves the users with a stake in a deal.
type DealParties interface {
	Parties(ctx context.Context, dealID uuid.UUID) ([]uuid.UUID, error)
}

// WSHub pushes deal events to connected browsers and doubles as the wallet
// signing bridge: the server sends a sign_request with the unsigned XDR, the
// browser wallet signs it and answers with sign_response.
type WSHub struct {
	cfg         *config.Config
	subscriber  events.Subscriber
	parties     DealParties
	log         *zap.Logger
	mu          sync.RWMutex
	connections map[uuid.UUID][]*wsClient

	signMu  sync.Mutex
	pending map[string]*pendingSign
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, parties DealParties, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:         cfg,
		subscriber:  subscriber,
		parties:     parties,
		log:         log,
		connections: make(map[uuid.UUID][]*wsClient),
		pending:     make(map[string]*pendingSign),
	}
}

func (h *WSHub) Start(ctx context.Context) {
	err := h.subscriber.Subscribe(ctx, events.StreamDeal, func(event events.Event) {
		h.dispatch(ctx, event)
	})
	if err != nil {
		h.log.Error("ws hub subscribe failed", zap.Error(err))
	}
}

// dispatch forwards a deal event to the sockets of that deal's parties.
// Ledger divergences only reach the configured admins.
func (h *WSHub) dispatch(ctx context.Context, event events.Event) {
	for _, userID := range h.recipients(ctx, event) {
		h.SendToUser(userID, event)
	}
}

func (h *WSHub) recipients(ctx context.Context, event events.Event) []uuid.UUID {
	if event.Type == events.EventLedgerDivergence {
		if h.cfg == nil {
			return nil
		}
		return h.cfg.AdminUserIDs
	}
	raw, _ := event.Payload["deal_id"].(string)
	dealID, err := uuid.Parse(raw)
	if err != nil || h.parties == nil {
		return nil
	}
	users, err := h.parties.Parties(ctx, dealID)
	if err != nil {
		h.log.Warn("deal parties lookup failed", zap.String("deal_id", raw), zap.Error(err))
		return nil
	}
	return users
}

func (h *WSHub) SendToUser(userID uuid.UUID, event events.Event) int {
	data, err := json.Marshal(event)
	if err != nil {
		return 0
	}

	h.mu.RLock()
	clients := append([]*wsClient(nil), h.connections[userID]...)
	h.mu.RUnlock()

	sent := 0
	for _, c := range clients {
		if c.write(data) == nil {
			sent++
		}
	}
	return sent
}

func (h *WSHub) Connected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections[userID]) > 0
}

// Signer returns a wallet.Signer that prompts userID's open sockets.
func (h *WSHub) Signer(userID uuid.UUID) wallet.Signer {
	return wallet.SignerFunc(func(ctx context.Context, unsignedXDR, address string) (string, error) {
		return h.RequestSignature(ctx, userID, unsignedXDR, address)
	})
}

// RequestSignature sends the transaction to every socket of the user and
// waits for the first answer. There is no timeout: the wait ends on an
// answer, on ctx, or when the user's last socket closes.
func (h *WSHub) RequestSignature(ctx context.Context, userID uuid.UUID, unsignedXDR, address string) (string, error) {
	if !h.Connected(userID) {
		return "", wallet.ErrNotConnected
	}

	reqID := uuid.NewString()
	p := &pendingSign{userID: userID, reply: make(chan signReply, 1)}
	h.signMu.Lock()
	h.pending[reqID] = p
	h.signMu.Unlock()
	defer h.dropPending(reqID)

	sent := h.SendToUser(userID, events.Event{Type: MsgSignRequest, Payload: map[string]any{
		"request_id": reqID,
		"xdr":        unsignedXDR,
		"address":    address,
	}})
	if sent == 0 {
		return "", wallet.ErrNotConnected
	}

	select {
	case r := <-p.reply:
		h.closePrompt(userID, reqID)
		return r.signed, r.err
	case <-ctx.Done():
		h.closePrompt(userID, reqID)
		return "", ctx.Err()
	}
}

func (h *WSHub) dropPending(reqID string) {
	h.signMu.Lock()
	delete(h.pending, reqID)
	h.signMu.Unlock()
}

// closePrompt tells the user's other tabs to dismiss the wallet prompt.
func (h *WSHub) closePrompt(userID uuid.UUID, reqID string) {
	h.SendToUser(userID, events.Event{Type: MsgSignClosed, Payload: map[string]any{"request_id": reqID}})
}

// deliver routes a socket message from userID to the pending request it
// answers. Answers for another user's request are ignored.
func (h *WSHub) deliver(userID uuid.UUID, raw []byte) {
	var msg signResponse
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != MsgSignResponse {
		return
	}

	h.signMu.Lock()
	p, ok := h.pending[msg.Payload.RequestID]
	if ok && p.userID == userID {
		delete(h.pending, msg.Payload.RequestID)
	} else {
		ok = false
	}
	h.signMu.Unlock()
	if !ok {
		return
	}

	r := signReply{signed: msg.Payload.SignedXDR}
	if msg.Payload.Rejected || r.signed == "" {
		r = signReply{err: wallet.ErrRejected}
	}
	p.reply <- r
}

// failPending aborts every open prompt of a user whose last socket closed.
func (h *WSHub) failPending(userID uuid.UUID) {
	h.signMu.Lock()
	defer h.signMu.Unlock()
	for id, p := range h.pending {
		if p.userID == userID {
			delete(h.pending, id)
			p.reply <- signReply{err: wallet.ErrNotConnected}
		}
	}
}

func (h *WSHub) register(userID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	h.connections[userID] = append(h.connections[userID], c)
	h.mu.Unlock()
}

func (h *WSHub) unregister(userID uuid.UUID, c *wsClient) {
	h.mu.Lock()
	clients := h.connections[userID]
	for i, cc := range clients {
		if cc == c {
			h.connections[userID] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	last := len(h.connections[userID]) == 0
	if last {
		delete(h.connections, userID)
	}
	h.mu.Unlock()

	if last {
		h.failPending(userID)
	}
}

// WSUpgradeMiddleware checks for websocket upgrade
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		conn.Close()
		return
	}

	claims, err := auth.ParseJWT(h.cfg.SupabaseJWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		conn.Close()
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token subject"}`))
		conn.Close()
		return
	}

	client := &wsClient{send: func(data []byte) error {
		return conn.WriteMessage(websocket.TextMessage, data)
	}}
	h.register(userID, client)
	defer func() {
		h.unregister(userID, client)
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.deliver(userID, msg)
	}
}
