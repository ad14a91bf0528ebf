package handlers

import (
	"context"
	"log"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/CrowderSoup/email-collector/reorder"
	"github.com/CrowderSoup/email-collector/services"
)

// SessionHandler upgrades connections into reorder sessions
type SessionHandler struct {
	store    reorder.Store
	config   *services.Config
	hub      *services.Hub
	upgrader websocket.Upgrader
}

func NewSessionHandler(store reorder.Store, config *services.Config, hub *services.Hub) *SessionHandler {
	h := &SessionHandler{
		store:  store,
		config: config,
		hub:    hub,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *SessionHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(h.config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.config.AllowedOrigins, origin)
}

// HandleWebSocket upgrades the HTTP connection and starts a session with its own engine
func (h *SessionHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading to WebSocket: %v", err)
		return
	}

	client := services.NewClient(h.hub, conn)
	session := services.NewSession(client.ID, h.store, h.config, client, h.hub)
	client.Bind(session)

	h.hub.Register(client)

	ctx, cancel := context.WithCancel(context.Background())

	go client.WritePump()

	if err := session.Start(ctx); err != nil {
		log.Printf("Error starting session %s: %v", client.ID, err)
	}

	go client.SyncPump(ctx)
	go func() {
		defer func() {
			cancel()
			session.Close()
		}()
		client.ReadPump(ctx)
	}()
}
