package wa

import (
	"context"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/bus"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// Connection states carried by platform.connection events.
const (
	ConnConnected    = "connected"
	ConnDisconnected = "disconnected"
	ConnLoggedOut    = "logged_out"
)

// ConnectionChanged is the payload of platform.connection events.
type ConnectionChanged struct {
	State  string
	Reason string
}

// EventHandler translates whatsmeow events into notifier pushes and bus
// events. It never touches the caches directly: presence and contact
// changes reach them through the adapter's notifier.
type EventHandler struct {
	adapter *Adapter
	bus     *bus.Bus
	logger  *zap.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(a *Adapter, b *bus.Bus, logger *zap.Logger) *EventHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventHandler{
		adapter: a,
		bus:     b,
		logger:  logger,
	}
}

// Handle is the main whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		h.bus.Emit(bus.KindPlatformConnection, ConnectionChanged{State: ConnConnected})
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		h.bus.Emit(bus.KindPlatformConnection, ConnectionChanged{State: ConnDisconnected})
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		h.bus.Emit(bus.KindPlatformConnection, ConnectionChanged{State: ConnLoggedOut, Reason: evt.Reason.String()})
	case *events.Presence:
		h.handlePresence(evt)
	case *events.Contact:
		h.handleContact(evt)
	}
}

func (h *EventHandler) handlePresence(evt *events.Presence) {
	jid := evt.From.ToNonAD()
	p := PresenceFromEvent(evt)
	a := h.adapter

	id, err := a.dir.resolve(context.Background(), jid)
	a.mu.Lock()
	a.presence[jid] = p
	if err == nil {
		for _, alt := range []types.JID{LIDOf(id), PNOf(id)} {
			if !alt.IsEmpty() {
				a.presence[alt] = p
			}
		}
	}
	a.mu.Unlock()

	if err != nil {
		h.logger.Debug("presence from unsupported JID", zap.String("jid", jid.String()))
		return
	}
	if n := a.currentNotifier(); n != nil {
		n.PresenceChanged(id, p.Clone())
	}
}

func (h *EventHandler) handleContact(evt *events.Contact) {
	a := h.adapter
	self := a.Self()
	if !self.IsValid() {
		return
	}
	id, err := a.dir.resolve(context.Background(), evt.JID)
	if err != nil || id.Equal(self) {
		return
	}
	if n := a.currentNotifier(); n != nil {
		n.FriendshipChanged(self, id, backend.Friends)
	}
}
