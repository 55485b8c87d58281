package wa

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
	"go.mau.fi/whatsmeow"
)

// QRLoginTimeout bounds a whole QR pairing attempt.
const QRLoginTimeout = 3 * time.Minute

// AuthEventType enumerates auth event types.
type AuthEventType string

const (
	AuthEventQRCode        AuthEventType = "qr_code"
	AuthEventAuthenticated AuthEventType = "authenticated"
	AuthEventAuthFailed    AuthEventType = "auth_failed"
	AuthEventTimeout       AuthEventType = "timeout"
)

// AuthEvent is the payload of auth.qr events.
type AuthEvent struct {
	Type    AuthEventType
	QRCode  string
	Message string
}

// GetQRChannel returns the QR channel for pairing. Must be called before Connect.
func (a *Adapter) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if a.IsLoggedIn() {
		return nil, fmt.Errorf("already logged in")
	}
	ch, err := a.client.GetQRChannel(ctx)
	if err != nil {
		return nil, fmt.Errorf("get QR channel: %w", err)
	}
	return ch, nil
}

// StartQRAuth begins the QR auth flow and streams events to the bus.
// The returned channel closes after the terminal event.
func (a *Adapter) StartQRAuth(ctx context.Context) (<-chan AuthEvent, error) {
	qrChan, err := a.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan AuthEvent, 10)
	emit := func(evt AuthEvent) {
		out <- evt
		a.bus.Emit(bus.KindAuthQR, evt)
	}

	go func() {
		defer close(out)

		// Connect must be called after GetQRChannel.
		if err := a.Connect(); err != nil {
			emit(AuthEvent{Type: AuthEventAuthFailed, Message: err.Error()})
			return
		}

		for item := range qrChan {
			evt, terminal := authEventFromItem(item)
			if evt.Type == "" {
				continue
			}
			emit(evt)
			if terminal {
				return
			}
		}
	}()

	return out, nil
}

// authEventFromItem maps one QR channel item. Items without a mapping
// return a zero event.
func authEventFromItem(item whatsmeow.QRChannelItem) (evt AuthEvent, terminal bool) {
	switch item.Event {
	case "code":
		return AuthEvent{Type: AuthEventQRCode, QRCode: item.Code}, false
	case "success":
		return AuthEvent{Type: AuthEventAuthenticated, Message: "authenticated"}, true
	case "timeout":
		return AuthEvent{Type: AuthEventTimeout, Message: "QR code timeout"}, true
	default:
		if item.Error != nil {
			return AuthEvent{Type: AuthEventAuthFailed, Message: item.Error.Error()}, true
		}
		return AuthEvent{}, false
	}
}

// loginQR runs a pairing attempt to completion.
func (a *Adapter) loginQR(ctx context.Context) (identity.Identity, error) {
	events, err := a.StartQRAuth(ctx)
	if err != nil {
		return identity.Invalid, errs.Rejected(409, "start QR auth: %v", err)
	}
	var last AuthEvent
	for evt := range events {
		last = evt
	}
	switch last.Type {
	case AuthEventAuthenticated:
		id, err := a.SelfIdentity()
		if err != nil {
			return identity.Invalid, errs.Rejected(500, "%v", err)
		}
		a.setSelf(id)
		return id, nil
	case AuthEventTimeout:
		return identity.Invalid, errs.Rejected(408, "QR pairing: %v", errs.ErrTimedOut)
	default:
		return identity.Invalid, errs.Rejected(401, "QR pairing failed: %s", last.Message)
	}
}

// IsQREvent checks whether a QR channel item is a QR code event.
func IsQREvent(item whatsmeow.QRChannelItem) bool {
	return item.Event == "code"
}
