package wa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/identity"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultCallTimeout bounds every SDK call made on behalf of a Platform
// primitive.
const DefaultCallTimeout = 30 * time.Second

// Adapter wraps the whatsmeow client and exposes it as a backend.Platform.
// Every primitive runs its SDK calls on a dedicated goroutine and reports
// through the callback exactly once.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	bus       *bus.Bus
	logger    *zap.Logger
	timeout   time.Duration
	dir       *directory

	mu       sync.Mutex
	notifier backend.Notifier
	self     identity.Identity
	presence map[types.JID]backend.Presence
	watched  map[types.JID]int
}

// NewAdapter opens the device store at dbPath and creates the client.
func NewAdapter(ctx context.Context, dbPath string, b *bus.Bus, logger *zap.Logger) (*Adapter, error) {
	// Set device name shown on the phone's linked devices list.
	wastore.SetOSInfo("netid", [3]uint32{0, 1, 0})

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create device store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, nil)
	a := newAdapter(client.Store.LIDs, b, logger)
	a.client = client
	a.container = container
	return a, nil
}

func newAdapter(mapper lidMapper, b *bus.Bus, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Adapter{
		bus:      b,
		logger:   logger,
		timeout:  DefaultCallTimeout,
		presence: make(map[types.JID]backend.Presence),
		watched:  make(map[types.JID]int),
	}
	a.dir = newDirectory(mapper, a.identityUpgraded)
	return a
}

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client != nil && a.client.Store.ID != nil
}

// Connect initiates the WhatsApp connection.
func (a *Adapter) Connect() error {
	a.logger.Info("connecting to WhatsApp")
	return a.client.Connect()
}

// Disconnect terminates the WhatsApp connection.
func (a *Adapter) Disconnect() {
	if a.client == nil {
		return
	}
	a.logger.Info("disconnecting from WhatsApp")
	a.client.Disconnect()
}

// RegisterEventHandler adds a handler for whatsmeow events.
func (a *Adapter) RegisterEventHandler(handler whatsmeow.EventHandler) {
	a.client.AddEventHandler(handler)
}

// PhoneNumber returns the phone number from the device store, or empty string.
func (a *Adapter) PhoneNumber() string {
	if !a.IsLoggedIn() {
		return ""
	}
	return a.client.Store.ID.User
}

// SelfIdentity builds the logged-in account's identity from the device
// store.
func (a *Adapter) SelfIdentity() (identity.Identity, error) {
	if !a.IsLoggedIn() {
		return identity.Invalid, fmt.Errorf("no stored device credentials")
	}
	id, err := IdentityFromJIDs(a.client.Store.LID.ToNonAD(), a.client.Store.ID.ToNonAD())
	if err != nil {
		return identity.Invalid, fmt.Errorf("self identity: %w", err)
	}
	a.dir.learn(id)
	return id, nil
}

// Self returns the identity recorded at the last successful login.
func (a *Adapter) Self() identity.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.self
}

func (a *Adapter) setSelf(id identity.Identity) {
	a.mu.Lock()
	a.self = id
	a.mu.Unlock()
}

func (a *Adapter) currentNotifier() backend.Notifier {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.notifier
}

// run executes fn on its own goroutine under the call timeout.
func (a *Adapter) run(op string, fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		a.logger.Debug("platform call", zap.String("op", op))
		fn(ctx)
	}()
}

func (a *Adapter) identityUpgraded(old, upgraded identity.Identity) {
	a.mu.Lock()
	if a.self.Equal(old) {
		a.self = upgraded
	}
	a.mu.Unlock()
	a.logger.Info("identity upgraded", zap.String("old", old.String()), zap.String("new", upgraded.String()))
	if n := a.currentNotifier(); n != nil {
		n.IdentityUpgraded(old, upgraded)
	}
}

// lastPresence returns the most recent presence seen for jid.
func (a *Adapter) lastPresence(jid types.JID) backend.Presence {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.presence[jid.ToNonAD()]; ok {
		return p.Clone()
	}
	return backend.Presence{State: backend.Offline}
}
