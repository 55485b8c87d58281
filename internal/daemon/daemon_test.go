package daemon

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/netid/internal/api"
	"github.com/matheus3301/netid/internal/backend/memory"
	"github.com/matheus3301/netid/internal/config"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/lock"
	"github.com/matheus3301/netid/internal/profile"
	"github.com/matheus3301/netid/internal/store"
)

func seededConfig() *config.Config {
	cfg := config.Default()
	cfg.MaxLocalUsers = 2
	cfg.Memory = config.MemoryConfig{
		Accounts: []config.MemoryAccount{
			{Name: "me", Primary: "me", Secret: "pw"},
			{Name: "ana", Primary: "ana", DisplayName: "Ana"},
		},
		Friendships: []config.MemoryFriendship{{A: "me", B: "ana"}},
	}
	return cfg
}

// shortHome points NETID_HOME at a short path to stay under the 104-char Unix
// socket limit on macOS.
func shortHome(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "netid-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	t.Setenv("NETID_HOME", dir)
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, req map[string]any) map[string]any {
	t.Helper()
	in, err := structpb.NewStruct(req)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out := new(structpb.Struct)
	if err := conn.Invoke(ctx, api.FullMethod(method), in, out); err != nil {
		t.Fatalf("%s error = %v", method, err)
	}
	return out.AsMap()
}

func TestDaemonLifecycle(t *testing.T) {
	shortHome(t)

	var db *store.DB
	app := fxtest.New(t,
		Module(Params{ProfileName: "test", Config: seededConfig()}),
		fx.Populate(&db),
	)
	app.RequireStart()

	// A second daemon on the same profile must not get the lock.
	_, err := lock.Acquire(profile.Dir("test"))
	var held *lock.LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire error = %v, want LockHeldError", err)
	}

	conn, err := grpc.NewClient(
		"unix://"+profile.SocketPath("test"),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.Close() }()

	status := invoke(t, conn, api.MethodStatus, nil)
	if status["profile"] != "test" || status["backend"] != config.BackendMemory {
		t.Errorf("status = %v", status)
	}

	login := invoke(t, conn, api.MethodLogin, map[string]any{"local_user": 0, "kind": "password", "account": "me", "secret": "pw"})
	me := identity.MustNew("me", "")
	if login["identity"] != me.String() {
		t.Errorf("identity = %v, want %s", login["identity"], me)
	}

	friends := invoke(t, conn, api.MethodRefreshFriends, map[string]any{"local_user": 0})
	if list, _ := friends["friends"].([]any); len(list) != 1 {
		t.Fatalf("friends = %v, want 1 entry", friends["friends"])
	}

	// The write-behind engine persists the refreshed list.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rows, err := db.ListFriendships(me)
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("friendships persisted = %d, want 1", len(rows))
		}
		time.Sleep(10 * time.Millisecond)
	}

	app.RequireStop()

	if _, err := os.Stat(profile.SocketPath("test")); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	l, err := lock.Acquire(profile.Dir("test"))
	if err != nil {
		t.Fatalf("Acquire after stop error = %v", err)
	}
	_ = l.Release()
}

func TestSeedMemoryRejectsBadIdentity(t *testing.T) {
	p := memory.New(memory.Options{})
	err := seedMemory(p, config.MemoryConfig{Accounts: []config.MemoryAccount{{Name: "ghost"}}})
	if err == nil {
		t.Fatal("seedMemory() expected error for an account with no identity components")
	}
}

func TestProvideConfigValidatesOverride(t *testing.T) {
	cfg := config.Default()
	cfg.Backend = "carrier-pigeon"
	if _, err := provideConfig(Params{Config: cfg}); err == nil {
		t.Fatal("provideConfig() expected error for unknown backend")
	}
}
