package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/bus"
	"github.com/matheus3301/netid/internal/identity"
	"github.com/matheus3301/netid/internal/logging"
	"github.com/matheus3301/netid/internal/online"
	"github.com/matheus3301/netid/internal/presence"
	"github.com/matheus3301/netid/internal/query"
	"github.com/matheus3301/netid/internal/store"
)

// Deps are the components the service fronts. Every capability call goes
// through Online. DB is optional and only feeds the counters in Status.
type Deps struct {
	Profile string
	Backend string
	Online  *online.Subsystem
	Bus     *bus.Bus
	DB      *store.DB
	Logger  *zap.Logger
}

// Service implements the Control service. Each unary method waits for the
// underlying asynchronous operation to complete or for the request context
// to end.
type Service struct {
	Deps
	core      *online.Core
	startedAt time.Time
}

// NewService creates the control service.
func NewService(d Deps) *Service {
	d.Logger = logging.OrNop(d.Logger)
	return &Service{Deps: d, core: d.Online.Core, startedAt: time.Now()}
}

// await starts an operation and blocks until its callback reports.
func await(ctx context.Context, start func(done func(error)) error) error {
	ch := make(chan error, 1)
	if err := start(func(err error) { ch <- err }); err != nil {
		return ToStatus(err)
	}
	select {
	case err := <-ch:
		return ToStatus(err)
	case <-ctx.Done():
		return grpcstatus.FromContextError(ctx.Err()).Err()
	}
}

func empty() (*structpb.Struct, error) {
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

func localUser(in *structpb.Struct) int {
	return num(in, "local_user")
}

func (s *Service) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	users := make([]any, 0, s.core.MaxLocalUsers())
	for i := 0; i < s.core.MaxLocalUsers(); i++ {
		u := map[string]any{
			"local_user": i,
			"status":     string(s.core.LoginStatus(i)),
			"account":    s.core.Account(i),
		}
		if id, err := s.core.Identity(i); err == nil {
			u["identity"] = id.String()
		}
		users = append(users, u)
	}

	resp := map[string]any{
		"profile":           s.Profile,
		"backend":           s.Backend,
		"uptime_ms":         time.Since(s.startedAt).Milliseconds(),
		"local_users":       users,
		"sessions":          len(s.core.Sessions()),
		"pending_searches":  s.core.PendingSearches(),
		"event_subscribers": s.Bus.Subscribers(),
		"dropped_events":    s.Bus.Dropped(),
	}
	if s.DB != nil {
		if n, err := s.DB.IdentityCount(); err == nil {
			resp["stored_identities"] = n
		}
		if n, err := s.DB.FriendshipCount(); err == nil {
			resp["stored_friendships"] = n
		}
	}
	return newStruct(resp)
}

func (s *Service) Login(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	creds, err := credentialsField(in)
	if err != nil {
		return nil, err
	}
	var id identity.Identity
	err = await(ctx, func(done func(error)) error {
		return s.core.Login(localUser(in), creds, func(got identity.Identity, err error) {
			id = got
			done(err)
		})
	})
	if err != nil {
		return nil, err
	}
	return newStruct(map[string]any{"identity": id.String()})
}

func (s *Service) Logout(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	err := await(ctx, func(done func(error)) error {
		return s.core.Logout(localUser(in), done)
	})
	if err != nil {
		return nil, err
	}
	return empty()
}

func (s *Service) ListFriends(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	records, ok := s.core.Friends(localUser(in))
	friends := make([]any, 0, len(records))
	for _, r := range records {
		friends = append(friends, friendAny(r))
	}
	return newStruct(map[string]any{"queried": ok, "friends": friends})
}

func (s *Service) RefreshFriends(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	err := await(ctx, func(done func(error)) error {
		return s.core.RefreshFriends(ctx, localUser(in), done)
	})
	if err != nil {
		return nil, err
	}
	return s.ListFriends(ctx, in)
}

func (s *Service) QueryPresence(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	target, err := identityField(in, "target")
	if err != nil {
		return nil, err
	}
	var rec presence.PresenceRecord
	err = await(ctx, func(done func(error)) error {
		return s.core.QueryPresence(localUser(in), target, func(r presence.PresenceRecord, err error) {
			rec = r
			done(err)
		})
	})
	if err != nil {
		return nil, err
	}
	return newStruct(presenceAny(rec))
}

func (s *Service) SetPresence(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p := presenceField(object(in, "presence"))
	err := await(ctx, func(done func(error)) error {
		return s.core.SetPresence(localUser(in), p, done)
	})
	if err != nil {
		return nil, err
	}
	return empty()
}

func (s *Service) relationship(ctx context.Context, in *structpb.Struct, call func(int, identity.Identity, func(error)) error) (*structpb.Struct, error) {
	target, err := identityField(in, "target")
	if err != nil {
		return nil, err
	}
	err = await(ctx, func(done func(error)) error {
		return call(localUser(in), target, done)
	})
	if err != nil {
		return nil, err
	}
	return empty()
}

func (s *Service) SendInvite(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.relationship(ctx, in, s.core.SendInvite)
}

func (s *Service) AcceptInvite(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.relationship(ctx, in, s.core.AcceptInvite)
}

func (s *Service) RejectInvite(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.relationship(ctx, in, s.core.RejectInvite)
}

// QueryUserInfo reports partial failures in the response body rather than
// as an RPC error.
func (s *Service) QueryUserInfo(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	targets, err := identityList(in, "targets")
	if err != nil {
		return nil, err
	}

	ch := make(chan query.Result, 1)
	id, err := s.core.QueryUserInfo(ctx, localUser(in), targets, func(r query.Result) { ch <- r })
	if err != nil {
		return nil, ToStatus(err)
	}
	var res query.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, grpcstatus.FromContextError(ctx.Err()).Err()
	}

	profiles := make([]any, 0, len(targets))
	for _, t := range targets {
		if p, ok := s.core.UserInfo(t); ok {
			entry := profileAny(p)
			entry["identity"] = t.String()
			profiles = append(profiles, entry)
		}
	}
	errors := make([]any, 0, len(res.Errors))
	for _, e := range res.Errors {
		errors = append(errors, e)
	}
	return newStruct(map[string]any{
		"query_id": int64(id),
		"success":  res.Success,
		"message":  res.Message,
		"targets":  identitiesAny(res.Targets),
		"errors":   errors,
		"profiles": profiles,
	})
}

func (s *Service) CreateSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, err := requiredName(in)
	if err != nil {
		return nil, err
	}
	settings := settingsField(in)
	err = await(ctx, func(done func(error)) error {
		return s.core.CreateSession(ctx, localUser(in), name, settings, done)
	})
	if err != nil {
		return nil, err
	}
	return s.sessionRecord(name)
}

func (s *Service) sessionOp(ctx context.Context, in *structpb.Struct, op func(context.Context, string, func(error)) error) (*structpb.Struct, error) {
	name, err := requiredName(in)
	if err != nil {
		return nil, err
	}
	if err := await(ctx, func(done func(error)) error { return op(ctx, name, done) }); err != nil {
		return nil, err
	}
	return s.sessionRecord(name)
}

// sessionRecord returns the record, or an empty body once it was removed.
func (s *Service) sessionRecord(name string) (*structpb.Struct, error) {
	rec, ok := s.core.Session(name)
	if !ok {
		return empty()
	}
	return newStruct(sessionAny(rec))
}

func (s *Service) StartSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.sessionOp(ctx, in, s.core.StartSession)
}

func (s *Service) EndSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.sessionOp(ctx, in, s.core.EndSession)
}

func (s *Service) DestroySession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.sessionOp(ctx, in, s.core.DestroySession)
}

func (s *Service) UpdateSession(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	settings := settingsField(in)
	refresh := flag(in, "refresh_remote")
	return s.sessionOp(ctx, in, func(ctx context.Context, name string, done func(error)) error {
		return s.core.UpdateSession(ctx, name, settings, refresh, done)
	})
}

func (s *Service) SessionState(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, err := requiredName(in)
	if err != nil {
		return nil, err
	}
	state, ok := s.core.SessionState(name)
	if !ok {
		return nil, grpcstatus.Errorf(codes.NotFound, "session %q not found", name)
	}
	return newStruct(map[string]any{"name": name, "state": string(state)})
}

func (s *Service) ListSessions(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	records := s.core.Sessions()
	out := make([]any, 0, len(records))
	for _, r := range records {
		out = append(out, sessionAny(r))
	}
	return newStruct(map[string]any{"sessions": out})
}

func (s *Service) FindSessions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	criteria := backend.SearchCriteria{
		NamePrefix: str(in, "name_prefix"),
		Attributes: stringMap(in, "attributes"),
		MaxResults: num(in, "max_results"),
	}
	type found struct {
		results []backend.SessionDescriptor
		err     error
	}
	ch := make(chan found, 1)
	id, err := s.core.FindSessions(ctx, localUser(in), criteria, func(r []backend.SessionDescriptor, err error) {
		ch <- found{r, err}
	})
	if err != nil {
		return nil, ToStatus(err)
	}
	var f found
	select {
	case f = <-ch:
	case <-ctx.Done():
		return nil, grpcstatus.FromContextError(ctx.Err()).Err()
	}
	if f.err != nil {
		return nil, ToStatus(f.err)
	}
	results := make([]any, 0, len(f.results))
	for _, d := range f.results {
		results = append(results, descriptorAny(d))
	}
	return newStruct(map[string]any{"search_id": int64(id), "results": results})
}

func (s *Service) players(ctx context.Context, in *structpb.Struct, op func(context.Context, string, identity.Identity, func(error)) error) (*structpb.Struct, error) {
	player, err := identityField(in, "player")
	if err != nil {
		return nil, err
	}
	return s.sessionOp(ctx, in, func(ctx context.Context, name string, done func(error)) error {
		return op(ctx, name, player, done)
	})
}

func (s *Service) RegisterPlayer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.players(ctx, in, s.core.RegisterPlayer)
}

func (s *Service) UnregisterPlayer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return s.players(ctx, in, s.core.UnregisterPlayer)
}
