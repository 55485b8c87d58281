package daemon

import (
	"fmt"

	"github.com/matheus3301/netid/internal/backend"
	"github.com/matheus3301/netid/internal/backend/memory"
	"github.com/matheus3301/netid/internal/config"
	"github.com/matheus3301/netid/internal/identity"
)

// seedMemory loads the configured accounts and friendships into p.
func seedMemory(p *memory.Platform, m config.MemoryConfig) error {
	ids := make(map[string]identity.Identity, len(m.Accounts))
	for _, a := range m.Accounts {
		id, err := identity.New(a.Primary, a.Secondary)
		if err != nil {
			return fmt.Errorf("memory account %q: %w", a.Name, err)
		}
		ids[a.Name] = id
		p.AddAccount(a.Name, memory.Account{
			ID:     id,
			Secret: a.Secret,
			Profile: backend.Profile{
				DisplayName: a.DisplayName,
				RealName:    a.RealName,
				Alias:       a.Alias,
			},
		})
	}
	for _, f := range m.Friendships {
		a, okA := ids[f.A]
		b, okB := ids[f.B]
		if !okA || !okB {
			return fmt.Errorf("memory friendship %q-%q: unknown account", f.A, f.B)
		}
		p.SetFriendship(a, b, backend.Friends)
	}
	return nil
}
