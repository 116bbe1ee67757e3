package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/GriffinCanCode/webterm/internal/auth"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
)

// Seed declares the sessions, memberships and plans a deployment starts
// with. Applying a seed twice changes nothing.
//
//	sessions:
//	  - id: demo
//	    name: Demo
//	    owner: alice
//	    members:
//	      bob: member
//	      carol: viewer
//	subscriptions:
//	  - user: alice
//	    plan: pro
type Seed struct {
	Sessions      []SeedSession      `yaml:"sessions"`
	Subscriptions []SeedSubscription `yaml:"subscriptions"`
}

// SeedSession is one session with its members keyed by user id
type SeedSession struct {
	ID      string          `yaml:"id"`
	Name    string          `yaml:"name"`
	Owner   string          `yaml:"owner"`
	Members map[string]Role `yaml:"members"`
}

// SeedSubscription is one user's plan
type SeedSubscription struct {
	User           string `yaml:"user"`
	Plan           string `yaml:"plan"`
	AssistantQuota int    `yaml:"assistant_quota"`
}

// SeedStats counts what ApplySeed wrote
type SeedStats struct {
	Created       int
	Existing      int
	Members       int
	Subscriptions int
}

// LoadSeed reads a seed file. Unknown keys are rejected so typos surface
// at startup.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a YAML seed document
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.UnmarshalWithOptions(data, &seed, yaml.Strict()); err != nil {
		return Seed{}, fmt.Errorf("parse seed: %w", err)
	}

	for i, sess := range seed.Sessions {
		if err := utils.ValidateID(sess.ID, "id", true); err != nil {
			return Seed{}, fmt.Errorf("seed session %d: %w", i, err)
		}
		if sess.Owner == "" {
			return Seed{}, fmt.Errorf("seed session %s: owner is required", sess.ID)
		}
		for user, role := range sess.Members {
			if role != RoleViewer && role != RoleMember {
				return Seed{}, fmt.Errorf("seed session %s: member %s has unknown role %q", sess.ID, user, role)
			}
		}
	}
	for i, sub := range seed.Subscriptions {
		if sub.User == "" || sub.Plan == "" {
			return Seed{}, fmt.Errorf("seed subscription %d: user and plan are required", i)
		}
	}
	return seed, nil
}

// ApplySeed writes seed into the store. Existing sessions are kept as long
// as the owner matches; members and plans are upserted.
func (s *Store) ApplySeed(ctx context.Context, seed Seed) (SeedStats, error) {
	var stats SeedStats

	for _, sess := range seed.Sessions {
		existing, err := s.Session(ctx, sess.ID)
		switch {
		case err != nil && !errors.Is(err, ErrNotFound):
			return stats, err
		case err == nil && existing.OwnerID != sess.Owner:
			return stats, fmt.Errorf("seed session %s: owned by %s, not %s", sess.ID, existing.OwnerID, sess.Owner)
		case err == nil:
			stats.Existing++
		default:
			if err := s.CreateSession(ctx, auth.SessionInfo{ID: sess.ID, Name: sess.Name, OwnerID: sess.Owner}); err != nil {
				return stats, err
			}
			stats.Created++
		}

		for user, role := range sess.Members {
			if err := s.AddMember(ctx, sess.ID, user, role); err != nil {
				return stats, fmt.Errorf("seed member %s of %s: %w", user, sess.ID, err)
			}
			stats.Members++
		}
	}

	for _, sub := range seed.Subscriptions {
		err := s.SetSubscription(ctx, Subscription{
			UserID:         sub.User,
			Plan:           sub.Plan,
			AssistantQuota: sub.AssistantQuota,
		})
		if err != nil {
			return stats, fmt.Errorf("seed subscription %s: %w", sub.User, err)
		}
		stats.Subscriptions++
	}
	return stats, nil
}
