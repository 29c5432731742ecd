package store

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/eldtechnologies/teamchat/internal/models"
)

// DirectoryWriter is implemented by backends that can hold directory records
// locally instead of reading them from an external service.
type DirectoryWriter interface {
	UpsertUser(ctx context.Context, u models.User) error
	UpsertTeam(ctx context.Context, t models.Team) error
}

// Seed is a directory snapshot loaded from YAML:
//
//	users:
//	  - id: 5f0c...
//	    name: Ada
//	teams:
//	  - id: 9a1e...
//	    name: Platform
//	    manager: 5f0c...
//	    members: [ ... ]
type Seed struct {
	Users []struct {
		ID    uuid.UUID `yaml:"id"`
		Name  string    `yaml:"name"`
		Email string    `yaml:"email"`
		Role  string    `yaml:"role"`
	} `yaml:"users"`
	Teams []struct {
		ID      uuid.UUID   `yaml:"id"`
		Name    string      `yaml:"name"`
		Manager uuid.UUID   `yaml:"manager"`
		Members []uuid.UUID `yaml:"members"`
	} `yaml:"teams"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return &seed, nil
}

// Apply writes every user and team into w.
func (s *Seed) Apply(ctx context.Context, w DirectoryWriter) error {
	for _, u := range s.Users {
		if u.ID == uuid.Nil {
			return fmt.Errorf("seed: user %q has no id", u.Name)
		}
		err := w.UpsertUser(ctx, models.User{ID: u.ID, DisplayName: u.Name, Email: u.Email, Role: u.Role})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.ID, err)
		}
	}
	for _, t := range s.Teams {
		if t.ID == uuid.Nil {
			return fmt.Errorf("seed: team %q has no id", t.Name)
		}
		err := w.UpsertTeam(ctx, models.Team{ID: t.ID, Name: t.Name, ManagerID: t.Manager, MemberIDs: t.Members})
		if err != nil {
			return fmt.Errorf("seed team %s: %w", t.ID, err)
		}
	}
	return nil
}
