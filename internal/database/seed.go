package database

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nfrund/chaats/internal/domain"
)

type profilesFile struct {
	Profiles []domain.Profile `yaml:"profiles"`
}

// LoadProfiles reads a YAML document of the form
//
//	profiles:
//	  - id: 1
//	    username: alice
//	    email: alice@example.com
func LoadProfiles(path string) ([]domain.Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var doc profilesFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode profiles file %s: %w", path, err)
	}

	var errs []error
	seen := make(map[domain.UserID]bool, len(doc.Profiles))
	for i, p := range doc.Profiles {
		switch {
		case p.ID <= 0:
			errs = append(errs, fmt.Errorf("profile #%d: id must be positive", i+1))
		case p.Username == "":
			errs = append(errs, fmt.Errorf("profile %s: username is required", p.ID))
		case seen[p.ID]:
			errs = append(errs, fmt.Errorf("profile %s: duplicate id", p.ID))
		}
		seen[p.ID] = true
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid profiles file %s: %w", path, err)
	}
	return doc.Profiles, nil
}

// Seed writes profiles into store, replacing existing records with the same ID.
func Seed(ctx context.Context, store domain.ProfileStore, profiles []domain.Profile) error {
	for _, p := range profiles {
		if err := store.Put(ctx, p); err != nil {
			return fmt.Errorf("seed profile %s: %w", p.ID, err)
		}
	}
	return nil
}
