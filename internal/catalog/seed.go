package catalog

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var seedYAML []byte

// SeedData returns the starter catalog shipped with the binary.
func SeedData() ([]CreateRequest, error) {
	var reqs []CreateRequest
	if err := yaml.Unmarshal(seedYAML, &reqs); err != nil {
		return nil, fmt.Errorf("parse seed catalog: %w", err)
	}
	return reqs, nil
}

// Seed creates every request whose name is not in the catalog yet and
// returns how many were added. Running it twice adds nothing.
func (s *Service) Seed(ctx context.Context, reqs []CreateRequest) (int, error) {
	created := 0
	for _, req := range reqs {
		_, found, err := s.FindByName(ctx, req.Name)
		if err != nil {
			return created, err
		}
		if found {
			continue
		}
		if _, err := s.Create(ctx, req); err != nil {
			return created, fmt.Errorf("seed %q: %w", req.Name, err)
		}
		created++
	}
	return created, nil
}
