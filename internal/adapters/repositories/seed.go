package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"donation-logistics-service/internal/domain"
	"donation-logistics-service/internal/ports"
)

// Seed is the reference data a fresh deployment starts with.
type Seed struct {
	Branches []domain.Branch `json:"branches"`
	Items    []domain.Item   `json:"items"`
}

// Populate the store with branches and catalog items from a JSON file.
func SeedFromJSON(ctx context.Context, store ports.Store, jsonPath string) error {
	bytes, err := os.ReadFile(jsonPath)
	if err != nil {
		return fmt.Errorf("seed: read %q: %w", jsonPath, err)
	}

	var data Seed
	if err := json.Unmarshal(bytes, &data); err != nil {
		return fmt.Errorf("seed: parse json: %w", err)
	}

	for i, b := range data.Branches {
		if strings.TrimSpace(b.ID) == "" {
			return fmt.Errorf("seed: branch at index %d: id cannot be empty", i+1)
		}
		if _, ok := domain.ParseLocation(b.Location); !ok {
			return fmt.Errorf("seed: branch %q: malformed location %q", b.ID, b.Location)
		}
	}
	for i, it := range data.Items {
		if strings.TrimSpace(it.ID) == "" || strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("seed: item at index %d: id and name are required", i+1)
		}
	}

	return store.WithinTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		for i := range data.Branches {
			b := data.Branches[i]
			existing, err := tx.Branches().Get(ctx, b.ID)
			if err == nil {
				b.Version = existing.Version
			}
			if err := tx.Branches().Save(ctx, &b); err != nil {
				return fmt.Errorf("seed: branch %q: %w", b.ID, err)
			}
		}
		for i := range data.Items {
			if err := tx.Items().Save(ctx, &data.Items[i]); err != nil {
				return fmt.Errorf("seed: item %q: %w", data.Items[i].ID, err)
			}
		}
		return nil
	})
}
