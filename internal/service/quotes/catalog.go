package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/mamadbah2/wagonmaint/internal/domain/models"
)

// PartWriter stores catalog entries.
type PartWriter interface {
	UpsertPart(ctx context.Context, part models.Part) error
}

// LoadCatalog reads a JSON array of parts.
func LoadCatalog(path string) ([]models.Part, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	var parts []models.Part
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	for i, p := range parts {
		if p.Reference == "" {
			return nil, fmt.Errorf("catalog %s: entry %d has no reference", path, i)
		}
		if p.CatalogPrice.IsNegative() {
			return nil, fmt.Errorf("catalog %s: part %s has a negative price", path, p.Reference)
		}
	}
	return parts, nil
}

// SeedCatalog upserts every part of the catalog file into the ledger.
func SeedCatalog(ctx context.Context, path string, ledger PartWriter, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	parts, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	for _, p := range parts {
		if err := ledger.UpsertPart(ctx, p); err != nil {
			return err
		}
	}
	logger.Info("catalog seeded", zap.String("path", path), zap.Int("parts", len(parts)))
	return nil
}
