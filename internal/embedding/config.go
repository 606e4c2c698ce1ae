package embedding

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/remembr/remembr/internal/storage"
)

// LoadConfig reads the active embedding service configuration (credentials,
// model, dimensions) for serviceID. APIKey is transparently decrypted by
// storage.EncryptedString's Scan hook.
func LoadConfig(ctx context.Context, db *gorm.DB, serviceID string) (Config, error) {
	var row storage.EmbeddingServiceConfig
	if err := db.WithContext(ctx).First(&row, "service_id = ?", serviceID).Error; err != nil {
		return Config{}, fmt.Errorf("embedding: load config %q: %w", serviceID, err)
	}
	return Config{
		BaseURL:    row.BaseURL,
		APIKey:     string(row.APIKey),
		Model:      row.Model,
		Dimensions: row.Dimensions,
	}, nil
}
