package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/bnema/gateway-pool/internal/domain"
	"github.com/bnema/gateway-pool/internal/ports"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	affinityPathKey  = "affinity.path"
	affinityFileName = "affinity.toml"
	// maxAffinities bounds the file; the oldest records are dropped first.
	maxAffinities = 1000
)

type AffinityRepository struct {
	path  string
	mu    *sync.RWMutex
	limit int
}

var _ ports.AffinityRepository = (*AffinityRepository)(nil)

func NewAffinityRepository(cfg *viper.Viper) (*AffinityRepository, error) {
	if cfg == nil {
		cfg = viper.New()
	}

	path, err := resolvePath(cfg.GetString(affinityPathKey), affinityFileName)
	if err != nil {
		return nil, err
	}

	return &AffinityRepository{path: path, mu: lockForPath(path), limit: maxAffinities}, nil
}

func (r *AffinityRepository) Get(ctx context.Context, messageID string) (domain.Affinity, error) {
	if err := ctx.Err(); err != nil {
		return domain.Affinity{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := r.readSchema()
	if err != nil {
		return domain.Affinity{}, err
	}

	for _, entry := range file.Affinities {
		if entry.MessageID == messageID {
			return fromAffinitySchema(entry), nil
		}
	}

	return domain.Affinity{}, domain.ErrAffinityNotFound
}

func (r *AffinityRepository) Save(ctx context.Context, affinity domain.Affinity) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := r.readSchema()
	if err != nil {
		return err
	}

	encoded := toAffinitySchema(affinity)
	kept := file.Affinities[:0]
	for _, entry := range file.Affinities {
		if entry.MessageID != encoded.MessageID {
			kept = append(kept, entry)
		}
	}
	kept = append(kept, encoded)
	if r.limit > 0 && len(kept) > r.limit {
		kept = kept[len(kept)-r.limit:]
	}
	file.Affinities = kept
	file.applyDefaults()

	return writeTOMLFile(r.path, file)
}

func (r *AffinityRepository) readSchema() (affinityFileSchema, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return affinityFileSchema{}, nil
		}
		return affinityFileSchema{}, fmt.Errorf("read affinity file: %w", err)
	}

	var file affinityFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return affinityFileSchema{}, fmt.Errorf("decode affinity file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return affinityFileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func toAffinitySchema(affinity domain.Affinity) affinitySchema {
	return affinitySchema{
		MessageID: affinity.MessageID,
		ChannelID: affinity.ChannelID,
		AccountID: string(affinity.AccountID),
		UpdatedAt: formatTime(affinity.UpdatedAt),
	}
}

func fromAffinitySchema(schema affinitySchema) domain.Affinity {
	return domain.Affinity{
		MessageID: schema.MessageID,
		ChannelID: schema.ChannelID,
		AccountID: domain.AccountID(schema.AccountID),
		UpdatedAt: parseTime(schema.UpdatedAt),
	}
}
