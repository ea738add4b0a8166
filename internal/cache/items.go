package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/historian/internal/enrich"
	"github.com/kalambet/historian/internal/storage"
)

// ItemBackend keeps all results as one JSON object under the ai_summaries
// item, the same shape a browser would keep in local storage.
type ItemBackend struct {
	mu     sync.Mutex
	items  Items
	logger *slog.Logger
}

func NewItemBackend(items Items) *ItemBackend {
	return &ItemBackend{items: items, logger: slog.Default()}
}

func (b *ItemBackend) Load(ctx context.Context, id string) (enrich.Result, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.read()
	if err != nil {
		return enrich.Result{}, false, err
	}
	r, ok := all[id]
	return r, ok, nil
}

func (b *ItemBackend) Store(ctx context.Context, id string, r enrich.Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	all, err := b.read()
	if err != nil {
		return err
	}
	all[id] = r
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	return b.items.SetItem(storage.KeyAISummaries, string(data))
}

func (b *ItemBackend) All(ctx context.Context) (map[string]enrich.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read()
}

func (b *ItemBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.items.RemoveItem(storage.KeyAISummaries)
}

// read returns the stored map. Corrupt JSON is logged and read as empty.
func (b *ItemBackend) read() (map[string]enrich.Result, error) {
	raw, err := b.items.GetItem(storage.KeyAISummaries)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]enrich.Result{}, nil
	}
	if err != nil {
		return nil, err
	}

	all := map[string]enrich.Result{}
	if err := json.Unmarshal([]byte(raw), &all); err != nil {
		b.logger.Warn("cached results are corrupt, treating as empty", "key", storage.KeyAISummaries, "error", err)
		return map[string]enrich.Result{}, nil
	}
	if all == nil {
		all = map[string]enrich.Result{}
	}
	return all, nil
}
