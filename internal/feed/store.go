package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/alpha-engine/pkg/types"
)

// ErrNoData is returned when a symbol has no stored ticks
var ErrNoData = errors.New("feed: no data for symbol")

// Store keeps historical ticks as one JSON file per symbol under a data directory
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	cache    map[string][]types.Tick
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata describes the stored range of a symbol
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	TickCount int       `json:"tickCount"`
}

// NewStore opens (creating if needed) a tick store rooted at dataDir
func NewStore(logger *zap.Logger, dataDir string) (*Store, error) {
	store := &Store{
		logger:   logger.Named("store"),
		dataDir:  dataDir,
		cache:    make(map[string][]types.Tick),
		metadata: make(map[string]*SymbolMetadata),
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := store.loadMetadata(); err != nil {
		logger.Warn("Failed to load metadata", zap.Error(err))
	}

	return store, nil
}

// LoadTicks returns the stored ticks of symbol with start <= timestamp <= end (milliseconds).
// A zero end means no upper bound.
func (s *Store) LoadTicks(ctx context.Context, symbol string, start, end int64) ([]types.Tick, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = normalizeSymbol(symbol)

	s.mu.Lock()
	defer s.mu.Unlock()

	ticks, ok := s.cache[symbol]
	if !ok {
		data, err := os.ReadFile(s.tickFile(symbol))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrNoData, symbol)
			}
			return nil, fmt.Errorf("failed to read data file: %w", err)
		}
		if err := json.Unmarshal(data, &ticks); err != nil {
			return nil, fmt.Errorf("failed to parse data: %w", err)
		}
		sortTicks(ticks)
		s.cache[symbol] = ticks
	}

	return filterByTimeRange(ticks, start, end), nil
}

// SaveTicks replaces the stored ticks of symbol
func (s *Store) SaveTicks(symbol string, ticks []types.Tick) error {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return errors.New("feed: symbol is required")
	}

	sorted := make([]types.Tick, len(ticks))
	copy(sorted, ticks)
	sortTicks(sorted)

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.writeLocked(symbol, sorted)
}

// AppendTicks merges ticks into the stored series of symbol
func (s *Store) AppendTicks(symbol string, ticks []types.Tick) error {
	symbol = normalizeSymbol(symbol)
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.cache[symbol]
	if !ok {
		if data, err := os.ReadFile(s.tickFile(symbol)); err == nil {
			if err := json.Unmarshal(data, &existing); err != nil {
				return fmt.Errorf("failed to parse data: %w", err)
			}
		}
	}

	merged := make([]types.Tick, 0, len(existing)+len(ticks))
	merged = append(merged, existing...)
	merged = append(merged, ticks...)
	sortTicks(merged)

	return s.writeLocked(symbol, merged)
}

func (s *Store) writeLocked(symbol string, ticks []types.Tick) error {
	data, err := json.Marshal(ticks)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	if err := os.WriteFile(s.tickFile(symbol), data, 0o644); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}

	s.cache[symbol] = ticks
	if len(ticks) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartTime: ticks[0].Time().UTC(),
			EndTime:   ticks[len(ticks)-1].Time().UTC(),
			TickCount: len(ticks),
		}
	} else {
		delete(s.metadata, symbol)
	}

	if err := s.saveMetadata(); err != nil {
		s.logger.Warn("Failed to save metadata", zap.Error(err))
	}
	return nil
}

// Symbols returns the stored symbols in sorted order
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Metadata returns the stored range of symbol
func (s *Store) Metadata(symbol string) (SymbolMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if meta, ok := s.metadata[normalizeSymbol(symbol)]; ok {
		return *meta, nil
	}
	return SymbolMetadata{}, fmt.Errorf("%w: %s", ErrNoData, symbol)
}

// ClearCache drops the in-memory copies
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache = make(map[string][]types.Tick)
}

func (s *Store) tickFile(symbol string) string {
	return filepath.Join(s.dataDir, strings.ReplaceAll(symbol, "/", "-")+"_ticks.json")
}

func (s *Store) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(s.dataDir, "metadata.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var metadata map[string]*SymbolMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return err
	}
	if metadata != nil {
		s.metadata = metadata
	}
	return nil
}

func (s *Store) saveMetadata() error {
	data, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dataDir, "metadata.json"), data, 0o644)
}

func filterByTimeRange(ticks []types.Tick, start, end int64) []types.Tick {
	filtered := make([]types.Tick, 0, len(ticks))
	for _, t := range ticks {
		if t.Timestamp >= start && (end == 0 || t.Timestamp <= end) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func sortTicks(ticks []types.Tick) {
	sort.SliceStable(ticks, func(i, j int) bool {
		return ticks[i].Timestamp < ticks[j].Timestamp
	})
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
