package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"propshare-backend/internal/pkg/sharemath"

	"github.com/rs/zerolog/log"
)

// seedProperty is one entry of a simulated ledger fixture. Monetary fields
// are display amounts (18 decimals). A zero available_shares lists every
// share as available.
type seedProperty struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Value           string `json:"value"`
	TotalShares     int64  `json:"total_shares"`
	AvailableShares int64  `json:"available_shares"`
	MinInvestment   string `json:"min_investment"`
	MetadataURI     string `json:"metadata_uri"`
}

// Seed lists every property of a JSON fixture in order and returns their
// ledger ids. Nothing is listed when any entry is invalid.
func (s *Simulated) Seed(r io.Reader) ([]uint64, error) {
	var entries []seedProperty
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode ledger seed: %w", err)
	}
	params := make([]PropertyParams, 0, len(entries))
	for i, e := range entries {
		value, err := sharemath.ParseUnits(e.Value)
		if err == nil && value.Sign() == 0 {
			err = fmt.Errorf("must be positive")
		}
		if err != nil {
			return nil, fmt.Errorf("seed entry %d (%s) value: %w", i, e.Symbol, err)
		}
		minimum := "0"
		if e.MinInvestment != "" {
			minimum = e.MinInvestment
		}
		minInvestment, err := sharemath.ParseUnits(minimum)
		if err != nil {
			return nil, fmt.Errorf("seed entry %d (%s) min_investment: %w", i, e.Symbol, err)
		}
		if e.TotalShares <= 0 || e.AvailableShares < 0 || e.AvailableShares > e.TotalShares {
			return nil, fmt.Errorf("seed entry %d (%s): share counts %d/%d are inconsistent", i, e.Symbol, e.AvailableShares, e.TotalShares)
		}
		params = append(params, PropertyParams{
			Name:            e.Name,
			Symbol:          e.Symbol,
			Value:           value,
			TotalShares:     e.TotalShares,
			AvailableShares: e.AvailableShares,
			MinInvestment:   minInvestment,
			MetadataURI:     e.MetadataURI,
		})
	}

	ids := make([]uint64, 0, len(params))
	for _, p := range params {
		ids = append(ids, s.CreateProperty(p))
	}
	return ids, nil
}

// SeedFile is Seed reading from path.
func (s *Simulated) SeedFile(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger seed: %w", err)
	}
	defer f.Close()
	ids, err := s.Seed(f)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("properties", len(ids)).Msg("Simulated ledger seeded")
	return ids, nil
}
