// Package save persists player progress. Callers always pass the destination
// explicitly; there is no process-wide save path.
package save

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"questline/internal/domain"
)

// Store writes and reads one PlayerState per destination.
type Store interface {
	Save(ctx context.Context, state domain.PlayerState, dest string) error
	Load(ctx context.Context, src string) (domain.PlayerState, error)
}

// Format selects the on-disk encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the encoding from a destination's extension. Anything that
// is not .json is written as YAML.
func FormatFor(dest string) Format {
	if strings.EqualFold(filepath.Ext(dest), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Encode serializes state as a flat record.
func Encode(state domain.PlayerState, f Format) ([]byte, error) {
	state.Normalize()
	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	default:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(state); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// Decode parses a saved record. Unknown keys are ignored so older builds can
// read newer saves; unparseable content and records missing their position
// are reported as DeserializationError.
func Decode(data []byte, f Format) (domain.PlayerState, error) {
	var state domain.PlayerState
	var err error
	switch f {
	case FormatJSON:
		err = json.NewDecoder(bytes.NewReader(data)).Decode(&state)
	default:
		err = yaml.NewDecoder(bytes.NewReader(data)).Decode(&state)
	}
	if errors.Is(err, io.EOF) {
		return domain.PlayerState{}, domain.NewError(domain.CodeDeserialization, "save is empty")
	}
	if err != nil {
		return domain.PlayerState{}, domain.WrapError(domain.CodeDeserialization, err, "parse save")
	}
	if err := check(state); err != nil {
		return domain.PlayerState{}, err
	}
	state.Normalize()
	return state, nil
}

func check(s domain.PlayerState) error {
	switch {
	case s.CampaignID == "":
		return domain.NewError(domain.CodeDeserialization, "save has no campaign_id")
	case s.ChapterID == "":
		return domain.NewError(domain.CodeDeserialization, "save has no chapter_id")
	case s.EncounterID == "":
		return domain.NewError(domain.CodeDeserialization, "save has no encounter_id")
	case s.XPEarned < 0:
		return domain.NewError(domain.CodeDeserialization, "save has negative xp_earned %d", s.XPEarned)
	}
	for _, rec := range s.ChoiceHistory {
		if rec.EncounterID == "" || rec.ChoiceID == "" {
			return domain.NewError(domain.CodeDeserialization, "save has an incomplete choice_history entry")
		}
	}
	return nil
}

// RedisScheme prefixes destinations that live in Redis rather than on disk.
const RedisScheme = "redis:"

// Router dispatches each destination to the file or Redis store.
type Router struct {
	File  *FileStore
	Redis *RedisStore
}

func (r Router) pick(dest string) (Store, string, error) {
	if key, ok := strings.CutPrefix(dest, RedisScheme); ok {
		if r.Redis == nil {
			return nil, "", domain.NewError(domain.CodeIO, "no redis store configured for %s", dest)
		}
		return r.Redis, key, nil
	}
	if r.File == nil {
		return nil, "", domain.NewError(domain.CodeIO, "no file store configured for %s", dest)
	}
	return r.File, dest, nil
}

func (r Router) Save(ctx context.Context, state domain.PlayerState, dest string) error {
	st, target, err := r.pick(dest)
	if err != nil {
		return err
	}
	return st.Save(ctx, state, target)
}

func (r Router) Load(ctx context.Context, src string) (domain.PlayerState, error) {
	st, target, err := r.pick(src)
	if err != nil {
		return domain.PlayerState{}, err
	}
	return st.Load(ctx, target)
}
