package save

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"questline/internal/domain"
)

// FileStore keeps saves as YAML or JSON files. Writes go to a temp file in
// the destination directory and are renamed into place.
type FileStore struct {
	Perm fs.FileMode
}

func NewFileStore() *FileStore {
	return &FileStore{Perm: 0o644}
}

func (s *FileStore) Save(ctx context.Context, state domain.PlayerState, dest string) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.CodeIO, err, "save %s", dest)
	}
	data, err := Encode(state, FormatFor(dest))
	if err != nil {
		return domain.WrapError(domain.CodeIO, err, "encode save")
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.WrapError(domain.CodeIO, err, "create save directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return domain.WrapError(domain.CodeIO, err, "create temp save")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return domain.WrapError(domain.CodeIO, err, "write save")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.WrapError(domain.CodeIO, err, "sync save")
	}
	if err := tmp.Close(); err != nil {
		return domain.WrapError(domain.CodeIO, err, "close save")
	}
	perm := s.Perm
	if perm == 0 {
		perm = 0o644
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return domain.WrapError(domain.CodeIO, err, "chmod save")
	}
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.CodeIO, err, "save %s", dest)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return domain.WrapError(domain.CodeIO, err, "replace %s", dest)
	}
	logrus.WithFields(logrus.Fields{
		"campaign_id":  state.CampaignID,
		"encounter_id": state.EncounterID,
		"path":         dest,
	}).Debug("progress saved")
	return nil
}

func (s *FileStore) Load(ctx context.Context, src string) (domain.PlayerState, error) {
	if err := ctx.Err(); err != nil {
		return domain.PlayerState{}, domain.WrapError(domain.CodeIO, err, "load %s", src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.PlayerState{}, domain.WrapError(domain.CodeIO, err, "no save at %s", src)
		}
		return domain.PlayerState{}, domain.WrapError(domain.CodeIO, err, "read %s", src)
	}
	state, err := Decode(data, FormatFor(src))
	if err != nil {
		logrus.WithField("path", src).Warnf("unreadable save: %v", err)
		return domain.PlayerState{}, err
	}
	return state, nil
}
