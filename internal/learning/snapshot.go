package learning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/qlearn/pkg/models"
)

// Snapshot is a portable copy of one scope's Q-table.
type Snapshot struct {
	Scope      string               `yaml:"scope"`
	ExportedAt time.Time            `yaml:"exported_at"`
	Entries    []models.QValueEntry `yaml:"entries"`
}

// Export copies every entry of a scope into a snapshot.
func (s *QValueStore) Export(ctx context.Context, scope models.Scope) (*Snapshot, error) {
	if !scope.Valid() {
		return nil, fmt.Errorf("%w: scope %q", ErrInvalidInput, scope.String())
	}
	entries, err := s.repo.ListScopeQValues(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return &Snapshot{Scope: scope.String(), ExportedAt: s.now(), Entries: entries}, nil
}

// Import writes the values of a snapshot into scope through the optimistic
// protocol. Existing entries are overwritten and their visit counts
// advance by one. It returns the number of entries written.
func (s *QValueStore) Import(ctx context.Context, scope models.Scope, snap *Snapshot) (int, error) {
	if snap == nil {
		return 0, fmt.Errorf("%w: nil snapshot", ErrInvalidInput)
	}
	n := 0
	for _, e := range snap.Entries {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if _, err := s.Set(ctx, scope, e.State, e.Action, e.Value); err != nil {
			return n, fmt.Errorf("import %s action %d: %w", e.State, e.Action, err)
		}
		n++
	}
	return n, nil
}

// WriteSnapshot encodes a snapshot as YAML.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return enc.Close()
}

// ReadSnapshot decodes a YAML snapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty snapshot", ErrInvalidInput)
		}
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for _, e := range snap.Entries {
		if e.State == "" || e.Action < 0 {
			return nil, fmt.Errorf("%w: snapshot entry %q action %d", ErrInvalidInput, e.State, e.Action)
		}
	}
	return &snap, nil
}
