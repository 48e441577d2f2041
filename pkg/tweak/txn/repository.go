package txn

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/tweakctl/tweakctl/pkg/tweak/logging"
	"github.com/tweakctl/tweakctl/pkg/tweak/types"
)

const (
	txnsDirName    = "txns"
	backupsDirName = "backups"
	manifestName   = "manifest.json"
	revertedMarker = "reverted"
)

// MetadataFunc captures ownership metadata for a path. ok is false when the
// backing filesystem has no owner notion (tests on a mem filesystem).
type MetadataFunc func(path string) (uid, gid int, ok bool)

// OwnershipLookup resolves which package, if any, owns a path. owned is
// false when no package claims it.
type OwnershipLookup func(path string) (pkg string, owned bool, err error)

// Repository is one scope's on-disk transaction store. The directory tree it
// manages is the only shared mutable state in the system; transaction
// creation is atomic (exclusive directory creation) so two racing
// invocations can never interleave writes into one transaction.
type Repository struct {
	fs    afero.Fs
	root  string
	scope types.Scope
	home  string

	// Meta captures uid/gid for backup records. Defaults to a no-op;
	// callers on the real filesystem set it to OSMetadata.
	Meta MetadataFunc

	now func() time.Time
}

// NewRepository creates a repository rooted at root for the given scope.
// home is the invoking user's home directory; paths under it never consult
// the package manager during reset-strategy selection.
func NewRepository(fs afero.Fs, root string, scope types.Scope, home string) *Repository {
	return &Repository{
		fs:    fs,
		root:  root,
		scope: scope,
		home:  home,
		Meta:  func(string) (int, int, bool) { return 0, 0, false },
		now:   time.Now,
	}
}

// Scope returns the repository's scope.
func (r *Repository) Scope() types.Scope { return r.scope }

// Root returns the repository's root directory.
func (r *Repository) Root() string { return r.root }

var logger = logging.Get("txn")

// Begin opens a new transaction. The transaction directory is created
// exclusively; an id collision (two invocations in the same millisecond)
// retries with a fresh random suffix.
func (r *Repository) Begin() (*Txn, error) {
	if err := r.fs.MkdirAll(filepath.Join(r.root, txnsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("creating transaction root: %w", err)
	}

	for attempt := 0; attempt < 5; attempt++ {
		id := newTxnID(r.now().UTC())
		dir := r.txnDir(id)
		if err := r.fs.Mkdir(dir, 0o755); err != nil {
			if isExist(err) {
				continue
			}
			return nil, fmt.Errorf("creating transaction directory: %w", err)
		}
		logger.Debug("transaction opened", "id", id, "scope", r.scope)
		return &Txn{
			repo: r,
			manifest: Manifest{
				SchemaVersion: ManifestSchemaVersion,
				ID:            id,
				Scope:         r.scope,
				CreatedAt:     r.now().UTC(),
			},
			captured: map[string]*BackupRecord{},
		}, nil
	}
	return nil, errors.New("could not allocate a unique transaction id")
}

// List returns all committed transactions, oldest first. Transaction
// directories without a manifest are mid-write by another invocation (or
// orphaned by a crash) and are excluded rather than treated as errors.
func (r *Repository) List() ([]Manifest, error) {
	entries, err := afero.ReadDir(r.fs, filepath.Join(r.root, txnsDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading transaction root: %w", err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := r.readManifest(entry.Name())
		if err != nil {
			if !os.IsNotExist(err) {
				logger.Warn("skipping unreadable manifest", "txn", entry.Name(), "error", err)
			}
			continue
		}
		manifests = append(manifests, *m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		if manifests[i].CreatedAt.Equal(manifests[j].CreatedAt) {
			return manifests[i].ID < manifests[j].ID
		}
		return manifests[i].CreatedAt.Before(manifests[j].CreatedAt)
	})
	return manifests, nil
}

// OldestFor returns the oldest non-reverted transaction whose manifest lists
// the knob id. Oldest, not newest: a second apply's backup captures the
// already-modified state, so only the first transaction holds the true
// pre-existing state.
func (r *Repository) OldestFor(knobID string) (*Manifest, error) {
	manifests, err := r.List()
	if err != nil {
		return nil, err
	}
	for i := range manifests {
		if manifests[i].Reverted {
			continue
		}
		if manifests[i].ContainsKnob(knobID) {
			return &manifests[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", types.ErrKnobNotFound, knobID)
}

// PendingBackup is a backup record paired with its originating transaction
// and whether the target path currently exists.
type PendingBackup struct {
	TxnID   string       `json:"txn_id"`
	Record  BackupRecord `json:"record"`
	Present bool         `json:"present"`
}

// PendingEffect is an effect record paired with its originating transaction.
type PendingEffect struct {
	TxnID  string       `json:"txn_id"`
	Record EffectRecord `json:"record"`
}

// PendingState is what a full reset would touch: backups deduplicated to the
// oldest record per path and effects deduplicated to the oldest record per
// (kind, target).
type PendingState struct {
	Backups []PendingBackup `json:"backups"`
	Effects []PendingEffect `json:"effects"`
}

// Pending computes the currently-reversible state across all non-reverted
// transactions. When several transactions touched the same path or key, only
// the very first recorded before-state is ground truth, so dedup keeps the
// oldest entry per key.
func (r *Repository) Pending() (*PendingState, error) {
	manifests, err := r.List()
	if err != nil {
		return nil, err
	}

	var state PendingState
	seenPaths := map[string]bool{}
	seenEffects := map[string]bool{}

	for i := range manifests {
		m := &manifests[i]
		if m.Reverted {
			continue
		}
		for _, b := range m.Backups {
			if seenPaths[b.Path] {
				continue
			}
			seenPaths[b.Path] = true
			present, _ := afero.Exists(r.fs, b.Path)
			state.Backups = append(state.Backups, PendingBackup{
				TxnID:   m.ID,
				Record:  b,
				Present: present,
			})
		}
		for _, e := range m.Effects {
			key := string(e.Kind) + "\x00" + e.Target
			if seenEffects[key] {
				continue
			}
			seenEffects[key] = true
			state.Effects = append(state.Effects, PendingEffect{TxnID: m.ID, Record: e})
		}
	}
	return &state, nil
}

// ReadBackup returns the captured bytes for a backup record.
func (r *Repository) ReadBackup(txnID string, rec BackupRecord) ([]byte, error) {
	if !rec.Existed {
		return nil, fmt.Errorf("backup for %q has no blob: path did not exist", rec.Path)
	}
	data, err := afero.ReadFile(r.fs, r.blobPath(txnID, rec.Key))
	if err != nil {
		return nil, fmt.Errorf("reading backup blob: %w", err)
	}
	return data, nil
}

// MarkReverted drops a revert marker next to the manifest. Manifests are
// immutable, so reverted-ness lives in a sidecar file.
func (r *Repository) MarkReverted(txnID string) error {
	stamp := r.now().UTC().Format(time.RFC3339) + "\n"
	path := filepath.Join(r.txnDir(txnID), revertedMarker)
	if err := afero.WriteFile(r.fs, path, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("writing revert marker: %w", err)
	}
	return nil
}

// Clean removes reverted transactions older than retentionDays. Unreverted
// transactions are never garbage collected. Returns the ids removed.
func (r *Repository) Clean(retentionDays int) ([]string, error) {
	manifests, err := r.List()
	if err != nil {
		return nil, err
	}
	cutoff := r.now().UTC().AddDate(0, 0, -retentionDays)

	var removed []string
	for i := range manifests {
		m := &manifests[i]
		if !m.Reverted || !m.CreatedAt.Before(cutoff) {
			continue
		}
		if err := r.fs.RemoveAll(r.txnDir(m.ID)); err != nil {
			logger.Warn("could not remove transaction", "txn", m.ID, "error", err)
			continue
		}
		removed = append(removed, m.ID)
	}
	return removed, nil
}

func (r *Repository) txnDir(id string) string {
	return filepath.Join(r.root, txnsDirName, id)
}

func (r *Repository) blobPath(txnID, key string) string {
	return filepath.Join(r.txnDir(txnID), backupsDirName, key)
}

func (r *Repository) readManifest(txnID string) (*Manifest, error) {
	data, err := afero.ReadFile(r.fs, filepath.Join(r.txnDir(txnID), manifestName))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling manifest: %w", err)
	}
	if m.SchemaVersion > ManifestSchemaVersion {
		return nil, fmt.Errorf("manifest schema version %d is newer than supported %d",
			m.SchemaVersion, ManifestSchemaVersion)
	}
	if reverted, _ := afero.Exists(r.fs, filepath.Join(r.txnDir(txnID), revertedMarker)); reverted {
		m.Reverted = true
	}
	return &m, nil
}

// newTxnID builds a time-ordered transaction id: lexical sort matches
// chronological order, with a random suffix for uniqueness.
func newTxnID(t time.Time) string {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		copy(suffix, fmt.Sprintf("%03d", t.Nanosecond()%1000))
	}
	return fmt.Sprintf("%s-%s", t.Format("2006-01-02T15-04-05.000"), hex.EncodeToString(suffix))
}

func isExist(err error) bool {
	return os.IsExist(err) || strings.Contains(err.Error(), "file exists")
}
