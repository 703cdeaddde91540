// Package access owns the four user lists and their write-through persistence.
package access

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"tg_ocr_bot/internal/logging"
	"tg_ocr_bot/internal/store"
)

// List names as they appear in the access file.
const (
	ListAdmins   = "admins"
	ListUsers    = "users"
	ListUnknown  = "unknown"
	ListRejected = "rejected"
)

// ErrUnknownList reports a list name outside the four known lists.
var ErrUnknownList = errors.New("unknown access list")

// Lists holds the four user_id to display-label mappings. A user_id should
// appear in at most one of users/rejected/unknown at a time; admins is
// orthogonal and may overlap with users.
type Lists struct {
	Admins   map[int64]string `yaml:"admins"`
	Users    map[int64]string `yaml:"users"`
	Unknown  map[int64]string `yaml:"unknown"`
	Rejected map[int64]string `yaml:"rejected"`
}

func newLists() Lists {
	return Lists{
		Admins:   map[int64]string{},
		Users:    map[int64]string{},
		Unknown:  map[int64]string{},
		Rejected: map[int64]string{},
	}
}

// Registry is the single process-wide access service. Every mutation rewrites
// the whole access file synchronously before returning; the mutex serializes
// check-then-insert sequences when the transport delivers updates concurrently.
type Registry struct {
	mu     sync.Mutex
	lists  Lists
	path   string
	logger *logrus.Entry

	// persist is overridable for tests.
	persist func(path string, doc any) error
}

// Load reads the access file at path, or starts with empty lists when the file
// does not exist yet. An unreadable or malformed file is a startup failure.
func Load(path string, logger *logrus.Entry) (*Registry, error) {
	if path == "" {
		return nil, errors.New("access file path is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	lists := newLists()

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run; the file appears on the first mutation.
	case err != nil:
		return nil, fmt.Errorf("read access file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(raw, &lists); err != nil {
			return nil, fmt.Errorf("parse access file %s: %w", path, err)
		}
		ensureMaps(&lists)
	}

	return &Registry{
		lists:   lists,
		path:    path,
		logger:  logger,
		persist: store.Save,
	}, nil
}

// HasAccess reports whether the user may submit documents: member of admins
// or users.
func (r *Registry) HasAccess(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, admin := r.lists.Admins[userID]
	_, user := r.lists.Users[userID]
	return admin || user
}

// IsAdmin reports whether the user may run list-management commands.
func (r *Registry) IsAdmin(userID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.lists.Admins[userID]
	return ok
}

// Add inserts the user into the named list. It returns false without touching
// the file when the user is already present in that list. Otherwise it applies
// the cross-list removal rule, rewrites the whole access file, and returns
// true. Inserting into rejected removes the user from users; inserting into
// users or admins removes the user from both unknown and rejected. Rejecting
// deliberately leaves unknown untouched.
func (r *Registry) Add(userID int64, label, list string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := r.list(list)
	if err != nil {
		return false, err
	}

	if _, present := target[userID]; present {
		return false, nil
	}

	target[userID] = label

	switch list {
	case ListRejected:
		delete(r.lists.Users, userID)
	case ListUsers, ListAdmins:
		delete(r.lists.Unknown, userID)
		delete(r.lists.Rejected, userID)
	}

	if err := r.save(); err != nil {
		return false, err
	}

	r.logger.WithFields(logging.Fields{
		"event":   "access_added",
		"user_id": userID,
		"list":    list,
	}).Info("added user to access list")

	return true, nil
}

// Remove deletes the user from the named list. It is idempotent: removing an
// absent user is a no-op and does not rewrite the file.
func (r *Registry) Remove(userID int64, list string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := r.list(list)
	if err != nil {
		return err
	}

	if _, present := target[userID]; !present {
		return nil
	}

	delete(target, userID)

	if err := r.save(); err != nil {
		return err
	}

	r.logger.WithFields(logging.Fields{
		"event":   "access_removed",
		"user_id": userID,
		"list":    list,
	}).Info("removed user from access list")

	return nil
}

// In reports whether the user is present in the named list.
func (r *Registry) In(userID int64, list string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, err := r.list(list)
	if err != nil {
		return false, err
	}

	_, present := target[userID]
	return present, nil
}

// Label resolves the display label recorded for a user, consulting unknown
// first and rejected second. The second return value reports whether any
// record was found.
func (r *Registry) Label(userID int64) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if label, ok := r.lists.Unknown[userID]; ok {
		return label, true
	}
	if label, ok := r.lists.Rejected[userID]; ok {
		return label, true
	}
	return "", false
}

// Snapshot returns a copy of one list for rendering without holding the lock.
func (r *Registry) Snapshot(list string) (map[int64]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	source, err := r.list(list)
	if err != nil {
		return nil, err
	}

	copied := make(map[int64]string, len(source))
	for id, label := range source {
		copied[id] = label
	}
	return copied, nil
}

// Counts reports the size of every list, for diagnostics.
func (r *Registry) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return map[string]int{
		ListAdmins:   len(r.lists.Admins),
		ListUsers:    len(r.lists.Users),
		ListUnknown:  len(r.lists.Unknown),
		ListRejected: len(r.lists.Rejected),
	}
}

// EnsureAdmin seeds the configured owner into the admin list at startup when
// absent. A zero id is a no-op so deployments without BOT_OWNER still start.
func (r *Registry) EnsureAdmin(userID int64, label string) error {
	if userID == 0 {
		return nil
	}

	added, err := r.Add(userID, label, ListAdmins)
	if err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	}
	if added {
		r.logger.WithFields(logging.Fields{
			"event":   "admin_bootstrap",
			"user_id": userID,
		}).Info("seeded configured admin")
	}

	return nil
}

// list maps a list name to its storage. Callers must hold the mutex.
func (r *Registry) list(name string) (map[int64]string, error) {
	switch name {
	case ListAdmins:
		return r.lists.Admins, nil
	case ListUsers:
		return r.lists.Users, nil
	case ListUnknown:
		return r.lists.Unknown, nil
	case ListRejected:
		return r.lists.Rejected, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownList, name)
	}
}

// save rewrites the whole access file. Callers must hold the mutex, which also
// gives the file a single writer.
func (r *Registry) save() error {
	if err := r.persist(r.path, r.lists); err != nil {
		return fmt.Errorf("persist access file: %w", err)
	}
	return nil
}

func ensureMaps(lists *Lists) {
	if lists.Admins == nil {
		lists.Admins = map[int64]string{}
	}
	if lists.Users == nil {
		lists.Users = map[int64]string{}
	}
	if lists.Unknown == nil {
		lists.Unknown = map[int64]string{}
	}
	if lists.Rejected == nil {
		lists.Rejected = map[int64]string{}
	}
}
