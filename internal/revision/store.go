package revision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Revision is one immutable unit of the chain. Payload bytes are opaque to
// the server; clients interpret them.
type Revision struct {
	ID      string
	PrevID  string
	Payload []byte
}

var (
	// ErrNotFound means no revision with the requested id exists.
	ErrNotFound = errors.New("revision not found")
	// ErrCorruptChain means a prevId link points at a missing revision.
	ErrCorruptChain = errors.New("revision chain is corrupt")
)

// Store is a durable, append-only, content-addressed revision store.
type Store interface {
	// GetOrCreate persists {ComputeID(prevID, payload), prevID, payload} if
	// absent. The bool is true when a physical write happened. Concurrent
	// calls computing the same id result in at most one write, and every
	// caller observes a fully written revision.
	GetOrCreate(ctx context.Context, prevID string, payload []byte) (Revision, bool, error)
	// Load returns the payload bytes for id, or ErrNotFound.
	Load(ctx context.Context, id string) ([]byte, error)
	// Get returns the single revision for id without touching its ancestry.
	// A revision whose predecessor link is unreadable is ErrCorruptChain;
	// a missing ancestor further up the chain does not affect Get.
	Get(ctx context.Context, id string) (Revision, error)
	// LoadChain walks prevId links from id back to the root sentinel and
	// returns the revisions in head-first order. A missing link before the
	// root is reported as ErrCorruptChain.
	LoadChain(ctx context.Context, id string) ([]Revision, error)
	Ping(ctx context.Context) error
}

// FSStore keeps one file per revision id under a storage directory, plus a
// sidecar recording the predecessor link.
type FSStore struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FSStore{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (s *FSStore) payloadPath(id string) string {
	return filepath.Join(s.baseDir, id+".revision")
}

func (s *FSStore) prevPath(id string) string {
	return filepath.Join(s.baseDir, id+".prev")
}

func (s *FSStore) revisionLock(id string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[id]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *FSStore) GetOrCreate(ctx context.Context, prevID string, payload []byte) (Revision, bool, error) {
	if !ValidID(prevID) {
		return Revision{}, false, fmt.Errorf("invalid prev id %q", prevID)
	}
	id := ComputeID(prevID, payload)

	lock := s.revisionLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(s.payloadPath(id)); err == nil {
		return Revision{ID: id, PrevID: prevID, Payload: payload}, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Revision{}, false, fmt.Errorf("stat revision %s: %w", id, err)
	}

	// Write to a temp file and rename so a concurrent reader never observes
	// a partially written payload.
	if err := writeAtomic(s.prevPath(id), []byte(prevID)); err != nil {
		return Revision{}, false, fmt.Errorf("write revision link %s: %w", id, err)
	}
	if err := writeAtomic(s.payloadPath(id), payload); err != nil {
		return Revision{}, false, fmt.Errorf("write revision %s: %w", id, err)
	}
	return Revision{ID: id, PrevID: prevID, Payload: payload}, true, nil
}

func (s *FSStore) Load(ctx context.Context, id string) ([]byte, error) {
	if !ValidID(id) {
		return nil, ErrNotFound
	}
	payload, err := os.ReadFile(s.payloadPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read revision %s: %w", id, err)
	}
	return payload, nil
}

func (s *FSStore) Get(ctx context.Context, id string) (Revision, error) {
	return getOne(ctx, s, id)
}

func (s *FSStore) LoadChain(ctx context.Context, id string) ([]Revision, error) {
	return loadChain(ctx, s, id)
}

func (s *FSStore) prev(ctx context.Context, id string) (string, error) {
	link, err := os.ReadFile(s.prevPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read revision link %s: %w", id, err)
	}
	return strings.TrimSpace(string(link)), nil
}

func (s *FSStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.baseDir)
	return err
}

func writeAtomic(path string, contents []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(contents); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// chainSource is the minimal lookup surface loadChain needs from a backend.
type chainSource interface {
	Load(ctx context.Context, id string) ([]byte, error)
	prev(ctx context.Context, id string) (string, error)
}

// getOne reads one revision. The root sentinel is a chain terminator, not a
// stored revision, so asking for it is ErrNotFound.
func getOne(ctx context.Context, src chainSource, id string) (Revision, error) {
	if id == RootID {
		return Revision{}, ErrNotFound
	}
	payload, err := src.Load(ctx, id)
	if err != nil {
		return Revision{}, err
	}
	prevID, err := src.prev(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Revision{}, fmt.Errorf("%w: missing link metadata %s", ErrCorruptChain, id)
	}
	if err != nil {
		return Revision{}, err
	}
	return Revision{ID: id, PrevID: prevID, Payload: payload}, nil
}

func loadChain(ctx context.Context, src chainSource, id string) ([]Revision, error) {
	var chain []Revision
	seen := make(map[string]struct{})
	current := id
	for current != RootID {
		if _, dup := seen[current]; dup {
			return nil, fmt.Errorf("%w: cycle at %s", ErrCorruptChain, current)
		}
		seen[current] = struct{}{}

		payload, err := src.Load(ctx, current)
		if errors.Is(err, ErrNotFound) {
			if current == id {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("%w: missing link %s", ErrCorruptChain, current)
		}
		if err != nil {
			return nil, err
		}
		prevID, err := src.prev(ctx, current)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: missing link metadata %s", ErrCorruptChain, current)
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, Revision{ID: current, PrevID: prevID, Payload: payload})
		current = prevID
	}
	return chain, nil
}
