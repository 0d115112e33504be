package tree

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/SorenWeile/comfyui-gallery/internal/logging"
	"github.com/SorenWeile/comfyui-gallery/internal/metrics"
	"github.com/SorenWeile/comfyui-gallery/internal/scan"
)

// DefaultTTL is how long a built tree is served before the next request
// triggers a rebuild.
const DefaultTTL = 300 * time.Second

// Snapshot is an immutable built tree. Callers must not modify it.
type Snapshot struct {
	Root    string
	Folders []*Node
	BuiltAt time.Time
}

// State describes the cache lifecycle as seen by a caller.
type State int

const (
	StateEmpty State = iota
	StateValid
	StateStale
)

func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateStale:
		return "stale"
	default:
		return "empty"
	}
}

// Cache serves the folder hierarchy of a root, rebuilding it when the TTL
// has elapsed, the root changed or Invalidate was called. Rebuilds are
// serialized: concurrent callers wait for the in-progress build.
type Cache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	opts scan.Options
	snap *Snapshot
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithScanOptions applies exclude patterns to the tree.
func WithScanOptions(opts scan.Options) Option {
	return func(c *Cache) { c.opts = opts }
}

// NewCache creates an empty cache. A non-positive ttl selects DefaultTTL.
func NewCache(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// TTL returns the configured time to live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the tree for root, rebuilding it if needed.
func (c *Cache) Get(root string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stateLocked(root) == StateValid {
		metrics.RecordTreeCacheHit()
		return c.snap, nil
	}

	start := time.Now()
	folders, err := Build(root, c.opts)
	if err != nil {
		return nil, err
	}
	c.snap = &Snapshot{Root: root, Folders: folders, BuiltAt: c.now()}

	count := CountNodes(folders)
	metrics.RecordTreeRebuild(count, time.Since(start))
	logging.Debug("directory tree rebuilt",
		zap.String("root", root),
		zap.Int("folders", count),
		zap.Duration("duration", time.Since(start)))
	return c.snap, nil
}

// Invalidate discards the cached tree so the next Get rebuilds it.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()
}

// State reports whether a Get for root would be served from cache.
func (c *Cache) State(root string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(root)
}

func (c *Cache) stateLocked(root string) State {
	if c.snap == nil {
		return StateEmpty
	}
	if c.snap.Root != root || c.now().Sub(c.snap.BuiltAt) >= c.ttl {
		return StateStale
	}
	return StateValid
}

// Build walks root depth-first and returns its visible folders. Each level
// is ordered case-insensitively with ties broken by the exact name.
// Unreadable subdirectories appear without children.
func Build(root string, opts scan.Options) ([]*Node, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scan.ErrRootUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", scan.ErrRootUnavailable, root)
	}
	b := &builder{root: root, opts: opts, fold: cases.Fold()}
	nodes, err := b.children(root, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scan.ErrRootUnavailable, err)
	}
	return nodes, nil
}

type builder struct {
	root string
	opts scan.Options
	fold cases.Caser
}

func (b *builder) children(dir, rel string) ([]*Node, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	nodes := []*Node{}
	for _, e := range entries {
		if !e.IsDir() || scan.Hidden(e.Name()) {
			continue
		}
		p := childPath(rel, e.Name())
		if b.opts.Excluded(p) {
			continue
		}
		sub, err := b.children(filepath.Join(dir, e.Name()), p)
		if err != nil {
			logging.Warn("skipping unreadable folder in tree", zap.String("path", p), zap.Error(err))
			sub = []*Node{}
		}
		nodes = append(nodes, &Node{Name: e.Name(), Path: p, Children: sub})
	}

	keys := make(map[*Node]string, len(nodes))
	for _, n := range nodes {
		keys[n] = b.fold.String(n.Name)
	}
	sort.Slice(nodes, func(i, j int) bool {
		ki, kj := keys[nodes[i]], keys[nodes[j]]
		if ki != kj {
			return ki < kj
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes, nil
}
