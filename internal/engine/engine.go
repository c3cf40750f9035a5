// Package engine is the rule resolution and content transformation core
// (spec.md sections 2-5): components C1-C6 wrapped in a single Engine
// struct that owns all shared mutable state behind one RWMutex, the way
// spec.md section 5 and section 9 ("Global mutable state: wrap all engine
// state in a single struct with a lock and a load-reload method; pass it
// into callbacks by reference. No singletons.") require.
//
// Grounded on the teacher's own pattern for shared server state
// (internal/imposter/manager.go's sync.RWMutex-guarded maps), generalized
// here to the mock engine's specific runtime state (hitCount, cycleIndex,
// mockState, reCache, regex path tables, configModifiedAt).
package engine

import (
	"log"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/ersatzhttp/ersatz/internal/model"
	"github.com/ersatzhttp/ersatz/internal/ordered"
)

// regexHandler is one entry of the ordered regex path table (reRequest /
// reResponse in spec.md section 3), preserving source order per
// Invariant 2.
type regexHandler struct {
	pattern string
	re      interface{ MatchString(string) bool }
	handler interface{}
}

// Options configures an Engine at construction time.
type Options struct {
	ConfigPath string
	// AllowScript gates the domain-stack "script" action (internal/engine/script.go).
	// Mirrors the teacher's -allowInjection flag: scripting is off by
	// default since it executes operator-supplied JavaScript.
	AllowScript bool
	// ResponseFactory builds synthetic Responses; required.
	ResponseFactory model.ResponseFactory
	// SaveSink receives "save" actions; defaults to model.NoopSaveSink.
	SaveSink model.SaveSink
	// Shutdowner receives "terminate" requests; optional.
	Shutdowner model.Shutdowner
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// Engine holds all process-wide runtime state for the mock/mutation
// engine. A single instance is shared across all flows; every event
// acquires mu for the duration of its C4->C5 evaluation (spec.md section 5).
type Engine struct {
	mu sync.RWMutex

	configPath  string
	allowScript bool
	respFactory model.ResponseFactory
	saveSink    model.SaveSink
	shutdowner  model.Shutdowner
	logger      *log.Logger
	rng         *rand.Rand
	rngMu       sync.Mutex

	res *regexCache

	config           *ordered.Map
	defaultHost      interface{}
	defaultScheme    interface{}
	defaultCharset   interface{}
	reRequest        []regexHandler
	reResponse       []regexHandler
	hitCount         map[string]int
	cycleIndex       map[string]int
	mockState        map[string]interface{}
	configModifiedAt time.Time

	scripts *scriptRunner
}

// New constructs an Engine and performs the initial config load (spec.md
// section 4.3, "Load").
func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.SaveSink == nil {
		opts.SaveSink = model.NoopSaveSink{}
	}
	e := &Engine{
		configPath:  opts.ConfigPath,
		allowScript: opts.AllowScript,
		respFactory: opts.ResponseFactory,
		saveSink:    opts.SaveSink,
		shutdowner:  opts.Shutdowner,
		logger:      opts.Logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		res:         newRegexCache(),
	}
	if opts.AllowScript {
		e.scripts = newScriptRunner(opts.Logger)
	}
	if err := e.Load(); err != nil {
		return nil, err
	}
	return e, nil
}

// SetConfigPath implements onLoad's "mock" option registration (spec.md
// section 6): onLoad(opts) registers the option and onConfigure(changed)
// reloads only if it changed. Here that is split into two explicit calls
// so callers don't need a generic "changed options" bag.
func (e *Engine) SetConfigPath(path string) error {
	e.mu.Lock()
	changed := path != e.configPath
	e.configPath = path
	e.mu.Unlock()
	if changed {
		return e.Load()
	}
	return nil
}

func (e *Engine) randFloat() float64 {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return e.rng.Float64()
}

// checkReload implements spec.md section 4.3's "Watch": stat the config
// file and reload if its mtime has advanced. Called at the head of every
// event per the spec's "C3 runs at load time and opportunistically at the
// head of every event."
func (e *Engine) checkReload() {
	e.mu.RLock()
	path := e.configPath
	last := e.configModifiedAt
	e.mu.RUnlock()
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.ModTime().After(last) {
		if err := e.Load(); err != nil {
			e.logger.Printf("ersatz: config reload failed, keeping previous config: %v", err)
		}
	}
}
