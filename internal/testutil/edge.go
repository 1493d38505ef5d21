package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZephyrCloudIO/zephyr-packages-sub000/internal/ze"
)

// FakeEdge is an in-memory ze.EdgeAPI. Safe for concurrent use.
type FakeEdge struct {
	mu          sync.Mutex
	hashes      map[string]ze.HashSet
	buildIDs    map[string]map[string]string
	configs     map[string]*ze.ApplicationConfig
	deployments map[string]ze.ResolvedRemoteDependency
	failures    map[string]error
	calls       map[string]int
}

var _ ze.EdgeAPI = (*FakeEdge)(nil)

func NewFakeEdge() *FakeEdge {
	return &FakeEdge{
		hashes:      make(map[string]ze.HashSet),
		buildIDs:    make(map[string]map[string]string),
		configs:     make(map[string]*ze.ApplicationConfig),
		deployments: make(map[string]ze.ResolvedRemoteDependency),
		failures:    make(map[string]error),
		calls:       make(map[string]int),
	}
}

// AddApplication registers uid with its configuration and the next
// build id issued to cfg.UserUUID.
func (e *FakeEdge) AddApplication(uid string, cfg ze.ApplicationConfig, buildID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := cfg
	e.configs[uid] = &c
	e.buildIDs[uid] = map[string]string{cfg.UserUUID: buildID}
}

// SetBuildID changes the next build id issued for uid.
func (e *FakeEdge) SetBuildID(uid, userUUID, buildID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buildIDs[uid] == nil {
		e.buildIDs[uid] = make(map[string]string)
	}
	e.buildIDs[uid][userUUID] = buildID
}

// AddHashes marks hashes as already stored for uid.
func (e *FakeEdge) AddHashes(uid string, hashes ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hashes[uid] == nil {
		e.hashes[uid] = ze.NewHashSet()
	}
	e.hashes[uid].Add(hashes...)
}

// Deploy makes dep resolvable as uid at version.
func (e *FakeEdge) Deploy(uid, version string, dep ze.ResolvedRemoteDependency) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deployments[uid+"@"+version] = dep
}

// Fail makes the named operation fail with err for uid. Operations are
// "hash_set", "build_id", "app_config" and "resolve".
func (e *FakeEdge) Fail(op, uid string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op+":"+uid] = err
}

// Calls returns how many times op was invoked.
func (e *FakeEdge) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

func (e *FakeEdge) enter(op, uid string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls[op]++
	return e.failures[op+":"+uid]
}

func (e *FakeEdge) FetchHashSet(ctx context.Context, uid string) (ze.HashSet, error) {
	if err := e.enter("hash_set", uid); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return ze.NewHashSet(e.hashes[uid].Sorted()...), nil
}

func (e *FakeEdge) FetchBuildIDs(ctx context.Context, uid string) (map[string]string, error) {
	if err := e.enter("build_id", uid); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ids, ok := e.buildIDs[uid]
	if !ok {
		return nil, &ze.TransportError{Status: 404, Method: "GET", URL: "/build-id/" + uid}
	}
	out := make(map[string]string, len(ids))
	for k, v := range ids {
		out[k] = v
	}
	return out, nil
}

func (e *FakeEdge) FetchApplicationConfig(ctx context.Context, uid string) (*ze.ApplicationConfig, error) {
	if err := e.enter("app_config", uid); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg, ok := e.configs[uid]
	if !ok {
		return nil, &ze.TransportError{Status: 404, Method: "GET", URL: "/application/" + uid}
	}
	c := *cfg
	return &c, nil
}

func (e *FakeEdge) Resolve(ctx context.Context, uid, version, platform string) (*ze.ResolvedRemoteDependency, error) {
	if err := e.enter("resolve", uid); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	dep, ok := e.deployments[uid+"@"+version]
	if !ok {
		return nil, &ze.TransportError{Status: 404, Method: "GET", URL: fmt.Sprintf("/resolve/%s/%s", uid, version)}
	}
	return &dep, nil
}

// StaticTokenSource returns a fixed token or error.
type StaticTokenSource struct {
	mu          sync.Mutex
	Value       string
	Err         error
	invalidated int
}

var _ ze.TokenSource = (*StaticTokenSource)(nil)

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{Value: token}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.Value, nil
}

func (s *StaticTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidated++
}

// Invalidations returns how many times Invalidate was called.
func (s *StaticTokenSource) Invalidations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalidated
}
