// Package memory provides an in-process instance store. It evaluates filter
// expressions itself and backs local development and tests.
package memory

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"instancegraph/application/ports"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
)

// DefaultPageSize is used when a list request has no positive limit
const DefaultPageSize = 100

// Store is a thread-safe in-memory ports.Store
type Store struct {
	mu       sync.RWMutex
	nodes    map[valueobjects.EntityRef]*ports.RawItem
	edges    map[valueobjects.EntityRef]*ports.RawItem
	pageSize int
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithDefaultPageSize overrides DefaultPageSize
func WithDefaultPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates an empty store
func NewStore(logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		nodes:    make(map[valueobjects.EntityRef]*ports.RawItem),
		edges:    make(map[valueobjects.EntityRef]*ports.RawItem),
		pageSize: DefaultPageSize,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply upserts nodes and edges. When some nodes conflict, the remaining items
// are still written and the result is returned together with a VersionConflict error.
func (s *Store) Apply(ctx context.Context, req ports.ApplyRequest) (*ports.ApplyResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	result := &ports.ApplyResult{}

	for _, n := range req.Nodes {
		stored, exists := s.nodes[n.Ref]
		if exists && n.ExistingVersion != nil && stored.Version >= *n.ExistingVersion {
			if req.SkipOnConflict {
				result.Skipped = append(result.Skipped, n.Ref)
			} else {
				result.Conflicts = append(result.Conflicts, n.Ref)
			}
			continue
		}

		item := &ports.RawItem{
			Kind:      ports.ItemKindNode,
			Ref:       n.Ref,
			Type:      n.Kind,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
		if exists {
			item.CreatedAt = stored.CreatedAt
			item.Version = stored.Version + 1
			if item.Type == "" {
				item.Type = stored.Type
			}
			if !req.Replace {
				item.Properties = copyProperties(stored.Properties, nil)
			}
		}
		item.Properties = copyProperties(n.Properties, item.Properties)
		s.nodes[n.Ref] = item
		result.Nodes = append(result.Nodes, ports.ItemVersion{Ref: n.Ref, Version: item.Version})
	}

	for _, e := range req.Edges {
		item := &ports.RawItem{
			Kind:      ports.ItemKindEdge,
			Ref:       e.Ref,
			EdgeType:  e.Type,
			Start:     e.Start,
			End:       e.End,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}
		if stored, exists := s.edges[e.Ref]; exists {
			item.CreatedAt = stored.CreatedAt
			item.Version = stored.Version + 1
		}
		s.edges[e.Ref] = item
		result.Edges = append(result.Edges, ports.ItemVersion{Ref: e.Ref, Version: item.Version})
	}

	s.logger.Debug("Applied batch",
		zap.Int("nodes", len(result.Nodes)),
		zap.Int("edges", len(result.Edges)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("conflicts", len(result.Conflicts)))

	if len(result.Conflicts) > 0 {
		return result, pkgerrors.NewVersionConflictError(refKeys(result.Conflicts))
	}
	return result, nil
}

// Delete removes nodes and edges by ref
func (s *Store) Delete(ctx context.Context, refs []valueobjects.EntityRef) (*ports.DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := &ports.DeleteResult{}
	for _, ref := range refs {
		switch {
		case s.nodes[ref] != nil:
			delete(s.nodes, ref)
		case s.edges[ref] != nil:
			delete(s.edges, ref)
		default:
			result.NotFound = append(result.NotFound, ref)
			continue
		}
		result.Deleted = append(result.Deleted, ref)
	}
	return result, nil
}

// List returns one page of matching items ordered by the requested sort,
// then by ref key. Cursors hold the sort position of the last returned item,
// so pages stay stable while unrelated items change.
func (s *Store) List(ctx context.Context, req ports.ListRequest) (*ports.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var after *position
	if req.Cursor != nil {
		decoded, err := decodeCursor(*req.Cursor)
		if err != nil {
			return nil, err
		}
		after = decoded
	}

	s.mu.RLock()
	source := s.nodes
	if req.Kind == ports.ItemKindEdge {
		source = s.edges
	}
	matched := make([]*ports.RawItem, 0)
	for _, item := range source {
		ok, err := matches(item, req.Filter)
		if err != nil {
			s.mu.RUnlock()
			return nil, pkgerrors.NewValidationError(err.Error())
		}
		if ok {
			matched = append(matched, item)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return positionOf(matched[i], req.Sort).compare(positionOf(matched[j], req.Sort), req.Sort) < 0
	})

	start := 0
	if after != nil {
		start = sort.Search(len(matched), func(i int) bool {
			return positionOf(matched[i], req.Sort).compare(*after, req.Sort) > 0
		})
	}

	limit := req.Limit
	if limit <= 0 {
		limit = s.pageSize
	}
	end := min(start+limit, len(matched))

	page := &ports.ListPage{Items: make([]ports.RawItem, 0, end-start)}
	for _, item := range matched[start:end] {
		page.Items = append(page.Items, project(item, req.Properties))
	}
	if end < len(matched) {
		cursor, err := encodeCursor(positionOf(matched[end-1], req.Sort))
		if err != nil {
			return nil, pkgerrors.NewInternalError("failed to encode cursor").WithCause(err)
		}
		page.NextCursor = &cursor
	}
	return page, nil
}

// position is the sort key of an item: its sort property values then its ref key.
// Classes records each value's comparison class so values JSON cannot carry
// as themselves (times, other types) compare the same after a round trip.
type position struct {
	Values  []interface{} `json:"v,omitempty"`
	Classes []int         `json:"c,omitempty"`
	Key     string        `json:"k"`
}

func positionOf(item *ports.RawItem, sorts []filters.Sort) position {
	p := position{Key: item.Ref.Key()}
	for _, srt := range sorts {
		v, _ := lookup(item, srt.Property)
		p.Values = append(p.Values, v)
	}
	return p
}

func (p position) compare(other position, sorts []filters.Sort) int {
	for i, srt := range sorts {
		var a, b interface{}
		if i < len(p.Values) {
			a = p.Values[i]
		}
		if i < len(other.Values) {
			b = other.Values[i]
		}
		c := compare(a, b)
		if srt.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	switch {
	case p.Key < other.Key:
		return -1
	case p.Key > other.Key:
		return 1
	}
	return 0
}

func encodeCursor(p position) (string, error) {
	values := make([]interface{}, len(p.Values))
	p.Classes = make([]int, len(p.Values))
	for i, v := range p.Values {
		p.Classes[i] = class(v)
		values[i] = v
		if p.Classes[i] == classOther {
			values[i] = fmt.Sprint(v)
		}
	}
	p.Values = values

	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(cursor string) (*position, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, pkgerrors.NewValidationError("malformed cursor").WithCause(err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var p position
	if err := dec.Decode(&p); err != nil {
		return nil, pkgerrors.NewValidationError("malformed cursor").WithCause(err)
	}
	for i, c := range p.Classes {
		if i >= len(p.Values) {
			break
		}
		v, err := restoreValue(c, p.Values[i])
		if err != nil {
			return nil, pkgerrors.NewValidationError("malformed cursor").WithCause(err)
		}
		p.Values[i] = v
	}
	return &p, nil
}

// opaqueValue stands in for a decoded value of classOther; it sorts by its
// printed form exactly as the original value did
type opaqueValue string

func (v opaqueValue) String() string {
	return string(v)
}

func restoreValue(c int, v interface{}) (interface{}, error) {
	switch c {
	case classTime:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("time sort value is %T", v)
		}
		return time.Parse(time.RFC3339Nano, s)
	case classOther:
		return opaqueValue(fmt.Sprint(v)), nil
	}
	return v, nil
}

func project(item *ports.RawItem, properties []string) ports.RawItem {
	out := *item
	if len(properties) == 0 {
		out.Properties = copyProperties(item.Properties, nil)
		return out
	}
	out.Properties = make(map[string]interface{}, len(properties))
	for _, name := range properties {
		if v, ok := item.Properties[name]; ok {
			out.Properties[name] = v
		}
	}
	return out
}

func copyProperties(src, dst map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func refKeys(refs []valueobjects.EntityRef) []string {
	keys := make([]string, len(refs))
	for i, r := range refs {
		keys[i] = r.Key()
	}
	return keys
}
