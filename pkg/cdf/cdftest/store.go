package cdftest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cognitedata/cdf-replicator/pkg/cdf"
)

func now() int64 {
	return time.Now().UnixMilli()
}

// errQueue hands out injected errors one call at a time.
type errQueue struct {
	errs []error
}

func (q *errQueue) push(errs ...error) {
	q.errs = append(q.errs, errs...)
}

func (q *errQueue) pop() error {
	if len(q.errs) == 0 {
		return nil
	}
	err := q.errs[0]
	q.errs = q.errs[1:]
	return err
}

func missingError(refs []cdf.ItemRef) error {
	return &cdf.Error{
		Code:    http.StatusBadRequest,
		Message: "items not found",
		Missing: refs,
	}
}

func duplicatedError(refs []cdf.ItemRef) error {
	return &cdf.Error{
		Code:       http.StatusConflict,
		Message:    "items already exist",
		Duplicated: refs,
	}
}

func matchesFilter(item cdf.Resource, filter *cdf.ListFilter) bool {
	if filter == nil {
		return true
	}
	md := item.ResourceMetadata()
	for k, v := range filter.Metadata {
		if md[k] != v {
			return false
		}
	}
	return true
}

// Store is an in-memory implementation of cdf.Store. The clone function
// keeps stored items isolated from caller mutations; assign stamps server
// fields on create.
type Store[T cdf.Resource] struct {
	mu     sync.Mutex
	items  []T
	nextID int64
	clone  func(T) T
	assign func(item T, id, ts int64)

	createErrs errQueue
	updateErrs errQueue
	listErrs   errQueue

	CreateCalls int
	UpdateCalls int
	DeleteCalls int
	Deleted     []int64
}

func NewStore[T cdf.Resource](clone func(T) T, assign func(T, int64, int64)) *Store[T] {
	return &Store[T]{nextID: 1, clone: clone, assign: assign}
}

// Add seeds items verbatim, keeping their ids.
func (s *Store[T]) Add(items ...T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.items = append(s.items, s.clone(item))
		if id := item.ResourceID(); id >= s.nextID {
			s.nextID = id + 1
		}
	}
}

// Items returns a snapshot of the store contents.
func (s *Store[T]) Items() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, s.clone(item))
	}
	return out
}

// FailNextList queues errors returned by upcoming List calls.
func (s *Store[T]) FailNextList(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErrs.push(errs...)
}

// FailNextCreate queues errors returned by upcoming Create calls.
func (s *Store[T]) FailNextCreate(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErrs.push(errs...)
}

// FailNextUpdate queues errors returned by upcoming Update calls.
func (s *Store[T]) FailNextUpdate(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErrs.push(errs...)
}

func (s *Store[T]) List(ctx context.Context, filter *cdf.ListFilter) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.listErrs.pop(); err != nil {
		return nil, err
	}
	var out []T
	for _, item := range s.items {
		if !matchesFilter(item, filter) {
			continue
		}
		out = append(out, s.clone(item))
		if filter != nil && filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store[T]) RetrieveMultiple(ctx context.Context, externalIDs []string, ignoreUnknown bool) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byExternalID := make(map[string]T, len(s.items))
	for _, item := range s.items {
		if eid := item.ResourceExternalID(); eid != "" {
			byExternalID[eid] = item
		}
	}
	var out []T
	var missing []cdf.ItemRef
	for _, eid := range externalIDs {
		item, ok := byExternalID[eid]
		if !ok {
			missing = append(missing, cdf.ItemRef{ExternalID: eid})
			continue
		}
		out = append(out, s.clone(item))
	}
	if len(missing) > 0 && !ignoreUnknown {
		return nil, missingError(missing)
	}
	return out, nil
}

func (s *Store[T]) Create(ctx context.Context, items []T) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CreateCalls++
	if err := s.createErrs.pop(); err != nil {
		return nil, err
	}
	var duplicated []cdf.ItemRef
	for _, item := range items {
		eid := item.ResourceExternalID()
		if eid == "" {
			continue
		}
		for _, existing := range s.items {
			if existing.ResourceExternalID() == eid {
				duplicated = append(duplicated, cdf.ItemRef{ExternalID: eid})
				break
			}
		}
	}
	if len(duplicated) > 0 {
		return nil, duplicatedError(duplicated)
	}
	ts := now()
	out := make([]T, 0, len(items))
	for _, item := range items {
		stored := s.clone(item)
		s.assign(stored, s.nextID, ts)
		s.nextID++
		s.items = append(s.items, stored)
		out = append(out, s.clone(stored))
	}
	return out, nil
}

func (s *Store[T]) Update(ctx context.Context, items []T) ([]T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UpdateCalls++
	if err := s.updateErrs.pop(); err != nil {
		return nil, err
	}
	var missing []cdf.ItemRef
	out := make([]T, 0, len(items))
	for _, item := range items {
		idx := -1
		for i, existing := range s.items {
			if existing.ResourceID() == item.ResourceID() {
				idx = i
				break
			}
		}
		if idx < 0 {
			missing = append(missing, cdf.ItemRef{ID: item.ResourceID()})
			continue
		}
		stored := s.clone(item)
		s.items[idx] = stored
		out = append(out, s.clone(stored))
	}
	if len(missing) > 0 {
		return nil, missingError(missing)
	}
	return out, nil
}

func (s *Store[T]) Delete(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DeleteCalls++
	var missing []cdf.ItemRef
	for _, id := range ids {
		idx := -1
		for i, existing := range s.items {
			if existing.ResourceID() == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			missing = append(missing, cdf.ItemRef{ID: id})
			continue
		}
		s.items = append(s.items[:idx], s.items[idx+1:]...)
		s.Deleted = append(s.Deleted, id)
	}
	if len(missing) > 0 {
		return missingError(missing)
	}
	return nil
}
