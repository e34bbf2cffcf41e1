package chatshelf

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

type StoreOptions struct {
	Logger Logger
	Clock  func() time.Time
}

// Store owns the in-memory projects and associations for exactly one
// namespace, backed by the persistence collaborator. Every mutating
// operation holds the store lock through its persisted write, so two
// concurrent mutations cannot interleave a read-modify-write. Mutations are
// rejected until Load has run (or failed into the empty default).
//
// Storage failures never propagate: reads degrade to empty defaults and
// failed writes are logged and dropped, per the engine's graceful
// degradation policy.
type Store struct {
	kv        KV
	namespace string
	logger    Logger
	clock     func() time.Time

	mu           sync.Mutex
	loaded       bool
	projects     []Project
	associations map[ChatID]Association
}

func NewStore(kv KV, namespace string, opts StoreOptions) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{
		kv:           kv,
		namespace:    namespace,
		logger:       logger,
		clock:        clock,
		associations: map[ChatID]Association{},
	}
}

func (s *Store) Namespace() string {
	return s.namespace
}

func (s *Store) Loaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// Load reads the namespace's persisted state, runs the one-time legacy
// migration, validates and normalizes what it finds, prunes associations
// whose project is gone or whose title is a host UI placeholder, and eagerly
// writes the pruned set back. Re-running Load against freshly pruned output
// changes nothing (fixed point).
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	migrateLegacy(ctx, s.kv, s.namespace, s.logger)

	s.projects = s.loadProjects(ctx)
	raw := s.loadAssociations(ctx)

	validProjects := make(map[string]struct{}, len(s.projects))
	for _, project := range s.projects {
		validProjects[project.ID] = struct{}{}
	}

	pruned := make(map[ChatID]Association, len(raw))
	for id, assoc := range NormalizeAssociations(raw) {
		if _, ok := validProjects[assoc.ProjectID]; !ok {
			s.logger.Printf("pruning association %s: unknown project %s", id, assoc.ProjectID)
			continue
		}
		if assoc.Title == "" || IsPlaceholderTitle(assoc.Title) {
			s.logger.Printf("pruning association %s: placeholder title %q", id, assoc.Title)
			continue
		}
		pruned[id] = assoc
	}
	s.associations = pruned
	s.loaded = true

	// Write-back self-heals storage corrupted by earlier extraction bugs.
	s.persistAssociations(ctx)
	return nil
}

func (s *Store) loadProjects(ctx context.Context) []Project {
	data, err := s.kv.Get(ctx, s.namespace, KeyProjects)
	if err != nil {
		s.logger.Printf("project read failed, starting empty: %v", err)
		return nil
	}
	if !ValidProjectsPayload(data) {
		if len(data) > 0 {
			s.logger.Printf("discarding malformed project payload (%d bytes)", len(data))
		}
		return nil
	}
	var projects []Project
	if err := json.Unmarshal(data, &projects); err != nil {
		s.logger.Printf("project decode failed, starting empty: %v", err)
		return nil
	}
	sortProjects(projects)
	return projects
}

func (s *Store) loadAssociations(ctx context.Context) map[string]Association {
	data, err := s.kv.Get(ctx, s.namespace, KeyAssociations)
	if err != nil {
		s.logger.Printf("association read failed, starting empty: %v", err)
		return nil
	}
	if !ValidAssociationsPayload(data) {
		if len(data) > 0 {
			s.logger.Printf("discarding malformed association payload (%d bytes)", len(data))
		}
		return nil
	}
	var raw map[string]Association
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Printf("association decode failed, starting empty: %v", err)
		return nil
	}
	return raw
}

// Projects returns an ordered snapshot.
func (s *Store) Projects() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Project, len(s.projects))
	copy(out, s.projects)
	return out
}

func (s *Store) ProjectByID(id string) (Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.projectIndex(id); idx >= 0 {
		return s.projects[idx], true
	}
	return Project{}, false
}

// ProjectForContext finds the project linked to an external context id.
func (s *Store) ProjectForContext(contextID string) (Project, bool) {
	if contextID == "" {
		return Project{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, project := range s.projects {
		if project.ContextID == contextID {
			return project, true
		}
	}
	return Project{}, false
}

// Associations returns a snapshot of the full mapping.
func (s *Store) Associations() map[ChatID]Association {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ChatID]Association, len(s.associations))
	for id, assoc := range s.associations {
		out[id] = assoc
	}
	return out
}

func (s *Store) Association(id ChatID) (Association, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assoc, ok := s.associations[id]
	return assoc, ok
}

// ChatsForProject lists a project's conversations, newest filed first.
func (s *Store) ChatsForProject(projectID string) []FiledChat {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []FiledChat
	for id, assoc := range s.associations {
		if assoc.ProjectID == projectID {
			out = append(out, FiledChat{ID: id, Title: assoc.Title, AddedAt: assoc.AddedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt != out[j].AddedAt {
			return out[i].AddedAt > out[j].AddedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) CreateProject(ctx context.Context, name string) (Project, error) {
	name = normalizeName(name)
	if name == "" {
		return Project{}, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return Project{}, ErrNotLoaded
	}
	project := Project{
		ID:        NewProjectID(),
		Name:      name,
		Order:     len(s.projects),
		CreatedAt: s.clock().UnixMilli(),
		Expanded:  true,
	}
	s.projects = append(s.projects, project)
	s.persistProjects(ctx)
	return project, nil
}

func (s *Store) RenameProject(ctx context.Context, id, name string) error {
	name = normalizeName(name)
	if name == "" {
		return fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	return s.updateProject(ctx, id, func(project *Project) {
		project.Name = name
	})
}

func (s *Store) SetProjectExpanded(ctx context.Context, id string, expanded bool) error {
	return s.updateProject(ctx, id, func(project *Project) {
		project.Expanded = expanded
	})
}

func (s *Store) ReorderProject(ctx context.Context, id string, order int) error {
	err := s.updateProject(ctx, id, func(project *Project) {
		project.Order = order
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	sortProjects(s.projects)
	s.mu.Unlock()
	return nil
}

// LinkProjectContext ties a project to an external context so conversations
// created under that context are filed automatically. A context links to at
// most one project; an existing link elsewhere is cleared.
func (s *Store) LinkProjectContext(ctx context.Context, id, contextID, contextName string) error {
	if contextID == "" {
		return fmt.Errorf("%w: context id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	idx := s.projectIndex(id)
	if idx < 0 {
		return ErrNotFound
	}
	for i := range s.projects {
		if i != idx && s.projects[i].ContextID == contextID {
			s.projects[i].ContextID = ""
			s.projects[i].ContextName = ""
		}
	}
	s.projects[idx].ContextID = contextID
	s.projects[idx].ContextName = contextName
	s.persistProjects(ctx)
	return nil
}

func (s *Store) UnlinkProjectContext(ctx context.Context, id string) error {
	return s.updateProject(ctx, id, func(project *Project) {
		project.ContextID = ""
		project.ContextName = ""
	})
}

// DeleteProject removes a project and unfiles every conversation mapped to
// it.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	idx := s.projectIndex(id)
	if idx < 0 {
		return ErrNotFound
	}
	s.projects = append(s.projects[:idx], s.projects[idx+1:]...)
	for chatID, assoc := range s.associations {
		if assoc.ProjectID == id {
			delete(s.associations, chatID)
		}
	}
	s.persistProjects(ctx)
	s.persistAssociations(ctx)
	return nil
}

// FileChat maps a conversation to a project. Filing an already-filed
// conversation overwrites the project and title but keeps the original
// AddedAt, making the operation idempotent.
func (s *Store) FileChat(ctx context.Context, rawID ChatID, title, projectID string) error {
	id, ok := NormalizeChatID(string(rawID))
	if !ok {
		return fmt.Errorf("%w: chat id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	if s.projectIndex(projectID) < 0 {
		return ErrNotFound
	}
	// A raw key that normalized away must not survive as a duplicate.
	if id != rawID {
		delete(s.associations, rawID)
	}
	addedAt := s.clock().UnixMilli()
	if existing, ok := s.associations[id]; ok && existing.AddedAt != 0 {
		addedAt = existing.AddedAt
	}
	s.associations[id] = Association{
		ProjectID: projectID,
		Title:     title,
		AddedAt:   addedAt,
	}
	s.persistAssociations(ctx)
	return nil
}

// UnfileChat removes a conversation's mapping; absent ids are a no-op.
func (s *Store) UnfileChat(ctx context.Context, rawID ChatID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	if id, ok := NormalizeChatID(string(rawID)); ok {
		delete(s.associations, id)
	}
	delete(s.associations, rawID)
	s.persistAssociations(ctx)
	return nil
}

// SyncTitle refreshes a filed conversation's cached title. It reports true
// only when the stored title actually changed; unknown ids and placeholder
// titles are ignored.
func (s *Store) SyncTitle(ctx context.Context, id ChatID, title string) (bool, error) {
	if title == "" || IsPlaceholderTitle(title) {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return false, ErrNotLoaded
	}
	assoc, ok := s.associations[id]
	if !ok || assoc.Title == title {
		return false, nil
	}
	assoc.Title = title
	s.associations[id] = assoc
	s.persistAssociations(ctx)
	return true, nil
}

func (s *Store) updateProject(ctx context.Context, id string, apply func(*Project)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return ErrNotLoaded
	}
	idx := s.projectIndex(id)
	if idx < 0 {
		return ErrNotFound
	}
	apply(&s.projects[idx])
	s.persistProjects(ctx)
	return nil
}

// projectIndex requires s.mu.
func (s *Store) projectIndex(id string) int {
	for i, project := range s.projects {
		if project.ID == id {
			return i
		}
	}
	return -1
}

// persistProjects requires s.mu. Failures are logged, not surfaced.
func (s *Store) persistProjects(ctx context.Context) {
	data, err := json.Marshal(s.projects)
	if err != nil {
		s.logger.Printf("project encode failed: %v", err)
		return
	}
	if err := s.kv.Set(ctx, s.namespace, KeyProjects, data); err != nil {
		s.logger.Printf("project write failed: %v", err)
	}
}

// persistAssociations requires s.mu.
func (s *Store) persistAssociations(ctx context.Context) {
	data, err := json.Marshal(s.associations)
	if err != nil {
		s.logger.Printf("association encode failed: %v", err)
		return
	}
	if err := s.kv.Set(ctx, s.namespace, KeyAssociations, data); err != nil {
		s.logger.Printf("association write failed: %v", err)
	}
}

func sortProjects(projects []Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].Order != projects[j].Order {
			return projects[i].Order < projects[j].Order
		}
		if projects[i].CreatedAt != projects[j].CreatedAt {
			return projects[i].CreatedAt < projects[j].CreatedAt
		}
		return projects[i].ID < projects[j].ID
	})
}
