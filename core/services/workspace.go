package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mudler/genstudio/core/config"
	"github.com/mudler/genstudio/core/params"
	"github.com/mudler/genstudio/core/persistence"
	"github.com/mudler/xlog"
)

// Workspace is what an owner is editing: the selected model and the
// parameter store bound to its form.
type Workspace struct {
	ModelID string        `json:"modelId"`
	Params  *params.Store `json:"params"`
}

// WorkspaceService keeps one Workspace per owner, persisted next to the
// chat state.
type WorkspaceService struct {
	mu           sync.Mutex
	persister    persistence.Store
	schemas      *config.ModelSchemaLoader
	defaultModel string
	workspaces   map[string]*Workspace
}

func NewWorkspaceService(persister persistence.Store, schemas *config.ModelSchemaLoader, defaultModel string) *WorkspaceService {
	return &WorkspaceService{
		persister:    persister,
		schemas:      schemas,
		defaultModel: defaultModel,
		workspaces:   make(map[string]*Workspace),
	}
}

func WorkspaceKey(owner string) string {
	return "workspace:" + owner
}

// fallbackModel is the configured default, else the first model by name.
func (w *WorkspaceService) fallbackModel() string {
	if _, ok := w.schemas.GetModelSchema(w.defaultModel); ok {
		return w.defaultModel
	}
	if all := w.schemas.GetAllModelSchemas(); len(all) > 0 {
		return all[0].ID
	}
	return ""
}

// load returns the cached workspace, hydrating it first. Callers hold mu.
func (w *WorkspaceService) load(ctx context.Context, owner string) *Workspace {
	if ws, ok := w.workspaces[owner]; ok {
		w.repair(ws)
		return ws
	}
	ws := &Workspace{}
	data, ok, err := w.persister.Load(ctx, WorkspaceKey(owner))
	switch {
	case err != nil:
		xlog.Warn("Cannot load workspace", "owner", owner, "error", err)
	case ok:
		if err := json.Unmarshal(data, ws); err != nil {
			xlog.Warn("Discarding unreadable workspace", "owner", owner, "error", err)
			ws = &Workspace{}
		}
	}
	w.repair(ws)
	w.workspaces[owner] = ws
	return ws
}

// repair moves a workspace whose model vanished from the registry back to
// the fallback model with an empty store.
func (w *WorkspaceService) repair(ws *Workspace) {
	if ws.Params == nil {
		ws.Params = params.NewStore()
	}
	if _, ok := w.schemas.GetModelSchema(ws.ModelID); !ok {
		ws.ModelID = w.fallbackModel()
		ws.Params = params.NewStore()
	}
}

func (w *WorkspaceService) save(ctx context.Context, owner string, ws *Workspace) {
	data, err := json.Marshal(ws)
	if err != nil {
		xlog.Warn("Cannot encode workspace", "owner", owner, "error", err)
		return
	}
	if err := w.persister.Save(ctx, WorkspaceKey(owner), data); err != nil {
		xlog.Warn("Cannot persist workspace", "owner", owner, "error", err)
	}
}

// Get returns a copy of the workspace with its schema.
func (w *WorkspaceService) Get(ctx context.Context, owner string) (Workspace, *config.ModelSchema, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws := w.load(ctx, owner)
	s, ok := w.schemas.GetModelSchema(ws.ModelID)
	if !ok {
		return Workspace{}, nil, ErrNoModel
	}
	return Workspace{ModelID: ws.ModelID, Params: ws.Params.Clone()}, s, nil
}

// SelectModel switches model. Switching to another model starts from an
// empty parameter store.
func (w *WorkspaceService) SelectModel(ctx context.Context, owner, modelID string) error {
	if _, ok := w.schemas.GetModelSchema(modelID); !ok {
		return fmt.Errorf("%w: %s", config.ErrModelNotFound, modelID)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ws := w.load(ctx, owner)
	if ws.ModelID == modelID {
		return nil
	}
	ws.ModelID = modelID
	ws.Params = params.NewStore()
	w.save(ctx, owner, ws)
	xlog.Debug("Workspace model selected", "owner", owner, "model", modelID)
	return nil
}

// Update runs fn on the live parameter store and persists the result. The
// store is left untouched when fn fails.
func (w *WorkspaceService) Update(ctx context.Context, owner string, fn func(*config.ModelSchema, *params.Store) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	ws := w.load(ctx, owner)
	s, ok := w.schemas.GetModelSchema(ws.ModelID)
	if !ok {
		return ErrNoModel
	}
	next := ws.Params.Clone()
	if err := fn(s, next); err != nil {
		return err
	}
	ws.Params = next
	w.save(ctx, owner, ws)
	return nil
}

func (w *WorkspaceService) ClearParams(ctx context.Context, owner string) error {
	return w.Update(ctx, owner, func(_ *config.ModelSchema, p *params.Store) error {
		p.Clear()
		return nil
	})
}
