package engine

import (
	"errors"
	"strings"

	"github.com/smazurov/compositor/internal/output"
	"github.com/smazurov/compositor/internal/settings"
)

// AddOutput starts publishing. Connection problems do not fail the call;
// they show up as the output's status.
func (e *Engine) AddOutput(id string, o settings.Output) error {
	if err := validateOutputID(id); err != nil {
		return err
	}
	o.Normalize()
	if err := o.Validate(); err != nil {
		return invalidSettings(err)
	}
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	if err := e.checkBinding(o.Bind()); err != nil {
		return err
	}
	return outputError(id, rt.outputs.Add(id, o))
}

// UpdateOutput replaces an output's settings. Equal settings are a no-op.
// Otherwise the change is applied at the next keyframe without interrupting
// the stream's timestamps.
func (e *Engine) UpdateOutput(id string, o settings.Output) error {
	o.Normalize()
	if err := o.Validate(); err != nil {
		return invalidSettings(err)
	}
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	if err := e.checkBinding(o.Bind()); err != nil {
		return err
	}
	changed, err := rt.outputs.Update(id, o)
	if err != nil {
		return outputError(id, err)
	}
	if changed {
		rt.logger.Info("Output update pending", "output_id", id)
	}
	return nil
}

// RemoveOutput stops an output, dropping any update not yet applied.
func (e *Engine) RemoveOutput(id string) error {
	rt, err := e.runtime()
	if err != nil {
		return err
	}
	return outputError(id, rt.outputs.Remove(id))
}

// GetOutput returns an output's settings and publish status.
func (e *Engine) GetOutput(id string) (output.Info, error) {
	rt, err := e.runtime()
	if err != nil {
		return output.Info{}, err
	}
	info, ok := rt.outputs.Get(id)
	if !ok {
		return output.Info{}, notFound("output", id)
	}
	return info, nil
}

// ListOutputs returns all outputs sorted by id.
func (e *Engine) ListOutputs() ([]output.Info, error) {
	rt, err := e.runtime()
	if err != nil {
		return nil, err
	}
	return rt.outputs.List(), nil
}

func (e *Engine) checkBinding(b settings.Binding) error {
	if b.Global() {
		return nil
	}
	return e.do(func(rt *runtime) error {
		if b.SourceID == "" {
			if !rt.sceneExists(b.SceneID) {
				return notFound("scene", b.SceneID)
			}
			return nil
		}
		_, err := rt.source(b.SceneID, b.SourceID)
		return err
	})
}

func validateOutputID(id string) error {
	if id == "" {
		return invalidArg("output id is required")
	}
	// scene/source ids name the outputs attached to sources.
	if strings.Contains(id, "/") {
		return invalidArg("output id %q must not contain '/'", id)
	}
	return nil
}

func outputError(id string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, output.ErrExists):
		return alreadyExists("output", id)
	case errors.Is(err, output.ErrNotFound):
		return notFound("output", id)
	}
	return err
}
