package handlers

import (
	"net/http"

	"github.com/frostdev-ops/pma-rules/internal/core/rules"
	"github.com/frostdev-ops/pma-rules/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// sceneView adds the runtime activation state to a stored scene
type sceneView struct {
	rules.Scene
	State string `json:"state"`
}

func (h *Handlers) sceneView(s rules.Scene) sceneView {
	return sceneView{Scene: s, State: string(h.engine.Scenes().State(s.ID))}
}

// GetScenes returns all scenes
func (h *Handlers) GetScenes(c *gin.Context) {
	snap := h.store.Snapshot()
	scenes := make([]sceneView, 0, len(snap.Scenes))
	for _, s := range snap.Scenes {
		scenes = append(scenes, h.sceneView(s))
	}

	utils.SendSuccess(c, gin.H{
		"scenes":  scenes,
		"count":   len(scenes),
		"version": snap.Version,
	})
}

// GetScene returns a specific scene by ID
func (h *Handlers) GetScene(c *gin.Context) {
	scene, err := h.store.Scene(c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	utils.SendSuccess(c, h.sceneView(scene))
}

// CreateScene creates a new scene
func (h *Handlers) CreateScene(c *gin.Context) {
	var input rules.SceneInput
	if !h.bindJSON(c, &input) {
		return
	}

	scene, _, err := h.store.CreateScene(c.Request.Context(), input)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}

	h.log.WithFields(logrus.Fields{
		"scene_id": scene.ID,
		"scene":    scene.Name,
	}).Info("Scene created")
	h.respond(c, http.StatusCreated, scene, err)
}

// UpdateScene applies a partial update to a scene
func (h *Handlers) UpdateScene(c *gin.Context) {
	id := c.Param("id")
	var patch rules.ScenePatch
	if !h.bindJSON(c, &patch) {
		return
	}

	snap, err := h.store.UpdateScene(c.Request.Context(), id, patch)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}
	scene, _ := snap.Scene(id)
	h.respond(c, http.StatusOK, scene, err)
}

// ReplaceSceneActions replaces the whole action sequence of a scene
func (h *Handlers) ReplaceSceneActions(c *gin.Context) {
	id := c.Param("id")
	var body struct {
		Actions []rules.SceneAction `json:"actions"`
	}
	if !h.bindJSON(c, &body) {
		return
	}
	if err := rules.ValidateActions(body.Actions); err != nil {
		_ = c.Error(err)
		return
	}

	snap, err := h.store.ReplaceSceneActions(c.Request.Context(), id, body.Actions)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}
	scene, _ := snap.Scene(id)
	h.respond(c, http.StatusOK, scene, err)
}

// DeleteScene removes a scene
func (h *Handlers) DeleteScene(c *gin.Context) {
	id := c.Param("id")
	_, err := h.store.DeleteScene(c.Request.Context(), id)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}
	h.log.WithField("scene_id", id).Info("Scene deleted")
	h.respond(c, http.StatusOK, gin.H{"id": id, "deleted": true}, err)
}

// ActivateScene runs a scene's action sequence and waits for it. Failed
// actions are reported in the outcomes, not as an error status.
func (h *Handlers) ActivateScene(c *gin.Context) {
	id := c.Param("id")
	result, err := h.engine.Scenes().Activate(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if len(result.Warnings) > 0 {
		utils.SendSuccessWithWarnings(c, http.StatusOK, result, result.Warnings)
		return
	}
	utils.SendSuccess(c, result)
}

// DeactivateScene marks a scene inactive. No device commands are sent.
func (h *Handlers) DeactivateScene(c *gin.Context) {
	id := c.Param("id")
	snap, err := h.engine.Scenes().Deactivate(c.Request.Context(), id)
	if err != nil && !rules.IsPersistenceWarning(err) {
		_ = c.Error(err)
		return
	}
	scene, _ := snap.Scene(id)
	h.respond(c, http.StatusOK, h.sceneView(scene), err)
}
