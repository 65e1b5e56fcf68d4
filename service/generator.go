package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"StoryboardVideo-server/models"
)

const (
	msgWarmingUp       = "Warming up the AI director..."
	msgGenStoryboard   = "Generating storyboard..."
	msgRenderingScene  = "Rendering scene %d of %d..."
	msgGenerationDone  = "Done!"
	generationFailedAs = "Generation failed: "
)

// Observer receives every change a run publishes, in order.
type Observer interface {
	OnProgress(p models.Progress)
	OnImages(images []string)
}

// Generator drives storyboard + per-scene image generation for a session.
type Generator struct {
	Client StoryboardClient
	Log    *logrus.Entry
}

func NewGenerator(client StoryboardClient, log *logrus.Entry) *Generator {
	return &Generator{Client: client, Log: log}
}

// GenerationRun is one started run. Prompt and aspect ratio are captured at
// Begin; later edits to the session do not affect it.
type GenerationRun struct {
	ID          string
	Prompt      string
	AspectRatio models.AspectRatio

	g        *Generator
	session  *models.Session
	observer Observer
	log      *logrus.Entry
}

// Run begins and executes a run synchronously.
func (g *Generator) Run(ctx context.Context, s *models.Session, obs Observer) ([]string, error) {
	run, err := g.Begin(s, obs)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// Begin checks preconditions and resets the session for a new run.
// ErrGenerationActive leaves the session untouched.
func (g *Generator) Begin(s *models.Session, obs Observer) (*GenerationRun, error) {
	// The active-run guard comes before the prompt check, so a second
	// request during a run never writes an error onto the session.
	if s.Snapshot().Generation.Active {
		return nil, ErrGenerationActive
	}
	prompt := strings.TrimSpace(s.Prompt())
	if prompt == "" {
		s.SetError(Describe(ErrEmptyPrompt))
		return nil, ErrEmptyPrompt
	}
	if !s.BeginGeneration(msgWarmingUp) {
		return nil, ErrGenerationActive
	}

	run := &GenerationRun{
		ID:          uuid.NewString(),
		Prompt:      prompt,
		AspectRatio: s.AspectRatio(),
		g:           g,
		session:     s,
		observer:    obs,
	}
	run.log = g.logger().WithFields(logrus.Fields{
		"session": s.ID,
		"run":     run.ID,
		"aspect":  run.AspectRatio,
	})
	run.notifyProgress(models.Progress{Active: true, Message: msgWarmingUp})
	run.notifyImages([]string{})
	return run, nil
}

// Execute requests the storyboard, then one image per scene strictly in order,
// publishing the accumulated images after each scene. The first failure ends
// the run; images already published stay.
func (r *GenerationRun) Execute(ctx context.Context) ([]string, error) {
	start := time.Now()
	r.log.WithField("prompt", r.Prompt).Info("generation started")

	r.progress(msgGenStoryboard)
	scenes, err := r.g.Client.RequestStoryboard(ctx, r.Prompt)
	if err != nil {
		return nil, r.fail(err, "storyboard")
	}
	if len(scenes) == 0 {
		return nil, r.fail(ErrEmptyStoryboard, "storyboard")
	}
	r.session.SetScenes(scenes)
	r.log.WithField("scenes", len(scenes)).Info("storyboard ready")

	images := make([]string, 0, len(scenes))
	for i, scene := range scenes {
		r.progress(fmt.Sprintf(msgRenderingScene, i+1, len(scenes)))
		img, err := r.g.Client.RequestSceneImage(ctx, scene, r.AspectRatio)
		if err != nil {
			return images, r.fail(err, fmt.Sprintf("scene %d", i+1))
		}
		images = append(images, img)
		r.publish(images)
	}

	r.session.FinishGeneration(msgGenerationDone)
	r.notifyProgress(models.Progress{Message: msgGenerationDone})
	r.log.WithFields(logrus.Fields{
		"images":  len(images),
		"elapsed": time.Since(start).Round(time.Millisecond).String(),
	}).Info("generation finished")
	return images, nil
}

// SessionID is the session the run writes to.
func (r *GenerationRun) SessionID() string {
	return r.session.ID
}

// Abort ends a run that was begun but will never execute.
func (r *GenerationRun) Abort(err error) {
	_ = r.fail(err, "schedule")
}

func (r *GenerationRun) progress(message string) {
	r.session.SetGenerationMessage(message)
	r.notifyProgress(models.Progress{Active: true, Message: message})
}

func (r *GenerationRun) publish(images []string) {
	r.session.PublishImages(images)
	r.notifyImages(images)
}

func (r *GenerationRun) fail(err error, step string) error {
	msg := generationFailedAs + Describe(err)
	r.session.FailGeneration(msg)
	r.notifyProgress(models.Progress{})
	r.log.WithError(err).WithField("step", step).Warn("generation failed")
	return err
}

func (r *GenerationRun) notifyProgress(p models.Progress) {
	if r.observer != nil {
		r.observer.OnProgress(p)
	}
}

func (r *GenerationRun) notifyImages(images []string) {
	if r.observer != nil {
		r.observer.OnImages(append([]string{}, images...))
	}
}

func (g *Generator) logger() *logrus.Entry {
	return orStandard(g.Log)
}
