package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextIndexWraps(t *testing.T) {
	assert.Equal(t, 1, NextIndex(0, 3))
	assert.Equal(t, 2, NextIndex(1, 3))
	assert.Equal(t, 0, NextIndex(2, 3))
	assert.Equal(t, 0, NextIndex(0, 1))
	assert.Equal(t, 0, NextIndex(5, 0))
}

func TestSlideshowWithoutImagesEmitsNothing(t *testing.T) {
	var frames []Frame
	NewSlideshow(time.Millisecond, 0).Run(context.Background(), nil, func(f Frame) {
		frames = append(frames, f)
	})
	assert.Empty(t, frames)
}

func TestSlideshowSingleImageIsStatic(t *testing.T) {
	var frames []Frame
	// returns without waiting on ctx
	NewSlideshow(time.Millisecond, 0).Run(context.Background(), []string{"only"}, func(f Frame) {
		frames = append(frames, f)
	})
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{Index: 0, Total: 1, Label: "Scene 1 / 1", Image: "only"}, frames[0])
}

func TestSlideshowCyclesAndWraps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var shown []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSlideshow(5*time.Millisecond, time.Millisecond).Run(ctx, []string{"a", "b", "c"}, func(f Frame) {
			if f.Fading {
				return
			}
			mu.Lock()
			shown = append(shown, f.Index)
			if len(shown) == 5 {
				cancel()
			}
			mu.Unlock()
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("slideshow did not stop after cancel")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 0, 1}, shown[:5])
}

func TestSlideshowFadesBeforeAdvancing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var frames []Frame
	NewSlideshow(2*time.Millisecond, time.Millisecond).Run(ctx, []string{"a", "b"}, func(f Frame) {
		frames = append(frames, f)
		if len(frames) == 3 {
			cancel()
		}
	})
	require.GreaterOrEqual(t, len(frames), 3)
	assert.False(t, frames[0].Fading)
	assert.True(t, frames[1].Fading)
	assert.Equal(t, 0, frames[1].Index)
	assert.Equal(t, "a", frames[1].Image)
	assert.Equal(t, Frame{Index: 1, Total: 2, Label: "Scene 2 / 2", Image: "b"}, frames[2])
}
