package models

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAspectRatio(t *testing.T) {
	for _, s := range []string{"16:9", "9:16", "1:1"} {
		a, err := ParseAspectRatio(s)
		require.NoError(t, err)
		assert.Equal(t, AspectRatio(s), a)
	}
	_, err := ParseAspectRatio("4:3")
	assert.Error(t, err)
	_, err = ParseAspectRatio("")
	assert.Error(t, err)
}

func TestRelayRequestEnvelope(t *testing.T) {
	b, err := json.Marshal(RelayRequest{Type: RelayTypeStoryboard, Prompt: "a robot"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"storyboard","prompt":"a robot"}`, string(b))

	b, err = json.Marshal(RelayRequest{Type: RelayTypeImage, SceneDescription: "jungle", AspectRatio: AspectRatio9x16})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"image","sceneDescription":"jungle","aspectRatio":"9:16"}`, string(b))
}

func TestNewSessionDefaults(t *testing.T) {
	s := NewSession("abc")
	snap := s.Snapshot()
	assert.Equal(t, "abc", snap.ID)
	assert.Equal(t, AspectRatio16x9, snap.AspectRatio)
	assert.NotNil(t, snap.Images)
	assert.Empty(t, snap.Images)
	assert.False(t, snap.Generation.Active)
	assert.Empty(t, snap.Error)
}

func TestBeginGenerationResetsRunState(t *testing.T) {
	s := NewSession("abc")
	s.PublishImages([]string{"old"})
	s.SetError("previous failure")

	require.True(t, s.BeginGeneration("starting"))
	snap := s.Snapshot()
	assert.Empty(t, snap.Images)
	assert.Empty(t, snap.Error)
	assert.Equal(t, Progress{Active: true, Message: "starting"}, snap.Generation)
}

func TestBeginGenerationWhileActiveIsNoop(t *testing.T) {
	s := NewSession("abc")
	require.True(t, s.BeginGeneration("starting"))
	s.PublishImages([]string{"a"})
	before := s.Snapshot()

	assert.False(t, s.BeginGeneration("again"))
	after := s.Snapshot()
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, []string{"a"}, after.Images)
	assert.Equal(t, "starting", after.Generation.Message)
}

func TestPublishImagesReplacesWholesale(t *testing.T) {
	s := NewSession("abc")
	src := []string{"a"}
	s.PublishImages(src)
	first := s.Images()

	src = append(src, "b")
	s.PublishImages(src)
	second := s.Images()

	assert.Equal(t, []string{"a"}, first, "earlier list must not change")
	assert.Equal(t, []string{"a", "b"}, second)

	src[0] = "mutated"
	assert.Equal(t, "a", s.Images()[0], "caller slice must not alias session state")
}

func TestFailGenerationKeepsImages(t *testing.T) {
	s := NewSession("abc")
	require.True(t, s.BeginGeneration("x"))
	s.PublishImages([]string{"a", "b"})
	s.FailGeneration("Generation failed: boom")

	snap := s.Snapshot()
	assert.Equal(t, Progress{}, snap.Generation)
	assert.Equal(t, "Generation failed: boom", snap.Error)
	assert.Len(t, snap.Images, 2)
}

func TestDownloadLifecycle(t *testing.T) {
	s := NewSession("abc")
	s.SetError("stale")
	require.True(t, s.BeginDownload("Loading"))
	assert.Empty(t, s.Snapshot().Error)
	assert.False(t, s.BeginDownload("again"))
	s.SetDownloadMessage("Encoding")
	assert.Equal(t, "Encoding", s.Snapshot().Download.Message)
	s.EndDownload()
	assert.Equal(t, Progress{}, s.Snapshot().Download)
	assert.True(t, s.BeginDownload("Loading"))
}

func drain(sub *Subscription) []Snapshot {
	var out []Snapshot
	for {
		snap, ok := sub.Next()
		if !ok {
			return out
		}
		out = append(out, snap)
	}
}

func TestSubscribeCoalescesMessageOnlyUpdates(t *testing.T) {
	s := NewSession("abc")
	sub := s.Subscribe()
	defer sub.Close()

	s.SetPrompt("one")
	s.SetPrompt("two")
	s.SetPrompt("three")

	select {
	case <-sub.Ready():
	default:
		t.Fatal("subscription not signalled")
	}
	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, "three", got[0].Prompt)
}

func TestSubscribeKeepsEveryImageList(t *testing.T) {
	s := NewSession("abc")
	sub := s.Subscribe()
	defer sub.Close()

	require.True(t, s.BeginGeneration("Warming up"))
	s.SetGenerationMessage("Generating storyboard")
	var images []string
	for i := 0; i < 4; i++ {
		s.SetGenerationMessage(fmt.Sprintf("Rendering scene %d", i+1))
		images = append(images, fmt.Sprintf("img-%d", i))
		s.PublishImages(images)
	}
	s.FinishGeneration("Done")

	var counts []int
	for _, snap := range drain(sub) {
		counts = append(counts, len(snap.Images))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, counts)
}

func TestSubscriptionCoalescedEntryIsLatest(t *testing.T) {
	s := NewSession("abc")
	sub := s.Subscribe()
	defer sub.Close()

	s.PublishImages([]string{"a"})
	s.SetGenerationMessage("after a")

	got := drain(sub)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a"}, got[0].Images)
	assert.Equal(t, "after a", got[0].Generation.Message)
	assert.Equal(t, s.Snapshot().Version, got[0].Version)
}

func TestSubscriptionBoundsPending(t *testing.T) {
	s := NewSession("abc")
	sub := s.Subscribe()
	defer sub.Close()

	for i := 0; i < maxPending+10; i++ {
		s.PublishImages(make([]string, i+1))
	}
	got := drain(sub)
	require.Len(t, got, maxPending)
	assert.Len(t, got[len(got)-1].Images, maxPending+10)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewSession("abc")
	sub := s.Subscribe()
	sub.Close()
	sub.Close()
	s.SetPrompt("ignored")
	_, ok := sub.Next()
	assert.False(t, ok)
	select {
	case <-sub.Ready():
		t.Fatal("signalled after unsubscribe")
	default:
	}
}

func TestSessionStore(t *testing.T) {
	st := NewSessionStore()
	s := st.Create()
	assert.NotEmpty(t, s.ID)
	got, ok := st.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, st.Len())
	assert.True(t, st.Delete(s.ID))
	assert.False(t, st.Delete(s.ID))
	_, ok = st.Get(s.ID)
	assert.False(t, ok)
}
