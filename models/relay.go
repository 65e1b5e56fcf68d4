package models

import "fmt"

// Relay request intents
const (
	RelayTypeStoryboard = "storyboard"
	RelayTypeImage      = "image"
)

type AspectRatio string

const (
	AspectRatio16x9 AspectRatio = "16:9"
	AspectRatio9x16 AspectRatio = "9:16"
	AspectRatio1x1  AspectRatio = "1:1"

	DefaultAspectRatio = AspectRatio16x9
)

func (a AspectRatio) Valid() bool {
	switch a {
	case AspectRatio16x9, AspectRatio9x16, AspectRatio1x1:
		return true
	}
	return false
}

func ParseAspectRatio(s string) (AspectRatio, error) {
	a := AspectRatio(s)
	if !a.Valid() {
		return "", fmt.Errorf("invalid aspect ratio %q (want 16:9, 9:16 or 1:1)", s)
	}
	return a, nil
}

// RelayRequest is the single envelope shape for both intents: {type, ...payload}.
type RelayRequest struct {
	Type             string      `json:"type"`
	Prompt           string      `json:"prompt,omitempty"`
	SceneDescription string      `json:"sceneDescription,omitempty"`
	AspectRatio      AspectRatio `json:"aspectRatio,omitempty"`
}

type StoryboardResponse struct {
	Scenes []string `json:"scenes"`
}

type ImageResponse struct {
	Image string `json:"image"`
}

type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}
