package service

import (
	"context"
	"fmt"
	"time"
)

// Frame is what the player shows at one moment.
type Frame struct {
	Index  int    `json:"index"`
	Total  int    `json:"total"`
	Fading bool   `json:"fading"`
	Label  string `json:"label"`
	Image  string `json:"image,omitempty"`
}

func newFrame(images []string, index int, fading bool) Frame {
	total := len(images)
	return Frame{
		Index:  index,
		Total:  total,
		Fading: fading,
		Label:  fmt.Sprintf("Scene %d / %d", index+1, total),
		Image:  images[index],
	}
}

// NextIndex advances the slideshow, wrapping after the last image.
func NextIndex(current, total int) int {
	if total <= 0 {
		return 0
	}
	return (current + 1) % total
}

// Slideshow cycles through images on a fixed period with a fade between them.
type Slideshow struct {
	Interval time.Duration
	Fade     time.Duration
}

func NewSlideshow(interval, fade time.Duration) *Slideshow {
	return &Slideshow{Interval: interval, Fade: fade}
}

// Run emits the first frame and, when there is more than one image, keeps
// cycling until ctx is done. Every Interval a fading frame is emitted, then
// after Fade the next image.
func (p *Slideshow) Run(ctx context.Context, images []string, emit func(Frame)) {
	total := len(images)
	if total == 0 {
		return
	}
	emit(newFrame(images, 0, false))
	if total == 1 {
		return
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()
	index := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		emit(newFrame(images, index, true))
		if p.Fade > 0 {
			fade := time.NewTimer(p.Fade)
			select {
			case <-ctx.Done():
				fade.Stop()
				return
			case <-fade.C:
			}
		}
		index = NextIndex(index, total)
		emit(newFrame(images, index, false))
	}
}
