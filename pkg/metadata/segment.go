package metadata

import "github.com/pkg/errors"

// VideoSegment describes a contiguous piece of the media the stream annotates
type VideoSegment struct {
	Title    string
	FPS      float64
	Time     int64
	Duration int64
	Width    int64
	Height   int64
}

// Validate requires a title, a positive frame rate and a non-negative start time
func (v VideoSegment) Validate() error {
	if v.Title == "" || v.FPS <= 0 || v.Time < 0 {
		return errors.Wrapf(ErrInvalidSegment, "title=%q fps=%v time=%d", v.Title, v.FPS, v.Time)
	}
	if v.Duration < 0 || v.Width < 0 || v.Height < 0 {
		return errors.Wrapf(ErrInvalidSegment, "negative size or duration in %q", v.Title)
	}
	return nil
}
