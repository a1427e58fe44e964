package main

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/osa030/19watch/internal/app/settings"
)

// settingsView is the printed form of a title's stored settings.
type settingsView struct {
	ContentID      string   `yaml:"content_id"`
	Volume         *float64 `yaml:"volume,omitempty"`
	PlaybackRate   *float64 `yaml:"playback_rate,omitempty"`
	Muted          *bool    `yaml:"muted,omitempty"`
	ResumePosition *float64 `yaml:"resume_position,omitempty"`
	LastVolume     *float64 `yaml:"last_volume,omitempty"`
	LastRate       *float64 `yaml:"last_rate,omitempty"`
}

func showSettings(w io.Writer, store *settings.Store, contentID string) error {
	snap, err := store.Load(contentID)
	if err != nil {
		return errors.Wrapf(err, "failed to load settings for %s", contentID)
	}

	view := settingsView{
		ContentID:  contentID,
		LastVolume: snap.Volume.ToPointer(),
		LastRate:   snap.Rate.ToPointer(),
	}
	if e, ok := snap.Entry.Get(); ok {
		view.Volume = &e.Volume
		view.PlaybackRate = &e.PlaybackRate
		view.Muted = &e.Muted
		view.ResumePosition = &e.ResumePosition
	} else {
		fmt.Fprintf(w, "# nothing stored for %s\n", contentID)
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(view)
}

func clearSettings(w io.Writer, store *settings.Store, contentID string) error {
	if err := store.Remove(contentID); err != nil {
		return errors.Wrapf(err, "failed to clear settings for %s", contentID)
	}
	fmt.Fprintf(w, "Cleared stored settings for %s\n", contentID)
	return nil
}
