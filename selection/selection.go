/*
	Package selection models the choices a GUI host offers when loading ROIs: table,
	ROI, channel, pyramid level and label images.  Transitions are pure functions of
	the current state and a snapshot of the available options, so hosts fetch
	options (e.g., with loader.Catalog) before applying a change and never read
	storage inside an event callback.
*/
package selection

import (
	"fmt"

	"github.com/fractal-analytics-platform/zroi/zroi"
)

// Options lists the available choices for one image and table.
type Options struct {
	Tables   []string `json:"tables"`
	ROIs     []string `json:"rois"`
	Channels []string `json:"channels"`
	Levels   []string `json:"levels"`
	Labels   []string `json:"labels"`
}

// State is the current selection.  Empty strings mean nothing is selected.
type State struct {
	Table   string   `json:"table"`
	ROI     string   `json:"roi"`
	Channel string   `json:"channel"`
	Level   string   `json:"level"`
	Labels  []string `json:"labels,omitempty"`
}

// Initial selects the first table, ROI and channel, and the full resolution level.
func Initial(opts Options) State {
	s := State{
		Table:   first(opts.Tables),
		ROI:     first(opts.ROIs),
		Channel: first(opts.Channels),
		Level:   first(opts.Levels),
	}
	if contains(opts.Levels, "0") {
		s.Level = "0"
	}
	return s
}

// Ready returns true if enough is selected to load something.
func (s State) Ready() bool {
	return s.Table != "" && s.ROI != "" && s.Level != "" && (s.Channel != "" || len(s.Labels) != 0)
}

// OnTableChanged selects a table.  The options must be those of the new table.
// The ROI is kept if the new table has it, else the first ROI is selected.
func (s State) OnTableChanged(table string, opts Options) (State, error) {
	if !contains(opts.Tables, table) {
		return s, invalid("table", table)
	}
	s.Table = table
	if !contains(opts.ROIs, s.ROI) {
		s.ROI = first(opts.ROIs)
	}
	return s, nil
}

// OnROIChanged selects a ROI of the current table.
func (s State) OnROIChanged(roi string, opts Options) (State, error) {
	if !contains(opts.ROIs, roi) {
		return s, invalid("roi", roi)
	}
	s.ROI = roi
	return s, nil
}

// OnChannelChanged selects a channel.
func (s State) OnChannelChanged(channel string, opts Options) (State, error) {
	if !contains(opts.Channels, channel) {
		return s, invalid("channel", channel)
	}
	s.Channel = channel
	return s, nil
}

// OnLevelChanged selects a pyramid level.
func (s State) OnLevelChanged(level string, opts Options) (State, error) {
	if !contains(opts.Levels, level) {
		return s, invalid("level", level)
	}
	s.Level = level
	return s, nil
}

// OnLabelsChanged replaces the selected label images.  Duplicates are dropped.
func (s State) OnLabelsChanged(labels []string, opts Options) (State, error) {
	var selected []string
	for _, label := range labels {
		if !contains(opts.Labels, label) {
			return s, invalid("label", label)
		}
		if !contains(selected, label) {
			selected = append(selected, label)
		}
	}
	s.Labels = selected
	return s, nil
}

func invalid(kind, value string) error {
	return fmt.Errorf("%w: %s %q is not available", zroi.ErrInvalidSelection, kind, value)
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
