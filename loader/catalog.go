package loader

import (
	"context"
	"errors"
	"fmt"

	"github.com/fractal-analytics-platform/zroi/selection"
	"github.com/fractal-analytics-platform/zroi/zroi"
)

// Channels returns the channel labels of the image, in channel order.
func (l *Loader) Channels(ctx context.Context, location string) ([]string, error) {
	attrs, err := l.metadata(ctx, location)
	if err != nil {
		return nil, err
	}
	return attrs.ChannelNames(), nil
}

// ChannelIndex returns the position of the labeled channel.
func (l *Loader) ChannelIndex(ctx context.Context, location, label string) (int, error) {
	attrs, err := l.metadata(ctx, location)
	if err != nil {
		return 0, err
	}
	i, found := attrs.ChannelIndex(label)
	if !found {
		return 0, invalidChoice("channel", label)
	}
	return i, nil
}

// Labels returns the names of the image's label images.  An image without a
// labels group has none.
func (l *Loader) Labels(ctx context.Context, location string) ([]string, error) {
	attrs, err := l.metadata(ctx, location+"/labels")
	if errors.Is(err, zroi.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return attrs.Labels, nil
}

// Tables returns the names of the image's ROI tables.
func (l *Loader) Tables(ctx context.Context, location string) ([]string, error) {
	return l.reader.ListTables(ctx, location)
}

// ROINames returns the ROI names of a table in row order.
func (l *Loader) ROINames(ctx context.Context, location, tableName string) ([]string, error) {
	t, err := l.table(ctx, location, tableName)
	if err != nil {
		return nil, err
	}
	return t.Names(), nil
}

// Levels returns the image's pyramid levels.
func (l *Loader) Levels(ctx context.Context, location string) ([]string, error) {
	_, sm, err := l.scaleMap(ctx, location)
	if err != nil {
		return nil, err
	}
	return sm.Levels(), nil
}

// Catalog returns the choices available for the image with the given table
// selected.  With no table given, the default table is used if the image has it,
// else its first table.  Images without tables have no ROIs.
func (l *Loader) Catalog(ctx context.Context, location, tableName string) (selection.Options, error) {
	var opts selection.Options
	var err error
	if opts.Tables, err = l.Tables(ctx, location); err != nil {
		return opts, err
	}
	if tableName == "" {
		for _, t := range opts.Tables {
			if t == l.config.DefaultTable {
				tableName = t
			}
		}
		if tableName == "" && len(opts.Tables) != 0 {
			tableName = opts.Tables[0]
		}
	}
	if tableName != "" {
		if opts.ROIs, err = l.ROINames(ctx, location, tableName); err != nil {
			return opts, err
		}
	}
	if opts.Channels, err = l.Channels(ctx, location); err != nil {
		return opts, err
	}
	if opts.Levels, err = l.Levels(ctx, location); err != nil {
		return opts, err
	}
	if opts.Labels, err = l.Labels(ctx, location); err != nil {
		return opts, err
	}
	return opts, nil
}

func invalidChoice(kind, value string) error {
	return fmt.Errorf("%w: no %s %q", zroi.ErrInvalidSelection, kind, value)
}
