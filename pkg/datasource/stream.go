package datasource

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/mapper"
	"github.com/nainya/metastream/pkg/metadata"
)

// Load fills stream from the open document: stored schema definitions the
// stream does not know yet, every record, the id counter and the video
// segments, which replace the stream's list. Records are left in id order.
func (d *DataSource) Load(stream *metadata.Stream) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	if d.state.Inert {
		return errors.Wrapf(ErrInertDocument, "%s marker %q left in place", d.state.Pending, d.state.PendingAlgorithm)
	}

	defs, err := d.LoadSchemas()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if stream.Schema(name) != nil {
			continue
		}
		if err := stream.AddSchema(defs[name]); err != nil {
			return err
		}
	}

	for _, sc := range stream.Schemas() {
		if !d.Has(sc.Name) {
			continue
		}
		if err := d.LoadSchema(sc.Name, stream); err != nil {
			return err
		}
	}

	next, err := d.LoadNextID()
	if err != nil {
		return err
	}
	stream.SetNextID(max(next, stream.NextID()))

	segments, err := d.LoadVideoSegments()
	if err != nil {
		return err
	}
	if err := stream.SetVideoSegments(segments); err != nil {
		return err
	}
	stream.SortByID()
	return nil
}

// Save writes stream to the document and pushes it to disk: schema
// definitions, journaled schema and record removals, records, the id
// counter and the video segments.
func (d *DataSource) Save(stream *metadata.Stream) error {
	if err := d.checkWritable(); err != nil {
		return err
	}

	for _, sc := range stream.Schemas() {
		if err := d.SaveSchemaDesc(sc); err != nil {
			return err
		}
	}
	for _, name := range stream.RemovedSchemas() {
		if stream.Schema(name) != nil {
			continue
		}
		if err := d.RemoveSchema(name); err != nil && !errors.Is(err, mapper.ErrSchemaNotFound) {
			return err
		}
	}
	if removed := stream.RemovedIDs(); len(removed) > 0 {
		if err := d.Remove(removed); err != nil {
			return err
		}
	}
	stream.ClearRemoved()

	stream.SortByID()
	all := stream.All()
	for _, sc := range stream.Schemas() {
		if err := d.SaveSchema(sc, all.BySchema(sc.Name)); err != nil {
			return errors.Wrapf(err, "schema %q", sc.Name)
		}
	}
	if err := d.SaveNextID(stream.NextID()); err != nil {
		return err
	}
	if err := d.SaveVideoSegments(stream.VideoSegments()); err != nil {
		return err
	}
	return d.PushChanges()
}
