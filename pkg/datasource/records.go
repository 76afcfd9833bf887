package datasource

import (
	"time"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/mapper"
	"github.com/nainya/metastream/pkg/metadata"
	"github.com/nainya/metastream/pkg/schema"
)

// LoadSchemas returns every schema definition stored in the document
func (d *DataSource) LoadSchemas() (map[string]*schema.Schema, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	return d.defs.Load()
}

// SaveSchemaDesc stores the definition of sc, replacing an earlier one
func (d *DataSource) SaveSchemaDesc(sc *schema.Schema) error {
	if sc == nil {
		return errors.Wrap(schema.ErrInvalid, "nil schema")
	}
	if err := d.checkWritable(); err != nil {
		return err
	}
	return d.defs.Save(sc)
}

// RemoveSchema deletes the definition of name together with its records.
// ErrSchemaNotFound is returned only when neither exists.
func (d *DataSource) RemoveSchema(name string) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	p := d.meta.FindSchema(name)
	if err := d.defs.Remove(name); err != nil && (p == "" || !errors.Is(err, mapper.ErrSchemaNotFound)) {
		return err
	}
	if p != "" {
		if err := d.doc.DeleteProperty(p); err != nil {
			return err
		}
	}
	return d.serializeAndParse()
}

// LoadSchema loads every record of schema name into stream
func (d *DataSource) LoadSchema(name string, stream *metadata.Stream) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.timed("load_schema", stream, func() error {
		return d.meta.LoadSchema(name, stream)
	})
}

// LoadProperty loads every record of one descriptor of a schema into stream
func (d *DataSource) LoadProperty(schemaName, property string, stream *metadata.Stream) error {
	if err := d.checkOpen(); err != nil {
		return err
	}
	return d.timed("load_property", stream, func() error {
		return d.meta.LoadProperty(schemaName, property, stream)
	})
}

// timed runs a load and reports the records it added
func (d *DataSource) timed(op string, stream *metadata.Stream, load func() error) error {
	start, before := time.Now(), stream.Len()
	err := load()
	loaded := stream.Len() - before
	d.metrics.RecordOperation(op, err, time.Since(start))
	d.metrics.AddRecords(loaded, 0, 0)
	d.log.LogOperation(op, time.Since(start), loaded, err)
	return err
}

// SaveSchema writes the records of set that belong to sc
func (d *DataSource) SaveSchema(sc *schema.Schema, set metadata.Set) (err error) {
	if err := d.checkWritable(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		d.metrics.RecordOperation("save_schema", err, time.Since(start))
		if err == nil {
			d.metrics.AddRecords(0, len(set.BySchema(sc.Name)), 0)
		}
		d.log.LogOperation("save_schema", time.Since(start), len(set), err)
	}()
	return d.meta.SaveSchema(sc, set)
}

// Remove deletes records by id. The document is reparsed afterwards.
func (d *DataSource) Remove(ids []metadata.ID) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	before := len(d.meta.Index())
	if err := d.meta.Remove(ids); err != nil {
		return err
	}
	removed := before - len(d.meta.Index())
	d.metrics.AddRecords(0, 0, removed)
	d.log.Debug().Int("requested", len(ids)).Int("removed", removed).Msg("records removed")
	return d.serializeAndParse()
}

// Clear deletes every record, every schema definition and the video segments
func (d *DataSource) Clear() error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if err := d.meta.Clear(); err != nil {
		return err
	}
	if err := d.defs.Clear(); err != nil {
		return err
	}
	return d.doc.DeleteProperty(internalArray)
}

// Has reports whether the document stores records of schema name
func (d *DataSource) Has(name string) bool {
	return d.meta != nil && d.meta.FindSchema(name) != ""
}
