package datasource

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/nainya/metastream/pkg/mapper"
	"github.com/nainya/metastream/pkg/metadata"
	"github.com/nainya/metastream/pkg/tree"
)

// Video segments live at internal[1]/video-segments[]
const (
	internalArray = "internal"
	segmentsArray = "video-segments"

	segmentName   = "name"
	segmentFPS    = "fps"
	segmentTime   = "time"
	segmentDur    = "duration"
	segmentWidth  = "resolution_width"
	segmentHeight = "resolution_height"
)

// LoadNextID returns the stored id counter, 0 when missing
func (d *DataSource) LoadNextID() (metadata.ID, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	v, err := d.doc.GetInt64(mapper.NextIDPath)
	if errors.Is(err, tree.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(mapper.ErrCorruptFormat, "%s: %v", mapper.NextIDPath, err)
	}
	return metadata.ID(v), nil
}

// SaveNextID stores the id counter
func (d *DataSource) SaveNextID(id metadata.ID) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	return d.doc.SetInt64(mapper.NextIDPath, int64(id))
}

func (d *DataSource) loadString(path string) (string, error) {
	if err := d.checkOpen(); err != nil {
		return "", err
	}
	v, err := d.doc.GetProperty(path)
	if errors.Is(err, tree.ErrNotFound) {
		return "", nil
	}
	return v, err
}

func (d *DataSource) saveString(path, value string) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	return d.doc.SetProperty(path, value)
}

// LoadChecksum returns the stored media checksum, empty when missing
func (d *DataSource) LoadChecksum() (string, error) { return d.loadString(mapper.ChecksumPath) }

// SaveChecksum stores the media checksum
func (d *DataSource) SaveChecksum(sum string) error { return d.saveString(mapper.ChecksumPath, sum) }

// LoadHint returns the stored encryption hint, empty when missing
func (d *DataSource) LoadHint() (string, error) { return d.loadString(mapper.HintPath) }

// SaveHint stores the encryption hint
func (d *DataSource) SaveHint(hint string) error { return d.saveString(mapper.HintPath, hint) }

// ComputeChecksum hashes the host file bytes outside the metadata packet
func (d *DataSource) ComputeChecksum() (string, error) {
	if err := d.checkOpen(); err != nil {
		return "", err
	}
	return d.file.Checksum()
}

// SaveVideoSegments replaces the stored segment list. Every segment is
// validated before the document is touched.
func (d *DataSource) SaveVideoSegments(segments []metadata.VideoSegment) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	for _, seg := range segments {
		if err := seg.Validate(); err != nil {
			return err
		}
	}

	if err := d.doc.DeleteProperty(internalArray); err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	internal, err := d.doc.AppendArrayItem(internalArray, tree.KindStruct)
	if err != nil {
		return err
	}
	arr := tree.ComposeStructFieldPath(internal, segmentsArray)
	for _, seg := range segments {
		p, err := d.doc.AppendArrayItem(arr, tree.KindStruct)
		if err != nil {
			return err
		}
		set := func(name, value string) {
			if err == nil {
				err = d.doc.SetStructField(p, name, value)
			}
		}
		set(segmentName, seg.Title)
		set(segmentFPS, strconv.FormatFloat(seg.FPS, 'g', -1, 64))
		set(segmentTime, strconv.FormatInt(seg.Time, 10))
		if seg.Duration > 0 {
			set(segmentDur, strconv.FormatInt(seg.Duration, 10))
		}
		if seg.Width > 0 && seg.Height > 0 {
			set(segmentWidth, strconv.FormatInt(seg.Width, 10))
			set(segmentHeight, strconv.FormatInt(seg.Height, 10))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadVideoSegments reads the stored segment list
func (d *DataSource) LoadVideoSegments() ([]metadata.VideoSegment, error) {
	if err := d.checkOpen(); err != nil {
		return nil, err
	}
	arr := tree.ComposeStructFieldPath(tree.ComposeArrayItemPath(internalArray, 1), segmentsArray)

	var out []metadata.VideoSegment
	for p := range d.doc.Children(arr) {
		var seg metadata.VideoSegment
		var err error
		if seg.Title, err = d.doc.GetStructField(p, segmentName); err != nil {
			return nil, errors.Wrapf(mapper.ErrCorruptFormat, "segment at %s has no title", p)
		}
		fps, err := d.doc.GetStructField(p, segmentFPS)
		if err == nil {
			seg.FPS, err = strconv.ParseFloat(fps, 64)
		}
		if err != nil {
			return nil, errors.Wrapf(mapper.ErrCorruptFormat, "segment %q fps", seg.Title)
		}
		if seg.Time, err = d.doc.GetInt64(tree.ComposeStructFieldPath(p, segmentTime)); err != nil {
			return nil, errors.Wrapf(mapper.ErrCorruptFormat, "segment %q time", seg.Title)
		}
		for name, dst := range map[string]*int64{segmentDur: &seg.Duration, segmentWidth: &seg.Width, segmentHeight: &seg.Height} {
			v, err := d.doc.GetInt64(tree.ComposeStructFieldPath(p, name))
			switch {
			case errors.Is(err, tree.ErrNotFound):
			case err != nil:
				return nil, errors.Wrapf(mapper.ErrCorruptFormat, "segment %q %s", seg.Title, name)
			default:
				*dst = v
			}
		}
		if err := seg.Validate(); err != nil {
			return nil, errors.Wrapf(mapper.ErrCorruptFormat, "%v", err)
		}
		out = append(out, seg)
	}
	return out, nil
}
