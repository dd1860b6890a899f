// Package catchments annotates the companion catchments polygon layer with
// the per-segment calibration outcome, so downstream viewers can query which
// reaches carry adjusted rating curves.
package catchments

import (
	"os"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CalibratedField is the boolean attribute written onto the polygon layer.
// DBF field names are capped at ten characters.
const CalibratedField = "src_calib"

const hydroIDField = "hydroid"

// FlagCalibrated rewrites the catchments shapefile in place, setting the
// calibrated attribute to True for every HydroID present in calibrated and
// False otherwise. An existing calibrated column is replaced. The layer's
// geometries and remaining attributes pass through untouched.
func FlagCalibrated(path string, calibrated map[int64]bool) error {
	reader, err := shp.Open(path)
	if err != nil {
		return eris.Wrapf(err, "catchments: open shapefile %s", path)
	}

	fields := reader.Fields()
	hydroIdx := -1
	keep := make([]int, 0, len(fields))
	var keepFields []shp.Field
	for i, f := range fields {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		if name == hydroIDField {
			hydroIdx = i
		}
		if name == strings.ToLower(CalibratedField) {
			continue // replaced below
		}
		keep = append(keep, i)
		keepFields = append(keepFields, f)
	}
	if hydroIdx < 0 {
		_ = reader.Close()
		return eris.Errorf("catchments: %s has no HydroID attribute", path)
	}

	type record struct {
		shape shp.Shape
		attrs []string
		flag  string
	}
	var records []record
	var unmatched int
	for reader.Next() {
		_, shape := reader.Shape()
		rec := record{shape: shape, attrs: make([]string, len(keep)), flag: "False"}
		for j, i := range keep {
			rec.attrs[j] = strings.TrimRight(reader.Attribute(i), "\x00")
		}
		if id, ok := parseID(reader.Attribute(hydroIdx)); ok {
			if calibrated[id] {
				rec.flag = "True"
			}
		} else {
			unmatched++
		}
		records = append(records, rec)
	}
	geomType := reader.GeometryType
	if err := reader.Close(); err != nil {
		return eris.Wrapf(err, "catchments: close reader %s", path)
	}
	if unmatched > 0 {
		zap.L().Warn("catchments: records without parseable HydroID",
			zap.String("path", path),
			zap.Int("records", unmatched),
		)
	}

	// Rewrite through a sibling temp layer, then swap the component files.
	tmp := strings.TrimSuffix(path, ".shp") + "_tmp.shp"
	writer, err := shp.Create(tmp, geomType)
	if err != nil {
		return eris.Wrapf(err, "catchments: create temp shapefile %s", tmp)
	}
	if err := writer.SetFields(append(keepFields, shp.StringField(CalibratedField, 5))); err != nil {
		writer.Close()
		return eris.Wrapf(err, "catchments: set fields on %s", tmp)
	}

	flagIdx := len(keepFields)
	for row, rec := range records {
		writer.Write(rec.shape)
		for j, val := range rec.attrs {
			if err := writer.WriteAttribute(row, j, val); err != nil {
				writer.Close()
				return eris.Wrapf(err, "catchments: write attribute row %d", row)
			}
		}
		if err := writer.WriteAttribute(row, flagIdx, rec.flag); err != nil {
			writer.Close()
			return eris.Wrapf(err, "catchments: write flag row %d", row)
		}
	}
	writer.Close()

	// SetFields writes the attribute table at <base>dbf, without the
	// extension dot (the library strips ".shp" before appending).
	tmpBase := strings.TrimSuffix(tmp, ".shp")
	if err := os.Rename(tmpBase+"dbf", tmpBase+".dbf"); err != nil {
		return eris.Wrapf(err, "catchments: place temp dbf for %s", tmp)
	}

	// All components must be present before any destination file is
	// touched, so a failure never leaves new geometry paired with the old
	// attribute table.
	exts := []string{".dbf", ".shp", ".shx"}
	for _, ext := range exts {
		if _, err := os.Stat(tmpBase + ext); err != nil {
			return eris.Wrapf(err, "catchments: temp component %s", tmpBase+ext)
		}
	}
	base := strings.TrimSuffix(path, ".shp")
	for _, ext := range exts {
		if err := os.Rename(tmpBase+ext, base+ext); err != nil {
			return eris.Wrapf(err, "catchments: replace %s", base+ext)
		}
	}
	return nil
}

func parseID(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f), true
}
