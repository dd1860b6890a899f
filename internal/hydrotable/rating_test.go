package hydrotable

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ratingHeader = "HydroID,feature_id,NextDownID,order_,LENGTHKM,LakeID,stage,discharge_cms,ManningN,SLOPE,HydraulicRadius (m),WetArea (m2)"

func ratingFixture(t *testing.T, rows ...string) *RatingTable {
	t.Helper()
	path := writeCSV(t, ratingHeader+"\n"+strings.Join(rows, "\n")+"\n")
	rt, err := ReadRating(path)
	require.NoError(t, err)
	return rt
}

func TestReadRating_MissingColumn(t *testing.T) {
	path := writeCSV(t, "HydroID,stage\n1,0.0\n")
	_, err := ReadRating(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required column")
}

func TestSnapshotDefaults_FirstRun(t *testing.T) {
	rt := ratingFixture(t,
		"101,5001,102,1,1.5,-999,0.0,0.0,0.06,0.001,0.0,0.0",
		"101,5001,102,1,1.5,-999,0.3,12.5,0.06,0.001,0.4,8.2",
	)

	took := rt.SnapshotDefaults()
	assert.True(t, took)
	assert.Equal(t, "12.5", rt.String(1, ColDefaultDischarge))
	assert.Equal(t, "0.06", rt.String(1, ColDefaultManningN))

	// Second invocation finds defaults populated and leaves them alone.
	rt.SetString(1, ColDischarge, "99")
	assert.False(t, rt.SnapshotDefaults())
	assert.Equal(t, "12.5", rt.String(1, ColDefaultDischarge))
}

func TestPreviousAdjustments_OnlyDurableSources(t *testing.T) {
	rt := ratingFixture(t,
		"101,5001,102,1,1.5,-999,0.3,12.5,0.06,0.001,0.4,8.2",
		"102,5001,103,1,1.2,-999,0.3,10.0,0.06,0.001,0.4,8.0",
		"103,5002,104,1,1.2,-999,0.3,10.0,0.06,0.001,0.4,8.0",
	)
	rt.EnsureColumns(ColAdjustManningN, ColObsSource, ColSubmitter, ColLastUpdated)
	rt.SetFloat(0, ColAdjustManningN, 0.041)
	rt.SetString(0, ColObsSource, "usgs_rating_curve")
	rt.SetString(0, ColSubmitter, "owp")
	rt.SetFloat(1, ColAdjustManningN, 0.052)
	rt.SetString(1, ColObsSource, "point_obs")
	// 103 has no previous adjustment at all.

	prev := rt.PreviousAdjustments()
	require.Len(t, prev, 1)
	adj, ok := prev[101]
	require.True(t, ok)
	assert.InDelta(t, 0.041, adj.ManningN, 1e-12)
	assert.Equal(t, "owp", adj.Submitter)
}

func TestResetToDefaults(t *testing.T) {
	rt := ratingFixture(t,
		"101,5001,102,1,1.5,-999,0.3,12.5,0.06,0.001,0.4,8.2",
	)
	rt.SnapshotDefaults()
	rt.SetString(0, ColDischarge, "40.0")
	rt.SetString(0, ColManningN, "0.03")
	rt.SetString(0, ColAdjustManningN, "0.03")
	rt.SetString(0, ColObsSource, "point_obs")
	rt.SetString(0, ColAdjustSrcOn, "True")

	rt.ResetToDefaults()
	assert.Equal(t, "12.5", rt.String(0, ColDischarge))
	assert.Equal(t, "0.06", rt.String(0, ColManningN))
	assert.Equal(t, "", rt.String(0, ColAdjustManningN))
	assert.Equal(t, "", rt.String(0, ColObsSource))
	assert.Equal(t, "", rt.String(0, ColAdjustSrcOn))
}

func TestSegments_UniquePerHydroID(t *testing.T) {
	rt := ratingFixture(t,
		"101,5001,102,1,1.5,-999,0.0,0.0,0.06,0.001,0.0,0.0",
		"101,5001,102,1,1.5,-999,0.3,12.5,0.06,0.001,0.4,8.2",
		"102,5001,103,2,1.2,4600021,0.0,0.0,0.06,0.001,0.0,0.0",
	)

	segs := rt.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, int64(101), segs[0].HydroID)
	assert.Equal(t, int64(5001), segs[0].FeatureID)
	assert.Equal(t, 1, segs[0].Order)
	assert.False(t, segs[0].IsLake())
	assert.True(t, segs[1].IsLake())
}

func TestRowsByHydroID(t *testing.T) {
	rt := ratingFixture(t,
		"101,5001,102,1,1.5,-999,0.0,0.0,0.06,0.001,0.0,0.0",
		"102,5001,103,1,1.2,-999,0.0,0.0,0.06,0.001,0.0,0.0",
		"101,5001,102,1,1.5,-999,0.3,12.5,0.06,0.001,0.4,8.2",
	)

	rows := rt.RowsByHydroID()
	assert.Equal(t, []int{0, 2}, rows[101])
	assert.Equal(t, []int{1}, rows[102])
}
