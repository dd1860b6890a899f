package bankfull

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fimworks/srcadjust/internal/hydrotable"
)

func writeFlowsCSV(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flows.csv")
	var buf []byte
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, cell...)
		}
		buf = append(buf, '\n')
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	return path
}

func srcTable(t *testing.T, rows [][]string) *hydrotable.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.csv")
	var buf []byte
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, cell...)
		}
		buf = append(buf, '\n')
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
	tbl, err := hydrotable.Read(path)
	require.NoError(t, err)
	return tbl
}

func srcHeader() []string {
	return []string{ColStage, ColHydroID, ColFeatureID, ColDischarge, ColVolume, ColHydraulicRadius, ColSurfaceArea}
}

func TestReadFlows(t *testing.T) {
	path := writeFlowsCSV(t, [][]string{
		{"feature_id", "discharge"},
		{"5001", "42.5"},
		{"5002", "120"},
		{"bogus", "1"},
	})

	flows, err := ReadFlows(path)
	require.NoError(t, err)
	assert.Len(t, flows, 2)
	assert.InDelta(t, 42.5, flows[5001], 1e-9)
	assert.InDelta(t, 120.0, flows[5002], 1e-9)
}

func TestReadFlows_MissingColumns(t *testing.T) {
	path := writeFlowsCSV(t, [][]string{
		{"feature_id", "q"},
		{"5001", "42.5"},
	})

	_, err := ReadFlows(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discharge")
}

func TestIdentify_PicksNearestDischargeStage(t *testing.T) {
	tbl := srcTable(t, [][]string{
		srcHeader(),
		{"0", "101", "5001", "0", "0", "0", "0"},
		{"1", "101", "5001", "10", "100", "0.5", "50"},
		{"2", "101", "5001", "45", "300", "1.0", "120"},
		{"3", "101", "5001", "90", "700", "1.4", "200"},
	})

	res, err := Identify(tbl, map[int64]float64{5001: 42.5}, "12040101", "2903")
	require.NoError(t, err)
	assert.Equal(t, 0, res.MissingFeatures)

	// Stage 2 (Q=45) is nearest 42.5.
	for row := 0; row < tbl.Len(); row++ {
		bf, ok := tbl.Float(row, ColStageBankfull)
		require.True(t, ok, "row %d", row)
		assert.InDelta(t, 2.0, bf, 1e-9)
	}

	label0 := tbl.String(0, ColChannelFplain)
	label3 := tbl.String(3, ColChannelFplain)
	assert.Equal(t, "channel", label0)
	assert.Equal(t, "floodplain", label3)
}

func TestIdentify_ChannelRatios(t *testing.T) {
	tbl := srcTable(t, [][]string{
		srcHeader(),
		{"0", "101", "5001", "0", "0", "0", "0"},
		{"2", "101", "5001", "45", "300", "1.0", "120"},
		{"3", "101", "5001", "90", "600", "2.0", "240"},
	})

	_, err := Identify(tbl, map[int64]float64{5001: 45}, "12040101", "0")
	require.NoError(t, err)

	// Zero-point row is fully channel.
	r0, _ := tbl.Float(0, ColVolumeRatio)
	assert.InDelta(t, 1.0, r0, 1e-9)

	// Bankfull row ratio is 1 (bankfull/itself).
	r1, _ := tbl.Float(1, ColVolumeRatio)
	assert.InDelta(t, 1.0, r1, 1e-9)

	// Above bankfull the channel fraction shrinks.
	vol, _ := tbl.Float(2, ColVolumeRatio)
	hr, _ := tbl.Float(2, ColHRadiusRatio)
	sa, _ := tbl.Float(2, ColSurfAreaRatio)
	assert.InDelta(t, 0.5, vol, 1e-9)
	assert.InDelta(t, 0.5, hr, 1e-9)
	assert.InDelta(t, 0.5, sa, 1e-9)
}

func TestChannelRatio_ZeroGeometryClipsToOne(t *testing.T) {
	// A degenerate zero geometry value above the zero point clips at 1, the
	// same as any ratio overshooting bankfull.
	assert.InDelta(t, 1.0, channelRatio(0.5, 300, 0, 45), 1e-9)
	assert.InDelta(t, 1.0, channelRatio(0.5, 0, 0, 45), 1e-9)

	// The no-flow and zero-point rules still take precedence.
	assert.InDelta(t, 0.0, channelRatio(0.5, 300, 0, -999), 1e-9)
	assert.InDelta(t, 1.0, channelRatio(0, 300, 0, 45), 1e-9)
}

func TestIdentify_MissingFeatureFlow(t *testing.T) {
	tbl := srcTable(t, [][]string{
		srcHeader(),
		{"0", "101", "5001", "0", "0", "0", "0"},
		{"1", "101", "5001", "10", "100", "0.5", "50"},
	})

	res, err := Identify(tbl, map[int64]float64{}, "12040101", "0")
	require.NoError(t, err)
	assert.Equal(t, 1, res.MissingFeatures)

	flow, ok := tbl.Float(0, ColBankfullFlow)
	require.True(t, ok)
	assert.InDelta(t, -999.0, flow, 1e-9)

	// No positive bankfull flow: stage masked, ratios zeroed, label channel.
	assert.Equal(t, "", tbl.String(1, ColStageBankfull))
	r, _ := tbl.Float(1, ColVolumeRatio)
	assert.InDelta(t, 0.0, r, 1e-9)
	assert.Equal(t, "channel", tbl.String(1, ColChannelFplain))
}

func TestIdentify_MissingColumn(t *testing.T) {
	tbl := srcTable(t, [][]string{
		{ColStage, ColHydroID, ColFeatureID, ColDischarge},
		{"0", "101", "5001", "0"},
	})

	_, err := Identify(tbl, map[int64]float64{}, "12040101", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ColVolume)
}
