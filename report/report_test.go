package report

import (
	"bytes"
	"testing"

	"github.com/nvr-ai/go-npu/adapters"
	"github.com/nvr-ai/go-npu/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResults(t *testing.T) {
	y, err := tensor.FromVectors(5, 4, [][]float32{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{9, 10, 11, 12},
		{13, 14, 15, 16},
		{17, 18, 19, 20},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Results(&buf, y))
	assert.Equal(t, "Result 1: 1 2 3 4 \n"+
		"Result 2: 5 6 7 8 \n"+
		"Result 3: 9 10 11 12 \n"+
		"Result 4: 13 14 15 16 \n"+
		"Result 5: 17 18 19 20 \n", buf.String())

	assert.Error(t, Results(&buf, nil))
}

func TestFormatValue(t *testing.T) {
	tests := map[float32]string{
		0:     "0",
		-3:    "-3",
		0.5:   "0.5",
		0.1:   "0.1",
		1e-7:  "1e-07",
		2.5e9: "2.5e+09",
	}
	for v, want := range tests {
		assert.Equal(t, want, FormatValue(v))
	}
}

func TestAdapters(t *testing.T) {
	desc := "Intel(R) AI Boost"
	hw := true
	rep := adapters.Report{
		Count: 2,
		Adapters: []adapters.Record{
			{
				Index:             0,
				HardwareID:        &adapters.HardwareID{VendorID: 0x8086, DeviceID: 0x7d1d, Revision: 4},
				DriverVersion:     &adapters.DriverVersion{32, 0, 101, 5762},
				DriverDescription: &desc,
				IsHardware:        &hw,
				LUID:              &adapters.LUID{Low: 0x1a2b},
			},
			{Index: 1},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Adapters(&buf, rep))
	assert.Equal(t, "Found 2 compute-capable adapters:\n"+
		"Adapter 0:\n"+
		"  Hardware ID: VEN_8086 DEV_7D1D SUBSYS_00000000 REV_04\n"+
		"  Driver Version: 32.0.101.5762\n"+
		"  Driver Description: Intel(R) AI Boost\n"+
		"  Is Hardware: true\n"+
		"  LUID: 0x0000000000001A2B\n"+
		"Adapter 1:\n", buf.String())

	buf.Reset()
	require.NoError(t, Adapters(&buf, adapters.Report{}))
	assert.Equal(t, "Found 0 compute-capable adapters:\n", buf.String())
}
