package stf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daqline/stfpipe/endian"
	"github.com/daqline/stfpipe/errs"
)

func TestHeader_RoundTrip(t *testing.T) {
	engine := endian.Native()

	in := Header{
		TimeframeID:         1234567,
		RunNumber:           561000,
		SystemID:            3,
		FeeID:               0xBEEF,
		EquipmentID:         12,
		LinkID:              4,
		TimeframeOrbitFirst: 3200,
		TimeframeOrbitLast:  3231,
		IsRdhFormat:         true,
		LastTFMessage:       true,
	}

	raw := in.Bytes(engine)
	require.Len(t, raw, HeaderSize)

	var out Header
	require.NoError(t, out.Parse(raw, engine))
	require.Equal(t, in, out)
}

func TestHeader_LayoutFollowsDeclarationOrder(t *testing.T) {
	engine := endian.Little()

	h := Header{
		TimeframeID:         7,
		RunNumber:           561000,
		SystemID:            3,
		FeeID:               0xBEEF,
		EquipmentID:         12,
		LinkID:              4,
		TimeframeOrbitFirst: 3200,
		TimeframeOrbitLast:  3231,
		IsRdhFormat:         true,
		LastTFMessage:       true,
	}
	raw := h.Bytes(engine)

	require.Equal(t, uint64(7), engine.Uint64(raw[0:8]))
	require.Equal(t, uint32(561000), engine.Uint32(raw[8:12]))
	require.Equal(t, uint8(3), raw[12])
	require.Equal(t, uint16(0xBEEF), engine.Uint16(raw[13:15]))
	require.Equal(t, uint16(12), engine.Uint16(raw[15:17]))
	require.Equal(t, uint8(4), raw[17])
	require.Equal(t, uint32(3200), engine.Uint32(raw[18:22]))
	require.Equal(t, uint32(3231), engine.Uint32(raw[22:26]))
	require.Equal(t, byte(1), raw[26])
	require.Equal(t, byte(1), raw[27])
	for _, b := range raw[28:] {
		require.Zero(t, b)
	}
}

func TestHeader_WriteTo(t *testing.T) {
	engine := endian.Native()
	h := Header{TimeframeID: 99, LinkID: 2}

	t.Run("destination too small", func(t *testing.T) {
		err := h.WriteTo(make([]byte, HeaderSize-1), engine)
		require.ErrorIs(t, err, errs.ErrInvalidHeaderSize)
	})

	t.Run("writes in place", func(t *testing.T) {
		dst := make([]byte, HeaderSize+16)
		require.NoError(t, h.WriteTo(dst, engine))

		var out Header
		require.NoError(t, out.Parse(dst, engine))
		require.Equal(t, uint64(99), out.TimeframeID)
		require.Equal(t, uint8(2), out.LinkID)
	})
}

func TestHeader_ParseShortBuffer(t *testing.T) {
	var h Header
	err := h.Parse(make([]byte, HeaderSize/2), endian.Native())
	require.ErrorIs(t, err, errs.ErrInvalidHeaderSize)
}
