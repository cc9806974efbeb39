//go:build linux || darwin

package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMmapCodeSegment(t *testing.T) {
	segment, err := MmapCodeSegment(100)
	require.NoError(t, err)
	defer func() { require.NoError(t, MunmapCodeSegment(segment)) }()

	require.GreaterOrEqual(t, len(segment), 100)
	require.Zero(t, len(segment)%pageSizeForTest())

	// Writable before finalize.
	segment[0] = 0xc3

	require.NoError(t, MprotectRX(segment))
	// Readable after the flip.
	require.Equal(t, byte(0xc3), segment[0])
}

func TestMmapCodeSegmentZeroSize(t *testing.T) {
	segment, err := MmapCodeSegment(0)
	require.NoError(t, err)
	require.NotEmpty(t, segment)
	require.NoError(t, MunmapCodeSegment(segment))
}

func pageSizeForTest() int { return roundUpToPage(1) }
