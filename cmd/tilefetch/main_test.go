package main

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBound(t *testing.T) {
	b, err := parseBound("13.0, 52.3,13.8,52.7")
	require.NoError(t, err)
	assert.Equal(t, orb.Bound{Min: orb.Point{13.0, 52.3}, Max: orb.Point{13.8, 52.7}}, b)

	for _, bad := range []string{"", "1,2,3", "a,b,c,d", "10,0,5,1", "0,10,1,5"} {
		_, err := parseBound(bad)
		assert.Error(t, err, "bbox %q", bad)
	}
}

func TestCountTiles(t *testing.T) {
	world := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	assert.Equal(t, 1, countTiles(world, 0, 0))
	assert.Equal(t, 1+4+16, countTiles(world, 0, 2))

	point := orb.Bound{Min: orb.Point{13.4, 52.5}, Max: orb.Point{13.4, 52.5}}
	assert.Equal(t, 3, countTiles(point, 5, 7))
}

func TestPrefetchStats_Failed(t *testing.T) {
	s := prefetchStats{requested: 10, cached: 3, fetched: 5}
	assert.Equal(t, 2, s.failed())
}
