package algorithms

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMap(t *testing.T) {
	require := require.New(t)
	require.Equal([]string{"1", "2"}, Map([]int{1, 2}, strconv.Itoa))
	require.Empty(Map(nil, strconv.Itoa))
}

func TestFilter(t *testing.T) {
	require := require.New(t)
	odd := func(i int) bool { return i%2 == 1 }
	require.Equal([]int{1, 3}, Filter([]int{1, 2, 3, 4}, odd))
}

func TestUniq(t *testing.T) {
	require := require.New(t)
	require.Equal([]string{"a", "b", "c"}, Uniq([]string{"a", "b", "a", "c", "b"}))
	require.Empty(Uniq[string](nil))
}
