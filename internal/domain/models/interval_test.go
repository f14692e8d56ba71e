package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalSeconds(t *testing.T) {
	cases := map[string]int64{
		"1S":  1,
		"30S": 30,
		"1":   60,
		"240": 240 * 60,
		"1D":  86400,
		"D":   86400,
		"1W":  604800,
		"3M":  3 * 30 * 86400,
	}
	for in, want := range cases {
		got, err := IntervalSeconds(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "0D", "xS", "1X"} {
		_, err := IntervalSeconds(bad)
		assert.Error(t, err, bad)
	}
}

func TestCooldownSeconds(t *testing.T) {
	got, err := CooldownSeconds("1D")
	require.NoError(t, err)
	assert.Equal(t, int64(604800), got, "capped at one week")

	got, err = CooldownSeconds("1")
	require.NoError(t, err)
	assert.Equal(t, int64(60*2000), got)

	d, err := CompareInterval("1D", "60")
	require.NoError(t, err)
	assert.Equal(t, int64(86400-3600), d)
}

func TestIntervalsForSymbol(t *testing.T) {
	assert.Nil(t, IntervalsForSymbol(KindEconomic, false))
	assert.Equal(t, []string{"1M", "3M", "6M", "12M"}, IntervalsForSymbol(KindEconomic, true))
	assert.Equal(t, []string{"1S", "5S", "10S", "15S", "30S"}, IntervalsForSymbol("stock", true))

	nonSeconds := IntervalsForSymbol("stock", false)
	assert.Len(t, nonSeconds, 14)
	assert.Equal(t, "1", nonSeconds[0])
	assert.Equal(t, "12M", nonSeconds[len(nonSeconds)-1])

	all, err := IntervalList(GroupAll)
	require.NoError(t, err)
	assert.Len(t, all, 19)
	_, err = IntervalList("hours")
	assert.Error(t, err)
}

func TestRawBarToBar(t *testing.T) {
	b, err := RawBar{Index: 0, Values: []float64{100, 1, 2, 0.5, 1.5}}.ToBar()
	require.NoError(t, err)
	assert.Equal(t, Bar{Timestamp: 100, Open: 1, High: 2, Low: 0.5, Close: 1.5}, b)

	_, err = BarsFromRaw([]RawBar{{Values: []float64{1, 2, 3, 4, 5, 6, 7}}})
	assert.Error(t, err)
}
