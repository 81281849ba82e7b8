package upstream_test

import (
	"testing"

	"github.com/jroosing/kdnsfwd/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_DefaultOnly(t *testing.T) {
	l, err := upstream.Parse(nil, "8.8.8.8,8.8.4.4:5353", "")
	require.NoError(t, err)
	require.Len(t, l.Default, 2)
	assert.Equal(t, "8.8.8.8", l.Default[0].IP.String())
	assert.Equal(t, 53, l.Default[0].Port)
	assert.Equal(t, 5353, l.Default[1].Port)
	assert.Empty(t, l.Zones)
}

func TestParse_ZoneGroups(t *testing.T) {
	l, err := upstream.Parse(nil, "8.8.8.8", "corp.example@10.0.0.1:53%internal.example@10.0.0.2,10.0.0.3")
	require.NoError(t, err)
	require.Len(t, l.Zones, 2)
	assert.Equal(t, "corp.example", l.Zones[0].Zone)
	assert.Equal(t, "internal.example", l.Zones[1].Zone)
	assert.Len(t, l.Zones[1].Upstreams, 2)
}

func TestParse_RejectsIPv6(t *testing.T) {
	_, err := upstream.Parse(nil, "::1", "")
	assert.Error(t, err)
}

func TestParse_RejectsMissingAtSeparator(t *testing.T) {
	_, err := upstream.Parse(nil, "8.8.8.8", "corp.example-10.0.0.1")
	assert.Error(t, err)
}

func TestParse_TruncatesOverMaxAddrs(t *testing.T) {
	l, err := upstream.Parse(nil, "1.1.1.1,2.2.2.2,3.3.3.3,4.4.4.4,5.5.5.5", "")
	require.NoError(t, err)
	assert.Len(t, l.Default, 4)
}

func TestResolve_LongestSuffixMatch(t *testing.T) {
	l, err := upstream.Parse(nil, "8.8.8.8", "example.com@10.0.0.1%www.example.com@10.0.0.2")
	require.NoError(t, err)

	exact := l.Resolve("www.example.com")
	require.Len(t, exact, 1)
	assert.Equal(t, "10.0.0.2", exact[0].IP.String())

	sub := l.Resolve("api.example.com")
	require.Len(t, sub, 1)
	assert.Equal(t, "10.0.0.1", sub[0].IP.String())

	other := l.Resolve("unrelated.net")
	require.Len(t, other, 1)
	assert.Equal(t, "8.8.8.8", other[0].IP.String())
}

func TestResolve_NoZonesFallsBackToDefault(t *testing.T) {
	l, err := upstream.Parse(nil, "8.8.8.8,8.8.4.4", "")
	require.NoError(t, err)
	assert.Equal(t, l.Default, l.Resolve("anything.example"))
}
