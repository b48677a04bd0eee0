package properties

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIterator_CompletePayload(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"desired":{"t":22,"$version":17},"reported":{"s":"ok"}}`)
	it, version, err := Create(PayloadComplete, payload, nil)
	require.NoError(t, err)
	require.Equal(t, 17, version)
	require.Equal(t, 17, it.GetVersion())

	p1, present, err := it.GetNext()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, OriginWritable, p1.Origin)
	require.Equal(t, "t", p1.Name)
	require.Equal(t, "22", p1.Value)

	p2, present, err := it.GetNext()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, OriginReportedFromClient, p2.Origin)
	require.Equal(t, "s", p2.Name)
	require.Equal(t, `"ok"`, p2.Value)

	_, present, err = it.GetNext()
	require.NoError(t, err)
	require.False(t, present)
}

func TestIterator_PartialPayloadWithComponent(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"c1":{"__t":"c","x":1},"$version":3}`)
	it, version, err := Create(PayloadPartial, payload, []string{"c1"})
	require.NoError(t, err)
	require.Equal(t, 3, version)

	p, present, err := it.GetNext()
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, OriginWritable, p.Origin)
	require.Equal(t, "c1", p.Component)
	require.Equal(t, "x", p.Name)
	require.Equal(t, "1", p.Value)

	_, present, _ = it.GetNext()
	require.False(t, present)
}

func TestIterator_ReservedKeysNeverSurface(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"desired":{"c1":{"__t":"c","a":1},"$version":1},"reported":{}}`)
	it, _, err := Create(PayloadComplete, payload, []string{"c1"})
	require.NoError(t, err)

	var names []string
	for {
		p, present, err := it.GetNext()
		require.NoError(t, err)
		if !present {
			break
		}
		names = append(names, p.Name)
	}
	require.Equal(t, []string{"a"}, names)
}

func TestIterator_MissingDesiredIsNotAnErrorWhenVersionPresent(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"desired":{"$version":5}}`)
	it, version, err := Create(PayloadComplete, payload, nil)
	require.NoError(t, err)
	require.Equal(t, 5, version)
	_, present, _ := it.GetNext()
	require.False(t, present)
}

func TestIterator_MissingVersionIsError(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"desired":{"x":1}}`)
	_, _, err := Create(PayloadComplete, payload, nil)
	require.Error(t, err)
}

func TestIterator_RejectsBlankComponentName(t *testing.T) {
	t.Parallel()

	_, _, err := Create(PayloadComplete, []byte(`{}`), []string{""})
	require.Error(t, err)
}

func TestIterator_OrderIsStableAcrossComponents(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"desired":{"root1":1,"c1":{"__t":"c","a":1},"c2":{"__t":"c","b":2},"$version":9},` +
		`"reported":{"root2":2,"c1":{"__t":"c","a":10},"c2":{"__t":"c","b":20}}}`)
	it, _, err := Create(PayloadComplete, payload, []string{"c1", "c2"})
	require.NoError(t, err)

	var order [][2]string
	for {
		p, present, err := it.GetNext()
		require.NoError(t, err)
		if !present {
			break
		}
		order = append(order, [2]string{p.Component, p.Name})
	}
	require.Equal(t, [][2]string{
		{"", "root1"},
		{"", "root2"},
		{"c1", "a"},
		{"c1", "a"},
		{"c2", "b"},
		{"c2", "b"},
	}, order)
}
