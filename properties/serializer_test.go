package properties

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSerializeReported_NoComponent(t *testing.T) {
	t.Parallel()

	s, err := SerializeReported([]ReportedProperty{
		{SchemaVersion: SchemaVersion1, Name: "temp", Value: "21"},
		{SchemaVersion: SchemaVersion1, Name: "name", Value: `"a"`},
	}, "")
	require.NoError(t, err)
	require.Equal(t, s.Size(), len(s.Bytes()))

	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(s.Bytes(), &v))
	require.Equal(t, float64(21), v["temp"])
	require.Equal(t, "a", v["name"])
}

func TestSerializeReported_WithComponent(t *testing.T) {
	t.Parallel()

	s, err := SerializeReported([]ReportedProperty{
		{SchemaVersion: SchemaVersion1, Name: "temp", Value: "21"},
	}, "thermostat1")
	require.NoError(t, err)

	require.JSONEq(t, `{"thermostat1":{"__t":"c","temp":21}}`, string(s.Bytes()))
	// "__t":"c" must be the first member inside the component object.
	require.Contains(t, string(s.Bytes()), `"thermostat1":{"__t":"c",`)
}

func TestSerializeWritableResponse_WithoutDescription(t *testing.T) {
	t.Parallel()

	s, err := SerializeWritableResponse([]WritableResponseProperty{
		{SchemaVersion: SchemaVersion1, Name: "temp", Value: "21", ResultCode: 200, AckVersion: 3},
	}, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"temp":{"value":21,"ac":200,"av":3}}`, string(s.Bytes()))
}

func TestSerializeWritableResponse_WithDescription(t *testing.T) {
	t.Parallel()

	s, err := SerializeWritableResponse([]WritableResponseProperty{
		{SchemaVersion: SchemaVersion1, Name: "temp", Value: "21", ResultCode: 200, AckVersion: 3, Description: "ok"},
	}, "")
	require.NoError(t, err)
	require.JSONEq(t, `{"temp":{"value":21,"ac":200,"av":3,"ad":"ok"}}`, string(s.Bytes()))
}

func TestSerializeReported_RejectsEmpty(t *testing.T) {
	t.Parallel()

	_, err := SerializeReported(nil, "")
	require.Error(t, err)
}

func TestSerializeReported_RejectsBadSchemaVersion(t *testing.T) {
	t.Parallel()

	_, err := SerializeReported([]ReportedProperty{{SchemaVersion: 2, Name: "a", Value: "1"}}, "")
	require.Error(t, err)
}
