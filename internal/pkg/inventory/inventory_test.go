package inventory_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/pkg/inventory"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want inventory.Format
		err  bool
	}{
		{"screens.json", inventory.FormatJSON, false},
		{"/tmp/SCREENS.CSV", inventory.FormatCSV, false},
		{"export.geojson", inventory.FormatGeoJSON, false},
		{"screens.xlsx", "", true},
	}
	for _, tt := range tests {
		got, err := inventory.DetectFormat(tt.path)
		if tt.err {
			assert.Error(t, err, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestScreenID_StableByCode(t *testing.T) {
	assert.Equal(t, inventory.ScreenID("SP-001"), inventory.ScreenID(" sp-001 "))
	assert.NotEqual(t, inventory.ScreenID("SP-001"), inventory.ScreenID("SP-002"))
}

func TestParse_JSON(t *testing.T) {
	in := `[
		{"id": "6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f", "code": "SP-001", "name": "Paulista", "city": "São Paulo", "state": "SP", "class": "a", "coordinate": {"lat": -23.56, "lng": -46.65}},
		{"code": "SP-002", "name": "Sé", "class": "ab", "lat": -23.55, "lng": -46.63, "active": false},
		{"code": "SP-003", "name": "Sem posição"},
		{"code": "SP-004", "name": "Fora", "lat": 123, "lng": 0},
		{"name": "Sem código"},
		{"id": "nope", "name": "Bad id"}
	]`

	screens, skipped, err := inventory.Parse(strings.NewReader(in), inventory.FormatJSON)
	require.NoError(t, err)
	require.Len(t, screens, 3)

	assert.Equal(t, "6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f", screens[0].ID)
	assert.Equal(t, domain.ClassA, screens[0].Class)
	assert.True(t, screens[0].Active)

	assert.Equal(t, inventory.ScreenID("SP-002"), screens[1].ID)
	assert.Equal(t, domain.ClassAB, screens[1].Class)
	assert.False(t, screens[1].Active)
	assert.Equal(t, &domain.Coordinate{Lat: -23.55, Lng: -46.63}, screens[1].Coordinate)

	assert.Nil(t, screens[2].Coordinate)
	assert.Equal(t, domain.ClassND, screens[2].Class)

	require.Len(t, skipped, 3)
	assert.Equal(t, 4, skipped[0].Row)
	assert.Equal(t, "row 5: id or code is required", skipped[1].Error())
	assert.Equal(t, 6, skipped[2].Row)
}

func TestParse_JSONMalformed(t *testing.T) {
	_, _, err := inventory.Parse(strings.NewReader(`{"not": "an array"}`), inventory.FormatJSON)
	assert.Error(t, err)
}

func TestParse_CSV(t *testing.T) {
	in := "\ufeffCodigo,Nome,Cidade,UF,Classe,Latitude,Longitude,Ativo\n" +
		"SP-001,Paulista,São Paulo,SP,B,\"-23,5629\",\"-46,6544\",sim\n" +
		"SP-002,Sé,São Paulo,SP,A,,,0\n" +
		"SP-003,Meia,São Paulo,SP,C,-23.5,,\n" +
		"SP-004,Texto,São Paulo,SP,C,abc,-46.6,\n" +
		",Sem código,São Paulo,SP,C,,,\n"

	screens, skipped, err := inventory.Parse(strings.NewReader(in), inventory.FormatCSV)
	require.NoError(t, err)
	require.Len(t, screens, 2)

	assert.Equal(t, "SP-001", screens[0].Code)
	assert.Equal(t, "SP", screens[0].State)
	assert.Equal(t, domain.ClassB, screens[0].Class)
	assert.True(t, screens[0].Active)
	assert.InDelta(t, -23.5629, screens[0].Coordinate.Lat, 1e-9)
	assert.InDelta(t, -46.6544, screens[0].Coordinate.Lng, 1e-9)

	assert.False(t, screens[1].Active)
	assert.Nil(t, screens[1].Coordinate)

	require.Len(t, skipped, 3)
	assert.Equal(t, []int{4, 5, 6}, []int{skipped[0].Row, skipped[1].Row, skipped[2].Row})
	assert.Equal(t, "lat and lng must both be set", skipped[0].Reason)
	assert.Equal(t, "lat is not a number", skipped[1].Reason)
}

func TestParse_CSVNeedsName(t *testing.T) {
	_, _, err := inventory.Parse(strings.NewReader("code,lat,lng\nX,1,2\n"), inventory.FormatCSV)
	assert.Error(t, err)
}

func TestParse_GeoJSON(t *testing.T) {
	in := `{"type": "FeatureCollection", "features": [
		{"type": "Feature", "geometry": {"type": "Point", "coordinates": [-46.6544, -23.5629]},
		 "properties": {"code": "SP-001", "name": "Paulista", "city": "São Paulo", "class": "B"}},
		{"type": "Feature", "geometry": null,
		 "properties": {"code": 42, "name": "Sem posição", "active": false}},
		{"type": "Feature", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]},
		 "properties": {"code": "SP-003", "name": "Linha"}}
	]}`

	screens, skipped, err := inventory.Parse(strings.NewReader(in), inventory.FormatGeoJSON)
	require.NoError(t, err)
	require.Len(t, screens, 2)

	assert.Equal(t, inventory.ScreenID("SP-001"), screens[0].ID)
	assert.Equal(t, &domain.Coordinate{Lat: -23.5629, Lng: -46.6544}, screens[0].Coordinate)
	assert.Equal(t, domain.ClassB, screens[0].Class)

	assert.Equal(t, "42", screens[1].Code)
	assert.False(t, screens[1].Active)
	assert.Nil(t, screens[1].Coordinate)

	require.Len(t, skipped, 1)
	assert.Equal(t, 3, skipped[0].Row)
}

type mockWriter struct{ mock.Mock }

func (m *mockWriter) UpsertBatch(ctx context.Context, screens []domain.ScreenRecord) error {
	return m.Called(len(screens)).Error(0)
}

func TestImport_Batches(t *testing.T) {
	screens := make([]domain.ScreenRecord, 7)

	w := &mockWriter{}
	w.On("UpsertBatch", 3).Return(nil).Twice()
	w.On("UpsertBatch", 1).Return(nil).Once()

	n, err := inventory.Import(context.Background(), w, screens, 3)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	w.AssertExpectations(t)
}

func TestImport_StopsOnFailure(t *testing.T) {
	screens := make([]domain.ScreenRecord, 5)

	w := &mockWriter{}
	w.On("UpsertBatch", 2).Return(nil).Once()
	w.On("UpsertBatch", 2).Return(errors.New("connection reset")).Once()

	n, err := inventory.Import(context.Background(), w, screens, 2)
	require.Error(t, err)
	assert.Equal(t, 2, n)
	w.AssertNumberOfCalls(t, "UpsertBatch", 2)
}
