package store

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"

	"github.com/sells-group/cafe-cli/internal/model"
)

// SRID for WGS84 lon/lat.
const srid = 4326

// encodePoint converts a location to EWKB bytes with SRID 4326.
func encodePoint(loc model.Location) ([]byte, error) {
	p := geom.NewPointFlat(geom.XY, []float64{loc.Lng, loc.Lat}).SetSRID(srid)
	data, err := ewkb.Marshal(p, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "store: encode point")
	}
	return data, nil
}

// decodePoint is the inverse of encodePoint.
func decodePoint(data []byte) (model.Location, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return model.Location{}, eris.Wrap(err, "store: decode point")
	}
	p, ok := g.(*geom.Point)
	if !ok {
		return model.Location{}, eris.Errorf("store: expected point geometry, got %T", g)
	}
	return model.Location{Lat: p.Y(), Lng: p.X()}, nil
}
