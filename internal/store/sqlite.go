package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/cafe-cli/internal/model"
	"github.com/sells-group/cafe-cli/internal/scoring"
)

// metersPerDegreeLat is the bounding-box approximation used to prefilter
// rows before the exact haversine check.
const metersPerDegreeLat = 111_320.0

// SQLiteStore implements Store using modernc.org/sqlite. Spatial queries
// use a lat/lng bounding box in SQL and an exact haversine filter in Go.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection: pragmas are per-connection and writers never contend.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS cafes (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	place_id              TEXT NOT NULL UNIQUE,
	name                  TEXT NOT NULL,
	address               TEXT NOT NULL DEFAULT '',
	price_tier            TEXT NOT NULL DEFAULT '',
	lat                   REAL NOT NULL,
	lng                   REAL NOT NULL,
	reviews               TEXT NOT NULL DEFAULT '[]',
	hours                 TEXT NOT NULL DEFAULT '[]',
	photos                TEXT NOT NULL DEFAULT '[]',
	last_fetched          DATETIME NOT NULL,
	vibes_analyzed_at     DATETIME,
	amenities_analyzed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_cafes_lat_lng ON cafes(lat, lng);

CREATE TABLE IF NOT EXISTS cafe_vibes (
	cafe_id     INTEGER NOT NULL REFERENCES cafes(id) ON DELETE CASCADE,
	vibe        TEXT NOT NULL,
	confidence  REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	analyzed_at DATETIME NOT NULL,
	PRIMARY KEY (cafe_id, vibe)
);

CREATE TABLE IF NOT EXISTS cafe_amenities (
	cafe_id     INTEGER NOT NULL REFERENCES cafes(id) ON DELETE CASCADE,
	amenity     TEXT NOT NULL,
	confidence  REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	analyzed_at DATETIME NOT NULL,
	PRIMARY KEY (cafe_id, amenity)
);

CREATE TABLE IF NOT EXISTS search_cache (
	search_key TEXT PRIMARY KEY,
	cafe_ids   TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);
`

const sqliteSelectCafe = `SELECT id, place_id, name, address, price_tier, lat, lng, reviews, hours, photos, last_fetched FROM cafes`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertCafes(ctx context.Context, cafes []model.Cafe) ([]model.Cafe, error) {
	if len(cafes) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert cafes: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	out := make([]model.Cafe, 0, len(cafes))
	for _, c := range cafes {
		reviews, hours, photos, err := marshalLists(c)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: marshal cafe %s", c.PlaceID)
		}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO cafes (place_id, name, address, price_tier, lat, lng, reviews, hours, photos, last_fetched)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(place_id) DO UPDATE SET
			   name = excluded.name, address = excluded.address, price_tier = excluded.price_tier,
			   lat = excluded.lat, lng = excluded.lng, reviews = excluded.reviews,
			   hours = excluded.hours, photos = excluded.photos, last_fetched = excluded.last_fetched
			 RETURNING id`,
			c.PlaceID, c.Name, c.Address, string(c.PriceTier), c.Location.Lat, c.Location.Lng,
			string(reviews), string(hours), string(photos), c.LastFetched.UTC(),
		).Scan(&c.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: upsert cafe %s", c.PlaceID)
		}
		out = append(out, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert cafes: commit tx")
	}
	return out, nil
}

func (s *SQLiteStore) GetCafes(ctx context.Context, ids []int64) ([]model.Cafe, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders, args := inClause(ids)
	cafes, err := s.queryCafes(ctx, sqliteSelectCafe+` WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cafes")
	}
	if err := s.attachScores(ctx, cafes); err != nil {
		return nil, err
	}
	return orderByIDs(ids, cafes), nil
}

func (s *SQLiteStore) FindNearby(ctx context.Context, f NearbyFilter) ([]model.Cafe, error) {
	dLat := f.RadiusMeters / metersPerDegreeLat
	cosLat := math.Cos(f.Origin.Lat * math.Pi / 180)
	dLng := 180.0
	if cosLat > 1e-9 {
		dLng = math.Min(180, f.RadiusMeters/(metersPerDegreeLat*cosLat))
	}

	candidates, err := s.queryCafes(ctx, sqliteSelectCafe+` WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		f.Origin.Lat-dLat, f.Origin.Lat+dLat, f.Origin.Lng-dLng, f.Origin.Lng+dLng,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find nearby")
	}

	type hit struct {
		cafe model.Cafe
		dist float64
	}
	var hits []hit
	for _, c := range candidates {
		if !matchesTier(f.PriceTier, c.PriceTier) {
			continue
		}
		d := scoring.Haversine(f.Origin, c.Location)
		if d <= f.RadiusMeters {
			hits = append(hits, hit{c, d})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		}
		return 0
	})

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	cafes := make([]model.Cafe, len(hits))
	for i, h := range hits {
		cafes[i] = h.cafe
	}
	if err := s.attachScores(ctx, cafes); err != nil {
		return nil, err
	}
	return cafes, nil
}

func (s *SQLiteStore) queryCafes(ctx context.Context, query string, args ...any) ([]model.Cafe, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var cafes []model.Cafe
	for rows.Next() {
		var c model.Cafe
		var tier, reviews, hours, photos string
		if err := rows.Scan(&c.ID, &c.PlaceID, &c.Name, &c.Address, &tier, &c.Location.Lat, &c.Location.Lng, &reviews, &hours, &photos, &c.LastFetched); err != nil {
			return nil, eris.Wrap(err, "scan cafe")
		}
		c.PriceTier = model.PriceTier(tier)
		if err := unmarshalLists(&c, []byte(reviews), []byte(hours), []byte(photos)); err != nil {
			return nil, eris.Wrapf(err, "decode cafe %d", c.ID)
		}
		cafes = append(cafes, c)
	}
	return cafes, rows.Err()
}

func (s *SQLiteStore) attachScores(ctx context.Context, cafes []model.Cafe) error {
	if len(cafes) == 0 {
		return nil
	}
	ids := make([]int64, len(cafes))
	idx := make(map[int64]int, len(cafes))
	for i, c := range cafes {
		ids[i] = c.ID
		idx[c.ID] = i
	}
	placeholders, args := inClause(ids)

	for _, q := range []struct {
		table, col string
		set        func(c *model.Cafe, name string, conf float64)
	}{
		{"cafe_vibes", "vibe", func(c *model.Cafe, name string, conf float64) {
			if c.VibeScores == nil {
				c.VibeScores = make(map[model.Vibe]float64)
			}
			c.VibeScores[model.Vibe(name)] = conf
		}},
		{"cafe_amenities", "amenity", func(c *model.Cafe, name string, conf float64) {
			if c.AmenityScores == nil {
				c.AmenityScores = make(map[model.Amenity]float64)
			}
			c.AmenityScores[model.Amenity(name)] = conf
		}},
	} {
		rows, err := s.db.QueryContext(ctx,
			`SELECT cafe_id, `+q.col+`, confidence FROM `+q.table+` WHERE cafe_id IN (`+placeholders+`)`,
			args...,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: load %s", q.table)
		}
		for rows.Next() {
			var id int64
			var name string
			var conf float64
			if err := rows.Scan(&id, &name, &conf); err != nil {
				rows.Close() //nolint:errcheck
				return eris.Wrapf(err, "sqlite: scan %s", q.table)
			}
			q.set(&cafes[idx[id]], name, conf)
		}
		err = rows.Err()
		rows.Close() //nolint:errcheck
		if err != nil {
			return eris.Wrapf(err, "sqlite: iterate %s", q.table)
		}
	}
	return nil
}

func (s *SQLiteStore) ReplaceScores(ctx context.Context, cafeID int64, vibes map[model.Vibe]float64, amenities map[model.Amenity]float64, analyzedAt time.Time) error {
	at := analyzedAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace scores: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE cafes SET vibes_analyzed_at = ?, amenities_analyzed_at = ? WHERE id = ?`,
		at, at, cafeID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: stamp analysis %d", cafeID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: cafe %d", cafeID)
	}

	for _, stmt := range []string{
		`DELETE FROM cafe_vibes WHERE cafe_id = ?`,
		`DELETE FROM cafe_amenities WHERE cafe_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, cafeID); err != nil {
			return eris.Wrapf(err, "sqlite: clear scores %d", cafeID)
		}
	}

	for _, v := range model.Vibes {
		conf, ok := vibes[v]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cafe_vibes (cafe_id, vibe, confidence, analyzed_at) VALUES (?, ?, ?, ?)`,
			cafeID, string(v), conf, at,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert vibe %s for %d", v, cafeID)
		}
	}
	for _, a := range model.Amenities {
		conf, ok := amenities[a]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cafe_amenities (cafe_id, amenity, confidence, analyzed_at) VALUES (?, ?, ?, ?)`,
			cafeID, string(a), conf, at,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert amenity %s for %d", a, cafeID)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: replace scores: commit tx")
	}
	return nil
}

func (s *SQLiteStore) AnalysisStamps(ctx context.Context, cafeID int64) (model.AnalysisStamps, error) {
	var vibesAt, amenitiesAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT vibes_analyzed_at, amenities_analyzed_at FROM cafes WHERE id = ?`,
		cafeID,
	).Scan(&vibesAt, &amenitiesAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AnalysisStamps{}, eris.Wrapf(ErrNotFound, "sqlite: cafe %d", cafeID)
	}
	if err != nil {
		return model.AnalysisStamps{}, eris.Wrapf(err, "sqlite: analysis stamps %d", cafeID)
	}
	return model.AnalysisStamps{VibesAt: vibesAt.Time, AmenitiesAt: amenitiesAt.Time}, nil
}

func (s *SQLiteStore) GetSearchCache(ctx context.Context, key string) (*model.SearchCacheEntry, error) {
	var idsJSON string
	e := model.SearchCacheEntry{Key: key}
	err := s.db.QueryRowContext(ctx,
		`SELECT cafe_ids, updated_at FROM search_cache WHERE search_key = ?`,
		key,
	).Scan(&idsJSON, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get search cache %s", key)
	}
	if err := json.Unmarshal([]byte(idsJSON), &e.CafeIDs); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode search cache %s", key)
	}
	return &e, nil
}

func (s *SQLiteStore) PutSearchCache(ctx context.Context, key string, ids []int64, updatedAt time.Time) error {
	if ids == nil {
		ids = []int64{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal search cache ids")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO search_cache (search_key, cafe_ids, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(search_key) DO UPDATE SET cafe_ids = excluded.cafe_ids, updated_at = excluded.updated_at`,
		key, string(idsJSON), updatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: put search cache %s", key)
}

func (s *SQLiteStore) DeleteSearchCache(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE search_key = ?`, key)
	return eris.Wrapf(err, "sqlite: delete search cache %s", key)
}

// inClause builds "?, ?, ?" and the matching argument list.
func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}
