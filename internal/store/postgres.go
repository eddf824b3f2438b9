package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cafe-cli/internal/db"
	"github.com/sells-group/cafe-cli/internal/model"
)

// PostgresStore implements Store on PostgreSQL with PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS cafes (
	id                    BIGSERIAL PRIMARY KEY,
	place_id              TEXT NOT NULL UNIQUE,
	name                  TEXT NOT NULL,
	address               TEXT NOT NULL DEFAULT '',
	price_tier            TEXT NOT NULL DEFAULT '',
	location              geometry(Point, 4326) NOT NULL,
	reviews               JSONB NOT NULL DEFAULT '[]',
	hours                 JSONB NOT NULL DEFAULT '[]',
	photos                JSONB NOT NULL DEFAULT '[]',
	last_fetched          TIMESTAMPTZ NOT NULL DEFAULT now(),
	vibes_analyzed_at     TIMESTAMPTZ,
	amenities_analyzed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_cafes_location ON cafes USING GIST (location);
CREATE INDEX IF NOT EXISTS idx_cafes_price_tier ON cafes(price_tier);

CREATE TABLE IF NOT EXISTS cafe_vibes (
	cafe_id     BIGINT NOT NULL REFERENCES cafes(id) ON DELETE CASCADE,
	vibe        TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	analyzed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (cafe_id, vibe)
);

CREATE TABLE IF NOT EXISTS cafe_amenities (
	cafe_id     BIGINT NOT NULL REFERENCES cafes(id) ON DELETE CASCADE,
	amenity     TEXT NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	analyzed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (cafe_id, amenity)
);

CREATE TABLE IF NOT EXISTS search_cache (
	search_key TEXT PRIMARY KEY,
	cafe_ids   BIGINT[] NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_search_cache_updated_at ON search_cache(updated_at);

CREATE TABLE IF NOT EXISTS geocode_cache (
	query_hash        TEXT PRIMARY KEY,
	latitude          DOUBLE PRECISION NOT NULL,
	longitude         DOUBLE PRECISION NOT NULL,
	formatted_address TEXT NOT NULL DEFAULT '',
	quality           TEXT NOT NULL DEFAULT '',
	cached_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// cafeColumns are the columns written by UpsertCafes. Analysis stamps are
// owned by ReplaceScores and never overwritten by a refresh.
var cafeColumns = []string{
	"place_id", "name", "address", "price_tier", "location",
	"reviews", "hours", "photos", "last_fetched",
}

var (
	vibeTable = db.Owned{
		Table:    "cafe_vibes",
		OwnerCol: "cafe_id",
		Columns:  []string{"cafe_id", "vibe", "confidence", "analyzed_at"},
	}
	amenityTable = db.Owned{
		Table:    "cafe_amenities",
		OwnerCol: "cafe_id",
		Columns:  []string{"cafe_id", "amenity", "confidence", "analyzed_at"},
	}
)

const selectCafe = `SELECT id, place_id, name, address, price_tier, ST_AsEWKB(location), reviews, hours, photos, last_fetched FROM cafes`

// Querier exposes the pool for collaborators that keep their own tables
// (the geocode cache).
func (s *PostgresStore) Querier() db.Querier {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// UpsertCafes inserts or refreshes cafes by PlaceID and returns them with
// their store-assigned IDs.
func (s *PostgresStore) UpsertCafes(ctx context.Context, cafes []model.Cafe) ([]model.Cafe, error) {
	if len(cafes) == 0 {
		return nil, nil
	}

	rows := make([][]any, 0, len(cafes))
	for _, c := range cafes {
		loc, err := encodePoint(c.Location)
		if err != nil {
			return nil, err
		}
		reviews, hours, photos, err := marshalLists(c)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: marshal cafe %s", c.PlaceID)
		}
		rows = append(rows, []any{
			c.PlaceID, c.Name, c.Address, string(c.PriceTier), loc,
			reviews, hours, photos, c.LastFetched.UTC(),
		})
	}

	ids, err := db.UpsertIDs(ctx, s.pool, db.Staging{
		Table:   "cafes",
		Key:     "place_id",
		Columns: cafeColumns,
	}, rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert cafes")
	}

	out := make([]model.Cafe, 0, len(cafes))
	for _, c := range cafes {
		id, ok := ids[c.PlaceID]
		if !ok {
			return nil, eris.Errorf("postgres: cafe %s missing after upsert", c.PlaceID)
		}
		c.ID = id
		out = append(out, c)
	}
	return out, nil
}

// GetCafes loads cafes with their persisted scores, in the order of ids.
// IDs with no row are omitted.
func (s *PostgresStore) GetCafes(ctx context.Context, ids []int64) ([]model.Cafe, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	cafes, err := s.queryCafes(ctx, selectCafe+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cafes")
	}
	if err := s.attachScores(ctx, cafes); err != nil {
		return nil, err
	}
	return orderByIDs(ids, cafes), nil
}

// FindNearby returns stored cafes within the radius, nearest first.
func (s *PostgresStore) FindNearby(ctx context.Context, f NearbyFilter) ([]model.Cafe, error) {
	origin, err := encodePoint(f.Origin)
	if err != nil {
		return nil, err
	}
	tier := ""
	if f.PriceTier.Specified() {
		tier = string(f.PriceTier)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	cafes, err := s.queryCafes(ctx, selectCafe+`
		WHERE ST_DWithin(location::geography, ST_GeomFromEWKB($1)::geography, $2)
		  AND ($3 = '' OR price_tier = $3)
		ORDER BY location::geography <-> ST_GeomFromEWKB($1)::geography
		LIMIT $4`,
		origin, f.RadiusMeters, tier, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find nearby")
	}
	if err := s.attachScores(ctx, cafes); err != nil {
		return nil, err
	}
	return cafes, nil
}

func (s *PostgresStore) queryCafes(ctx context.Context, sql string, args ...any) ([]model.Cafe, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cafes []model.Cafe
	for rows.Next() {
		var c model.Cafe
		var tier string
		var loc, reviews, hours, photos []byte
		if err := rows.Scan(&c.ID, &c.PlaceID, &c.Name, &c.Address, &tier, &loc, &reviews, &hours, &photos, &c.LastFetched); err != nil {
			return nil, eris.Wrap(err, "scan cafe")
		}
		c.PriceTier = model.PriceTier(tier)
		if c.Location, err = decodePoint(loc); err != nil {
			return nil, err
		}
		if err := unmarshalLists(&c, reviews, hours, photos); err != nil {
			return nil, eris.Wrapf(err, "decode cafe %d", c.ID)
		}
		cafes = append(cafes, c)
	}
	return cafes, rows.Err()
}

// attachScores fills VibeScores and AmenityScores for cafes in place.
func (s *PostgresStore) attachScores(ctx context.Context, cafes []model.Cafe) error {
	if len(cafes) == 0 {
		return nil
	}
	ids := make([]int64, len(cafes))
	idx := make(map[int64]int, len(cafes))
	for i, c := range cafes {
		ids[i] = c.ID
		idx[c.ID] = i
	}

	vibes, err := s.pool.Query(ctx, `SELECT cafe_id, vibe, confidence FROM cafe_vibes WHERE cafe_id = ANY($1)`, ids)
	if err != nil {
		return eris.Wrap(err, "postgres: load vibe scores")
	}
	for vibes.Next() {
		var id int64
		var v string
		var conf float64
		if err := vibes.Scan(&id, &v, &conf); err != nil {
			vibes.Close()
			return eris.Wrap(err, "postgres: scan vibe score")
		}
		c := &cafes[idx[id]]
		if c.VibeScores == nil {
			c.VibeScores = make(map[model.Vibe]float64)
		}
		c.VibeScores[model.Vibe(v)] = conf
	}
	vibes.Close()
	if err := vibes.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate vibe scores")
	}

	amenities, err := s.pool.Query(ctx, `SELECT cafe_id, amenity, confidence FROM cafe_amenities WHERE cafe_id = ANY($1)`, ids)
	if err != nil {
		return eris.Wrap(err, "postgres: load amenity scores")
	}
	defer amenities.Close()
	for amenities.Next() {
		var id int64
		var a string
		var conf float64
		if err := amenities.Scan(&id, &a, &conf); err != nil {
			return eris.Wrap(err, "postgres: scan amenity score")
		}
		c := &cafes[idx[id]]
		if c.AmenityScores == nil {
			c.AmenityScores = make(map[model.Amenity]float64)
		}
		c.AmenityScores[model.Amenity(a)] = conf
	}
	return eris.Wrap(amenities.Err(), "postgres: iterate amenity scores")
}

// ReplaceScores atomically swaps both score sets for a cafe and stamps the
// analysis time. Readers see either the old sets or the new ones.
func (s *PostgresStore) ReplaceScores(ctx context.Context, cafeID int64, vibes map[model.Vibe]float64, amenities map[model.Amenity]float64, analyzedAt time.Time) error {
	at := analyzedAt.UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace scores: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx,
		`UPDATE cafes SET vibes_analyzed_at = $2, amenities_analyzed_at = $2 WHERE id = $1`,
		cafeID, at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: stamp analysis %d", cafeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: cafe %d", cafeID)
	}

	var vibeRows [][]any
	for _, v := range model.Vibes {
		if conf, ok := vibes[v]; ok {
			vibeRows = append(vibeRows, []any{cafeID, string(v), conf, at})
		}
	}
	if _, err := db.Replace(ctx, tx, vibeTable, cafeID, vibeRows); err != nil {
		return err
	}

	var amenityRows [][]any
	for _, a := range model.Amenities {
		if conf, ok := amenities[a]; ok {
			amenityRows = append(amenityRows, []any{cafeID, string(a), conf, at})
		}
	}
	if _, err := db.Replace(ctx, tx, amenityTable, cafeID, amenityRows); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: replace scores: commit tx")
	}
	return nil
}

func (s *PostgresStore) AnalysisStamps(ctx context.Context, cafeID int64) (model.AnalysisStamps, error) {
	var vibesAt, amenitiesAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT vibes_analyzed_at, amenities_analyzed_at FROM cafes WHERE id = $1`,
		cafeID,
	).Scan(&vibesAt, &amenitiesAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AnalysisStamps{}, eris.Wrapf(ErrNotFound, "postgres: cafe %d", cafeID)
	}
	if err != nil {
		return model.AnalysisStamps{}, eris.Wrapf(err, "postgres: analysis stamps %d", cafeID)
	}

	var st model.AnalysisStamps
	if vibesAt != nil {
		st.VibesAt = *vibesAt
	}
	if amenitiesAt != nil {
		st.AmenitiesAt = *amenitiesAt
	}
	return st, nil
}

// GetSearchCache returns nil, nil when no entry exists. Staleness is the
// caller's decision.
func (s *PostgresStore) GetSearchCache(ctx context.Context, key string) (*model.SearchCacheEntry, error) {
	e := model.SearchCacheEntry{Key: key}
	err := s.pool.QueryRow(ctx,
		`SELECT cafe_ids, updated_at FROM search_cache WHERE search_key = $1`,
		key,
	).Scan(&e.CafeIDs, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get search cache %s", key)
	}
	return &e, nil
}

func (s *PostgresStore) PutSearchCache(ctx context.Context, key string, ids []int64, updatedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_cache (search_key, cafe_ids, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (search_key) DO UPDATE SET cafe_ids = EXCLUDED.cafe_ids, updated_at = EXCLUDED.updated_at`,
		key, ids, updatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: put search cache %s", key)
}

func (s *PostgresStore) DeleteSearchCache(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM search_cache WHERE search_key = $1`, key)
	return eris.Wrapf(err, "postgres: delete search cache %s", key)
}

func marshalLists(c model.Cafe) (reviews, hours, photos []byte, err error) {
	if reviews, err = json.Marshal(nonNil(c.Reviews)); err != nil {
		return
	}
	if hours, err = json.Marshal(nonNil(c.Hours)); err != nil {
		return
	}
	photos, err = json.Marshal(nonNil(c.Photos))
	return
}

func unmarshalLists(c *model.Cafe, reviews, hours, photos []byte) error {
	for _, f := range []struct {
		raw []byte
		dst *[]string
	}{{reviews, &c.Reviews}, {hours, &c.Hours}, {photos, &c.Photos}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return err
		}
		if len(*f.dst) == 0 {
			*f.dst = nil
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
