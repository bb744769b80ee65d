// Package catalog is the narrow adapter to the external relational
// catalog that indexes firmware images, detected brands, and
// content-addressed file objects. Every operation is a safe no-op when
// no catalog host is configured, so the rest of the pipeline never
// depends on a database being present.
//
// Grounded on original_source/src/dbInterface.py (connection lifecycle)
// and original_source/src/util.py's getObjectIds/createNewObjects/
// insertObjectsToImage/insertLinksToImage, adapted onto
// github.com/jackc/pgx/v4.
package catalog

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/firmadyne/femu-rehost/internal/rootfsarchive"
)

var clog = log.WithField("component", "catalog")

// UnknownBrand is returned by LookupBrand when no catalog is configured
// or the hash is not on file, mirroring emulator.py's detectBrand
// fallback.
const UnknownBrand = "unknown"

// Config names the catalog connection. An empty Host means "no
// catalog"; every Client method becomes a benign no-op.
type Config struct {
	Host string
	Port int
	DB   string
	User string
	Pass string
}

func (c Config) configured() bool { return c.Host != "" }

// Client is the catalog connection handle. A Client with a nil pool is
// valid and behaves as the unconfigured no-op catalog.
type Client struct {
	cfg  Config
	pool *pgxpool.Pool
}

// Connect dials the catalog described by cfg. If cfg is unconfigured
// (empty Host) it returns a Client that no-ops every operation without
// touching the network, exactly as spec.md §4.5 requires.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if !cfg.configured() {
		clog.Debug("no catalog host configured; operating in no-op mode")
		return &Client{cfg: cfg}, nil
	}

	connStr := connString(cfg)
	pool, err := pgxpool.Connect(ctx, connStr)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to catalog at %s:%d", cfg.Host, cfg.Port)
	}
	return &Client{cfg: cfg, pool: pool}, nil
}

func connString(cfg Config) string {
	db := cfg.DB
	if db == "" {
		db = "firmware"
	}
	user := cfg.User
	if user == "" {
		user = "femu"
	}
	pass := cfg.Pass
	if pass == "" {
		pass = "femu"
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	return "host=" + cfg.Host +
		" port=" + strconv.Itoa(port) +
		" dbname=" + db +
		" user=" + user +
		" password=" + pass +
		" sslmode=disable"
}

// Close releases the underlying connection pool, if any.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// CheckConnection verifies the catalog is reachable. No-op success when
// unconfigured.
func (c *Client) CheckConnection(ctx context.Context) error {
	if c.pool == nil {
		return nil
	}
	if err := c.pool.Ping(ctx); err != nil {
		return errors.Wrap(err, "catalog connection check failed")
	}
	return nil
}

// LookupBrand resolves the brand name registered for the given input
// hash, or UnknownBrand if unconfigured or unknown.
func (c *Client) LookupBrand(ctx context.Context, hash string) (string, error) {
	if c.pool == nil {
		return UnknownBrand, nil
	}
	var name string
	err := c.pool.QueryRow(ctx,
		`SELECT b.name FROM brand b JOIN image i ON i.brand_id = b.id WHERE i.hash = $1 LIMIT 1`,
		hash,
	).Scan(&name)
	if err == pgx.ErrNoRows {
		return UnknownBrand, nil
	}
	if err != nil {
		return UnknownBrand, errors.Wrapf(err, "looking up brand for hash %s", hash)
	}
	return name, nil
}

// RegisterImage ensures an image row exists for hash and returns its id,
// creating one if necessary. Returns 0 (not an error) when unconfigured,
// matching every other catalog operation's best-effort policy.
func (c *Client) RegisterImage(ctx context.Context, hash string) (int64, error) {
	if c.pool == nil {
		return 0, nil
	}
	var id int64
	err := c.pool.QueryRow(ctx,
		`INSERT INTO image (hash) VALUES ($1)
		 ON CONFLICT (hash) DO UPDATE SET hash = EXCLUDED.hash
		 RETURNING id`,
		hash,
	).Scan(&id)
	if err != nil {
		return 0, errors.Wrapf(err, "registering catalog image for hash %s", hash)
	}
	return id, nil
}

// UpdateImage sets a single field on the image row identified by iid,
// in its own transaction, rolling back on error. Returns false (not an
// error) when unconfigured, matching the "catalog is best-effort" policy
// of spec.md §7.
func (c *Client) UpdateImage(ctx context.Context, iid int64, field string, value interface{}) (bool, error) {
	if c.pool == nil {
		return false, nil
	}
	if !allowedImageField(field) {
		return false, errors.Errorf("catalog: refusing to update unknown image field %q", field)
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return false, errors.Wrap(err, "beginning catalog transaction")
	}
	defer tx.Rollback(ctx)

	query := `UPDATE image SET ` + field + ` = $1 WHERE id = $2`
	if _, err := tx.Exec(ctx, query, value, iid); err != nil {
		clog.WithError(err).WithField("field", field).Warn("catalog update failed, rolling back")
		return false, errors.Wrapf(err, "updating image.%s for iid %d", field, iid)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "committing catalog update")
	}
	return true, nil
}

func allowedImageField(field string) bool {
	switch field {
	case "arch", "kernel_version", "brand_id":
		return true
	default:
		return false
	}
}

// FileRef is the tagged variant resolving the hash/tuple duality of the
// original getObjectIds (Open Question iii / spec.md §9 Design Note iv).
// Hash is always set. Name/UID/GID/Mode may be filled in by callers that
// have the full file record, but EnsureObjects reads only Hash and
// writes no object_to_image rows; those are written separately by
// InsertObjectsToImage.
type FileRef struct {
	Hash string
	Name string
	UID  int
	GID  int
	Mode int64
}

// EnsureObjects resolves hashes to existing object ids and, when
// addMissing is true, inserts rows for any hash not already on file.
// Returns a hash->id map and the hashes that were not already on file.
// With addMissing true those hashes are inserted and the map covers
// every ref; with addMissing false they are left out of the map.
func (c *Client) EnsureObjects(ctx context.Context, refs []FileRef, addMissing bool) (map[string]int64, []string, error) {
	ids := make(map[string]int64, len(refs))
	if c.pool == nil || len(refs) == 0 {
		return ids, nil, nil
	}

	hashes := make([]string, len(refs))
	for i, r := range refs {
		hashes[i] = r.Hash
	}

	rows, err := c.pool.Query(ctx, `SELECT id, hash FROM object WHERE hash = ANY($1::text[])`, hashes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "querying existing catalog objects")
	}
	for rows.Next() {
		var id int64
		var hash string
		if err := rows.Scan(&id, &hash); err != nil {
			rows.Close()
			return nil, nil, errors.Wrap(err, "scanning catalog object row")
		}
		ids[hash] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "iterating catalog object rows")
	}

	var missing []string
	for _, h := range hashes {
		if _, ok := ids[h]; !ok {
			missing = append(missing, h)
		}
	}
	if !addMissing || len(missing) == 0 {
		return ids, missing, nil
	}

	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(err, "beginning object-insert transaction")
	}
	defer tx.Rollback(ctx)

	for _, h := range missing {
		var id int64
		err := tx.QueryRow(ctx, `INSERT INTO object (hash) VALUES ($1) RETURNING id`, h).Scan(&id)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "inserting catalog object for hash %s", h)
		}
		ids[h] = id
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "committing new catalog objects")
	}
	return ids, missing, nil
}

// InsertObjectsToImage writes one object_to_image row per FileRecord,
// mapping each record's md5 through idByHash.
func (c *Client) InsertObjectsToImage(ctx context.Context, iid int64, idByHash map[string]int64, files []rootfsarchive.FileRecord) error {
	if c.pool == nil || len(files) == 0 {
		return nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning object_to_image transaction")
	}
	defer tx.Rollback(ctx)

	for _, fr := range files {
		oid, ok := idByHash[fr.MD5]
		if !ok {
			return errors.Errorf("no catalog object id for hash %s (file %s)", fr.MD5, fr.Name)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO object_to_image (iid, oid, filename, regular_file, uid, gid, permissions)
			 VALUES ($1, $2, $3, true, $4, $5, $6)`,
			iid, oid, fr.Name, fr.UID, fr.GID, fr.Mode,
		)
		if err != nil {
			return errors.Wrapf(err, "inserting object_to_image row for %s", fr.Name)
		}
	}
	return tx.Commit(ctx)
}

// InsertLinksToImage writes one object_to_image row per symlink, with
// oid=0, regular_file=false, permissions=0o777, uid/gid null, exactly
// as spec.md §4.5 specifies.
func (c *Client) InsertLinksToImage(ctx context.Context, iid int64, links []rootfsarchive.LinkRecord) error {
	if c.pool == nil || len(links) == 0 {
		return nil
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "beginning link-insert transaction")
	}
	defer tx.Rollback(ctx)

	for _, lr := range links {
		_, err := tx.Exec(ctx,
			`INSERT INTO object_to_image (iid, oid, filename, regular_file, uid, gid, permissions)
			 VALUES ($1, 0, $2, false, NULL, NULL, $3)`,
			iid, lr.Name, 0o777,
		)
		if err != nil {
			return errors.Wrapf(err, "inserting symlink object_to_image row for %s", lr.Name)
		}
	}
	return tx.Commit(ctx)
}
