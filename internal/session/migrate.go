// migrate.go — one-time startup migration of the legacy single-session
// record (data/session.json) into a durable multi-session record under a
// freshly minted identity. Migration failures are logged and never block
// startup.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// MigrateLegacy converts the legacy single-session file at path into one
// record in store. The legacy file is removed after a successful write.
// Returns the minted identity, or "" if there was nothing to migrate.
func MigrateLegacy(ctx context.Context, path string, store Store, log *logrus.Entry) string {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	if err != nil {
		log.WithError(err).Warn("legacy session read failed, skipping migration")
		return ""
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		log.WithError(err).Warn("legacy session unparseable, skipping migration")
		return ""
	}
	if len(rec.Playlist) == 0 {
		// Nothing worth carrying over; leave the file alone.
		return ""
	}

	sid := Mint()
	rec.SavedAt = time.Now()
	if err := store.Put(ctx, sid, rec); err != nil {
		log.WithError(err).Warn("legacy session migration write failed")
		return ""
	}
	if err := os.Remove(path); err != nil {
		log.WithError(err).Warn("legacy session file removal failed")
	}
	log.WithField("sid", shortSID(sid)).Info("legacy session migrated")
	return sid
}
