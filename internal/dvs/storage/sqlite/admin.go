package sqlite

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"

	"github.com/eternallovelin/dvs-tracking/internal/monitoring"
)

// DebugRegistrar is the subset of *tsweb.DebugHandler used to mount the
// admin routes.
type DebugRegistrar interface {
	Handle(slug, desc string, handler http.Handler)
}

// AttachAdminRoutes mounts live SQL debugging (tailsql) and an on-demand
// backup download under the debug handler.
func (db *DB) AttachAdminRoutes(debug DebugRegistrar) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.path), db.DB, &tailsql.DBOptions{
		Label: "Peak DB",
	})

	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the peak database now", http.HandlerFunc(db.handleBackup))
	return nil
}

func (db *DB) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := fmt.Sprintf("peaks-backup-%d.db", time.Now().Unix())
	backupPath := filepath.Join(os.TempDir(), name)
	if _, err := db.ExecContext(r.Context(), "VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Opsf("[sqlite] failed to remove backup file: %v", err)
		}
	}()

	f, err := os.Open(backupPath)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")

	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Opsf("[sqlite] failed to send backup: %v", err)
	}
}
