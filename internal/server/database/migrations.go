package database

import "strings"

type migration struct {
	Version string
	SQL     string
}

// Migrations are written once; column types are filled in per driver.
// SQLite stores ids and timestamps as TEXT (see sqliteTimeLayout).
var migrationSource = []migration{
	{
		Version: "000001_create_nodes",
		SQL: `
			CREATE TABLE IF NOT EXISTS nodes (
				id                       {uuid}       PRIMARY KEY,
				kind                     VARCHAR(16)  NOT NULL CHECK (kind IN ('file', 'folder')),
				name                     VARCHAR(255) NOT NULL,
				owner_id                 VARCHAR(255) NOT NULL,
				parent_id                {uuid},
				created_at               {timestamp}  NOT NULL,
				expires_at               {timestamp},
				is_archived              BOOLEAN      NOT NULL DEFAULT FALSE,
				pin_hash                 VARCHAR(255),
				allow_anonymous_view     BOOLEAN      NOT NULL DEFAULT FALSE,
				allow_anonymous_download BOOLEAN      NOT NULL DEFAULT FALSE,
				content_type             VARCHAR(255),
				size_bytes               BIGINT,
				storage_ref              VARCHAR(255),
				provider_name            VARCHAR(64),
				burn_after_download      BOOLEAN      NOT NULL DEFAULT FALSE,
				is_accessed              BOOLEAN      NOT NULL DEFAULT FALSE,
				allow_anonymous_upload   BOOLEAN      NOT NULL DEFAULT FALSE,
				share_token              VARCHAR(64)
			);
			CREATE INDEX IF NOT EXISTS idx_nodes_parent_id ON nodes(parent_id);
			CREATE INDEX IF NOT EXISTS idx_nodes_owner_archived ON nodes(owner_id, is_archived);
			CREATE INDEX IF NOT EXISTS idx_nodes_expires_at ON nodes(expires_at) WHERE expires_at IS NOT NULL;
			CREATE INDEX IF NOT EXISTS idx_nodes_burned ON nodes(burn_after_download, is_accessed) WHERE kind = 'file';
			CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_share_token ON nodes(share_token) WHERE share_token IS NOT NULL;
			CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_storage_ref ON nodes(storage_ref) WHERE storage_ref IS NOT NULL;
		`,
	},
	{
		Version: "000002_create_audit_logs",
		SQL: `
			CREATE TABLE IF NOT EXISTS audit_logs (
				id          {uuid}       PRIMARY KEY,
				user_id     VARCHAR(255) NOT NULL,
				action      VARCHAR(64)  NOT NULL,
				entity_type VARCHAR(32)  NOT NULL,
				entity_id   VARCHAR(64)  NOT NULL,
				details     TEXT,
				created_at  {timestamp}  NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
			CREATE INDEX IF NOT EXISTS idx_audit_logs_entity ON audit_logs(entity_type, entity_id);
			CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at);
		`,
	},
	{
		Version: "000003_create_snippets",
		SQL: `
			CREATE TABLE IF NOT EXISTS snippets (
				id              {uuid}       PRIMARY KEY,
				title           VARCHAR(255) NOT NULL,
				content         TEXT         NOT NULL,
				owner_id        VARCHAR(255) NOT NULL,
				created_at      {timestamp}  NOT NULL,
				expires_at      {timestamp},
				burn_after_read BOOLEAN      NOT NULL DEFAULT FALSE
			);
			CREATE INDEX IF NOT EXISTS idx_snippets_owner_id ON snippets(owner_id);
			CREATE INDEX IF NOT EXISTS idx_snippets_expires_at ON snippets(expires_at) WHERE expires_at IS NOT NULL;
		`,
	},
}

var (
	postgresMigrations = renderMigrations(strings.NewReplacer("{uuid}", "UUID", "{timestamp}", "TIMESTAMPTZ"))
	sqliteMigrations   = renderMigrations(strings.NewReplacer("{uuid}", "TEXT", "{timestamp}", "TEXT"))
)

func renderMigrations(r *strings.Replacer) []migration {
	out := make([]migration, len(migrationSource))
	for i, m := range migrationSource {
		out[i] = migration{Version: m.Version, SQL: r.Replace(m.SQL)}
	}
	return out
}
