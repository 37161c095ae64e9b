package storage

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// Schema revisions ship embedded in the binary so a deploy and its
// schema always travel together.
//
//go:embed migrations/*.sql
var schemaFiles embed.FS

// Migration is one versioned schema revision.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator brings the ClickHouse schema up to the revision baked into
// the binary. Applied versions are tracked in schema_migrations, so
// running against an up-to-date database is a no-op.
type Migrator struct {
	client *ClickHouseClient
}

// NewMigrator creates a migrator over the given client.
func NewMigrator(client *ClickHouseClient) *Migrator {
	return &Migrator{client: client}
}

// Run applies every revision not yet recorded, in version order. A
// failed statement aborts the run with the revision already partially
// applied; the statements are idempotent (IF NOT EXISTS) so a rerun
// picks up where it stopped.
func (m *Migrator) Run(ctx context.Context) error {
	if err := m.ensureVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to create schema version table: %w", err)
	}

	revisions, err := m.loadRevisions()
	if err != nil {
		return fmt.Errorf("failed to load schema revisions: %w", err)
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return fmt.Errorf("failed to read applied schema versions: %w", err)
	}

	for _, rev := range revisions {
		if applied[rev.Version] {
			slog.Debug("schema revision already applied",
				"version", rev.Version,
				"name", rev.Name,
			)
			continue
		}

		slog.Info("applying schema revision",
			"version", rev.Version,
			"name", rev.Name,
		)
		for _, stmt := range sqlStatements(rev.SQL) {
			if err := m.client.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema revision %d (%s): %w", rev.Version, rev.Name, err)
			}
		}

		if err := m.markApplied(ctx, rev); err != nil {
			return fmt.Errorf("failed to record schema revision %d: %w", rev.Version, err)
		}
	}

	return nil
}

func (m *Migrator) ensureVersionTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version UInt32,
			name String,
			applied_at DateTime DEFAULT now()
		)
		ENGINE = MergeTree()
		ORDER BY version
	`
	return m.client.Exec(ctx, query)
}

// loadRevisions reads the embedded revision files. File names carry the
// ordering: <version>_<name>.sql, e.g. 001_create_tables.sql. Files
// that do not follow the pattern are rejected rather than skipped; a
// typo must not silently drop a table.
func (m *Migrator) loadRevisions() ([]Migration, error) {
	entries, err := schemaFiles.ReadDir("migrations")
	if err != nil {
		return nil, err
	}

	var revisions []Migration
	for _, entry := range entries {
		base, isSQL := strings.CutSuffix(entry.Name(), ".sql")
		if !isSQL {
			continue
		}
		prefix, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("schema file %q is not named <version>_<name>.sql", entry.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("schema file %q has no numeric version prefix", entry.Name())
		}

		content, err := schemaFiles.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return nil, err
		}
		revisions = append(revisions, Migration{
			Version: version,
			Name:    name,
			SQL:     string(content),
		})
	}

	sort.Slice(revisions, func(i, j int) bool {
		return revisions[i].Version < revisions[j].Version
	})
	for i := 1; i < len(revisions); i++ {
		if revisions[i].Version == revisions[i-1].Version {
			return nil, fmt.Errorf("schema revisions %q and %q share version %d",
				revisions[i-1].Name, revisions[i].Name, revisions[i].Version)
		}
	}
	return revisions, nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.client.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version uint32
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[int(version)] = true
	}
	return applied, nil
}

func (m *Migrator) markApplied(ctx context.Context, rev Migration) error {
	return m.client.Exec(ctx,
		"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
		uint32(rev.Version), rev.Name,
	)
}

// sqlStatements splits a revision file into executable statements:
// ClickHouse takes one statement per Exec call. A semicolon inside a
// single-quoted literal does not terminate a statement, and fragments
// that hold nothing but comment lines are dropped.
func sqlStatements(sql string) []string {
	var statements []string
	var b strings.Builder
	inLiteral := false

	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case inLiteral && c == '\'':
			// A doubled quote is an escaped quote, still inside the literal.
			if i+1 < len(sql) && sql[i+1] == '\'' {
				b.WriteByte(c)
				b.WriteByte(sql[i+1])
				i++
				continue
			}
			inLiteral = false
		case !inLiteral && c == '\'':
			inLiteral = true
		case !inLiteral && c == ';':
			if stmt := executableStatement(b.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			b.Reset()
			continue
		}
		b.WriteByte(c)
	}

	if stmt := executableStatement(b.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

// executableStatement trims a fragment and keeps it only if at least
// one of its lines is real SQL rather than a -- comment.
func executableStatement(fragment string) string {
	fragment = strings.TrimSpace(fragment)
	for _, line := range strings.Split(fragment, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			return fragment
		}
	}
	return ""
}
