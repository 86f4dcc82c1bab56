package engine

import (
	"database/sql"
	"fmt"
	"strings"

	"dbcfg/internal/dbcfg"
)

// settingColumns maps each setting to its expression over sys.databases d,
// sys.database_filestream_options fs and sys.database_mirroring m. Only the
// columns of supported properties are selected, so older servers never see
// columns they lack.
var settingColumns = []struct {
	prop dbcfg.Property
	expr string
}{
	{dbcfg.PropCollation, "COALESCE(d.collation_name, '')"},
	{dbcfg.PropRecoveryModel, "d.recovery_model_desc"},
	{dbcfg.PropCompatibilityLevel, "CAST(d.compatibility_level AS int)"},
	{dbcfg.PropContainmentType, "d.containment_desc"},
	{dbcfg.PropUserAccess, "d.user_access_desc"},
	{dbcfg.PropReadOnly, "d.is_read_only"},
	{dbcfg.PropAutoClose, "d.is_auto_close_on"},
	{dbcfg.PropAutoShrink, "d.is_auto_shrink_on"},
	{dbcfg.PropAutoCreateStatistics, "d.is_auto_create_stats_on"},
	{dbcfg.PropAutoCreateIncrementalStatistics, "d.is_auto_create_stats_incremental_on"},
	{dbcfg.PropAutoUpdateStatistics, "d.is_auto_update_stats_on"},
	{dbcfg.PropAutoUpdateStatisticsAsync, "d.is_auto_update_stats_async_on"},
	{dbcfg.PropAnsiNullDefault, "d.is_ansi_null_default_on"},
	{dbcfg.PropAnsiNulls, "d.is_ansi_nulls_on"},
	{dbcfg.PropAnsiPadding, "d.is_ansi_padding_on"},
	{dbcfg.PropAnsiWarnings, "d.is_ansi_warnings_on"},
	{dbcfg.PropArithAbort, "d.is_arithabort_on"},
	{dbcfg.PropConcatNullYieldsNull, "d.is_concat_null_yields_null_on"},
	{dbcfg.PropNumericRoundAbort, "d.is_numeric_roundabort_on"},
	{dbcfg.PropQuotedIdentifier, "d.is_quoted_identifier_on"},
	{dbcfg.PropRecursiveTriggers, "d.is_recursive_triggers_on"},
	{dbcfg.PropCloseCursorsOnCommit, "d.is_cursor_close_on_commit_on"},
	{dbcfg.PropLocalCursorsDefault, "d.is_local_cursor_default"},
	{dbcfg.PropTrustworthy, "d.is_trustworthy_on"},
	{dbcfg.PropDatabaseOwnershipChaining, "d.is_db_chaining_on"},
	{dbcfg.PropDateCorrelationOptimization, "d.is_date_correlation_on"},
	{dbcfg.PropBrokerEnabled, "d.is_broker_enabled"},
	{dbcfg.PropHonorBrokerPriority, "d.is_honor_broker_priority_on"},
	{dbcfg.PropForcedParameterization, "d.is_parameterization_forced"},
	{dbcfg.PropPageVerify, "d.page_verify_option_desc"},
	{dbcfg.PropTargetRecoveryTime, "d.target_recovery_time_in_seconds"},
	{dbcfg.PropDelayedDurability, "d.delayed_durability_desc"},
	{dbcfg.PropReadCommittedSnapshot, "d.is_read_committed_snapshot_on"},
	{dbcfg.PropEncryptionEnabled, "d.is_encrypted"},
	{dbcfg.PropFilestreamNonTransactedAccess, "COALESCE(fs.non_transacted_access_desc, 'OFF')"},
	{dbcfg.PropFilestreamDirectoryName, "COALESCE(fs.directory_name, '')"},
	{dbcfg.PropMirroringTimeout, "COALESCE(m.mirroring_connection_timeout, 0)"},
	{dbcfg.PropDefaultFullTextLanguage, "COALESCE(d.default_fulltext_language_lcid, 0)"},
	{dbcfg.PropDefaultLanguage, "COALESCE(d.default_language_name, '')"},
	{dbcfg.PropNestedTriggers, "COALESCE(d.is_nested_triggers_on, 0)"},
	{dbcfg.PropTransformNoiseWords, "COALESCE(d.is_transform_noise_words_on, 0)"},
	{dbcfg.PropTwoDigitYearCutoff, "COALESCE(d.two_digit_year_cutoff, 0)"},
	{dbcfg.PropAcceleratedDatabaseRecovery, "d.is_accelerated_database_recovery_on"},
	{dbcfg.PropRemoteDataArchive, "d.is_remote_data_archive_enabled"},
	{dbcfg.PropQueryStoreEnabled, "d.is_query_store_on"},
	{dbcfg.PropAzureEdition, "CAST(DATABASEPROPERTYEX(d.name, 'Edition') AS nvarchar(64))"},
	{dbcfg.PropAzureServiceObjective, "CAST(DATABASEPROPERTYEX(d.name, 'ServiceObjective') AS nvarchar(64))"},
	{dbcfg.PropAzureMaxSizeMB, "CAST(CAST(DATABASEPROPERTYEX(d.name, 'MaxSizeInBytes') AS bigint) / 1048576 AS int)"},
	{dbcfg.PropAllowSnapshotIsolation, "CAST(CASE WHEN d.snapshot_isolation_state IN (1, 3) THEN 1 ELSE 0 END AS bit)"},
	{dbcfg.PropOwner, "COALESCE(SUSER_SNAME(d.owner_sid), '')"},
}

// scopedColumns are read from sys.database_scoped_configurations.
var scopedColumns = map[string]dbcfg.Property{
	"MAXDOP":                        dbcfg.PropMaxDop,
	"LEGACY_CARDINALITY_ESTIMATION": dbcfg.PropLegacyCardinalityEstimation,
	"PARAMETER_SNIFFING":            dbcfg.PropParameterSniffing,
	"QUERY_OPTIMIZER_HOTFIXES":      dbcfg.PropQueryOptimizerHotfixes,
}

// settingsQuery builds the sys.databases query for the supported columns.
func settingsQuery(supported func(dbcfg.Property) bool) (string, []dbcfg.Property) {
	var exprs []string
	var props []dbcfg.Property
	for _, c := range settingColumns {
		if !supported(c.prop) {
			continue
		}
		exprs = append(exprs, c.expr)
		props = append(props, c.prop)
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(exprs, ",\n\t"))
	b.WriteString("\nFROM sys.databases d")
	if supported(dbcfg.PropFilestreamNonTransactedAccess) || supported(dbcfg.PropFilestreamDirectoryName) {
		b.WriteString("\nLEFT JOIN sys.database_filestream_options fs ON fs.database_id = d.database_id")
	}
	if supported(dbcfg.PropMirroringTimeout) {
		b.WriteString("\nLEFT JOIN sys.database_mirroring m ON m.database_id = d.database_id")
	}
	b.WriteString("\nWHERE d.name = @p1")
	return b.String(), props
}

// assignSetting stores a raw driver value into s, converting it to the
// type of the setting.
func assignSetting(s *dbcfg.Settings, p dbcfg.Property, raw any) error {
	if raw == nil {
		return nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	cur, err := s.Get(p)
	if err != nil {
		return err
	}
	switch cur.(type) {
	case bool:
		switch v := raw.(type) {
		case bool:
			return s.Set(p, v)
		case int64:
			return s.Set(p, v != 0)
		}
	case int:
		switch v := raw.(type) {
		case int64:
			return s.Set(p, v)
		case int32:
			return s.Set(p, int64(v))
		}
	default:
		if str, ok := raw.(string); ok {
			return s.Set(p, strings.TrimSpace(str))
		}
	}
	return fmt.Errorf("%s: unexpected column value %T", p, raw)
}

func (s *SQLServer) readSettings(name string) (dbcfg.Settings, error) {
	var out dbcfg.Settings
	query, props := settingsQuery(func(p dbcfg.Property) bool { return s.caps[p] })
	if len(props) > 0 {
		raw := make([]any, len(props))
		dest := make([]any, len(props))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := s.queryRow(dest, query, name); err != nil {
			return out, err
		}
		for i, p := range props {
			if err := assignSetting(&out, p, raw[i]); err != nil {
				return out, err
			}
		}
	}

	if !s.caps[dbcfg.PropMaxDop] {
		return out, nil
	}
	scoped := `SELECT name, CAST(value AS int) FROM ` + quoteName(name) + `.sys.database_scoped_configurations
WHERE name IN ('MAXDOP', 'LEGACY_CARDINALITY_ESTIMATION', 'PARAMETER_SNIFFING', 'QUERY_OPTIMIZER_HOTFIXES')`
	err := s.query(func(rows *sql.Rows) error {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return err
		}
		p := scopedColumns[key]
		if p == dbcfg.PropMaxDop {
			return out.Set(p, value)
		}
		return out.Set(p, value != 0)
	}, scoped)
	return out, err
}

// catalogFile is a row of sys.database_files.
type catalogFile struct {
	name         string
	physicalName string
	fileID       int
	sizePages    int64
	growth       int64
	percent      bool
	maxPages     int64
}

const pageKB = 8

func (f catalogFile) info() dbcfg.FileInfo {
	info := dbcfg.FileInfo{
		Name:         f.name,
		PhysicalName: f.physicalName,
		IsPrimary:    f.fileID == 1,
		SizeKB:       float64(f.sizePages * pageKB),
	}
	if f.percent {
		info.Growth = float64(f.growth)
	} else {
		info.Growth = float64(f.growth * pageKB)
	}
	if f.maxPages == -1 {
		info.Unrestricted = true
	} else {
		info.MaxSizeKB = float64(f.maxPages * pageKB)
	}
	return info
}

func (f catalogFile) growthType() dbcfg.GrowthType {
	switch {
	case f.growth == 0:
		return dbcfg.GrowthNone
	case f.percent:
		return dbcfg.GrowthPercent
	default:
		return dbcfg.GrowthKB
	}
}

// fileColumns lists the sys.database_files columns read by scanFile, each
// prefixed with alias.
func fileColumns(alias string) string {
	return fmt.Sprintf("%[1]sname, %[1]sphysical_name, %[1]sfile_id, CAST(%[1]ssize AS bigint), "+
		"CAST(%[1]sgrowth AS bigint), %[1]sis_percent_growth, CAST(%[1]smax_size AS bigint)", alias)
}

func scanFile(rows *sql.Rows) (catalogFile, error) {
	var f catalogFile
	err := rows.Scan(&f.name, &f.physicalName, &f.fileID, &f.sizePages, &f.growth, &f.percent, &f.maxPages)
	return f, err
}

// readFiles lists the files of one filegroup, or the log files when
// filegroup is empty.
func (s *SQLServer) readFiles(database, filegroup string) ([]catalogFile, error) {
	var query string
	var args []any
	if filegroup == "" {
		query = `SELECT ` + fileColumns("") + ` FROM ` + quoteName(database) + `.sys.database_files
WHERE type = 1 ORDER BY file_id`
	} else {
		query = `SELECT ` + fileColumns("f.") + `
FROM ` + quoteName(database) + `.sys.database_files f
JOIN ` + quoteName(database) + `.sys.filegroups g ON g.data_space_id = f.data_space_id
WHERE g.name = @p1 ORDER BY f.file_id`
		args = append(args, filegroup)
	}
	var out []catalogFile
	err := s.query(func(rows *sql.Rows) error {
		f, err := scanFile(rows)
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	}, query, args...)
	return out, err
}

// catalogFilegroup is a row of sys.filegroups.
type catalogFilegroup struct {
	name             string
	kind             dbcfg.FilegroupKind
	readOnly         bool
	isDefault        bool
	autogrowAllFiles bool
}

func filegroupKindOf(typ string) dbcfg.FilegroupKind {
	switch strings.TrimSpace(typ) {
	case "FD":
		return dbcfg.FileStreamFilegroup
	case "FX":
		return dbcfg.MemoryOptimizedFilegroup
	default:
		return dbcfg.RowsFilegroup
	}
}

func filegroupTypeOf(kind dbcfg.FilegroupKind) string {
	switch kind {
	case dbcfg.FileStreamFilegroup:
		return "FD"
	case dbcfg.MemoryOptimizedFilegroup:
		return "FX"
	default:
		return "FG"
	}
}

func (s *SQLServer) readFilegroups(database string) ([]catalogFilegroup, error) {
	autogrow := "CAST(0 AS bit)"
	if s.caps[dbcfg.PropAutogrowAllFiles] {
		autogrow = "is_autogrow_all_files"
	}
	query := `SELECT name, type, is_read_only, is_default, ` + autogrow + `
FROM ` + quoteName(database) + `.sys.filegroups ORDER BY data_space_id`
	var out []catalogFilegroup
	err := s.query(func(rows *sql.Rows) error {
		var fg catalogFilegroup
		var typ string
		if err := rows.Scan(&fg.name, &typ, &fg.readOnly, &fg.isDefault, &fg.autogrowAllFiles); err != nil {
			return err
		}
		fg.kind = filegroupKindOf(typ)
		out = append(out, fg)
		return nil
	}, query)
	return out, err
}
