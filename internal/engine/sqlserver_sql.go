package engine

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"dbcfg/internal/dbcfg"
)

func quoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func quoteString(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func onOff(v any) string {
	if b, _ := v.(bool); b {
		return "ON"
	}
	return "OFF"
}

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ident checks a value that is written unquoted, such as a collation or
// an enum keyword.
func ident(v any) (string, error) {
	s := fmt.Sprint(v)
	if !identPattern.MatchString(s) {
		return "", fmt.Errorf("invalid identifier %q", s)
	}
	return s, nil
}

func wholeKB(kb float64) int64 {
	return int64(math.Ceil(kb))
}

type optionKind int

const (
	optionSet     optionKind = iota // ALTER DATABASE x SET ...
	optionScoped                    // ALTER DATABASE SCOPED CONFIGURATION SET ..., run inside the database
	optionModify                    // ALTER DATABASE x MODIFY (...)
	optionCollate                   // ALTER DATABASE x COLLATE ...
)

type option struct {
	kind   optionKind
	clause func(v any) (string, error)
}

func switchOption(keyword string) option {
	return option{clause: func(v any) (string, error) { return keyword + " " + onOff(v), nil }}
}

func equalsSwitchOption(keyword string) option {
	return option{clause: func(v any) (string, error) { return keyword + " = " + onOff(v), nil }}
}

func keywordOption(keyword string) option {
	return option{clause: func(v any) (string, error) {
		s, err := ident(v)
		if err != nil {
			return "", err
		}
		return keyword + " " + s, nil
	}}
}

func equalsOption(keyword string) option {
	return option{clause: func(v any) (string, error) {
		s, err := ident(v)
		if err != nil {
			return "", err
		}
		return keyword + " = " + s, nil
	}}
}

func scopedOption(keyword string, value func(v any) string) option {
	return option{kind: optionScoped, clause: func(v any) (string, error) {
		return keyword + " = " + value(v), nil
	}}
}

func flagOption(on, off string) option {
	return option{clause: func(v any) (string, error) {
		if b, _ := v.(bool); b {
			return on, nil
		}
		return off, nil
	}}
}

var options = map[dbcfg.Property]option{
	dbcfg.PropCollation:   {kind: optionCollate, clause: ident},
	dbcfg.PropUserAccess:  {clause: ident},
	dbcfg.PropReadOnly:    flagOption("READ_ONLY", "READ_WRITE"),
	dbcfg.PropAutoClose:   switchOption("AUTO_CLOSE"),
	dbcfg.PropAutoShrink:  switchOption("AUTO_SHRINK"),
	dbcfg.PropArithAbort:  switchOption("ARITHABORT"),
	dbcfg.PropAnsiNulls:   switchOption("ANSI_NULLS"),
	dbcfg.PropPageVerify:  keywordOption("PAGE_VERIFY"),
	dbcfg.PropMaxDop:      scopedOption("MAXDOP", func(v any) string { return fmt.Sprint(v) }),
	dbcfg.PropTrustworthy: switchOption("TRUSTWORTHY"),

	dbcfg.PropRecoveryModel:                   keywordOption("RECOVERY"),
	dbcfg.PropCompatibilityLevel:              equalsOption("COMPATIBILITY_LEVEL"),
	dbcfg.PropContainmentType:                 equalsOption("CONTAINMENT"),
	dbcfg.PropAutoCreateStatistics:            switchOption("AUTO_CREATE_STATISTICS"),
	dbcfg.PropAutoUpdateStatistics:            switchOption("AUTO_UPDATE_STATISTICS"),
	dbcfg.PropAutoUpdateStatisticsAsync:       switchOption("AUTO_UPDATE_STATISTICS_ASYNC"),
	dbcfg.PropAnsiNullDefault:                 switchOption("ANSI_NULL_DEFAULT"),
	dbcfg.PropAnsiPadding:                     switchOption("ANSI_PADDING"),
	dbcfg.PropAnsiWarnings:                    switchOption("ANSI_WARNINGS"),
	dbcfg.PropConcatNullYieldsNull:            switchOption("CONCAT_NULL_YIELDS_NULL"),
	dbcfg.PropNumericRoundAbort:               switchOption("NUMERIC_ROUNDABORT"),
	dbcfg.PropQuotedIdentifier:                switchOption("QUOTED_IDENTIFIER"),
	dbcfg.PropRecursiveTriggers:               switchOption("RECURSIVE_TRIGGERS"),
	dbcfg.PropCloseCursorsOnCommit:            switchOption("CURSOR_CLOSE_ON_COMMIT"),
	dbcfg.PropLocalCursorsDefault:             flagOption("CURSOR_DEFAULT LOCAL", "CURSOR_DEFAULT GLOBAL"),
	dbcfg.PropDatabaseOwnershipChaining:       switchOption("DB_CHAINING"),
	dbcfg.PropDateCorrelationOptimization:     switchOption("DATE_CORRELATION_OPTIMIZATION"),
	dbcfg.PropBrokerEnabled:                   flagOption("ENABLE_BROKER", "DISABLE_BROKER"),
	dbcfg.PropHonorBrokerPriority:             switchOption("HONOR_BROKER_PRIORITY"),
	dbcfg.PropForcedParameterization:          flagOption("PARAMETERIZATION FORCED", "PARAMETERIZATION SIMPLE"),
	dbcfg.PropDelayedDurability:               equalsOption("DELAYED_DURABILITY"),
	dbcfg.PropReadCommittedSnapshot:           switchOption("READ_COMMITTED_SNAPSHOT"),
	dbcfg.PropEncryptionEnabled:               switchOption("ENCRYPTION"),
	dbcfg.PropDefaultFullTextLanguage:         equalsOption("DEFAULT_FULLTEXT_LANGUAGE"),
	dbcfg.PropDefaultLanguage:                 equalsOption("DEFAULT_LANGUAGE"),
	dbcfg.PropNestedTriggers:                  equalsSwitchOption("NESTED_TRIGGERS"),
	dbcfg.PropTransformNoiseWords:             equalsSwitchOption("TRANSFORM_NOISE_WORDS"),
	dbcfg.PropTwoDigitYearCutoff:              equalsOption("TWO_DIGIT_YEAR_CUTOFF"),
	dbcfg.PropLegacyCardinalityEstimation:     scopedOption("LEGACY_CARDINALITY_ESTIMATION", onOff),
	dbcfg.PropParameterSniffing:               scopedOption("PARAMETER_SNIFFING", onOff),
	dbcfg.PropQueryOptimizerHotfixes:          scopedOption("QUERY_OPTIMIZER_HOTFIXES", onOff),
	dbcfg.PropAcceleratedDatabaseRecovery:     equalsSwitchOption("ACCELERATED_DATABASE_RECOVERY"),
	dbcfg.PropRemoteDataArchive:               equalsSwitchOption("REMOTE_DATA_ARCHIVE"),
	dbcfg.PropQueryStoreEnabled:               equalsSwitchOption("QUERY_STORE"),
	dbcfg.PropAutoCreateIncrementalStatistics: flagOption("AUTO_CREATE_STATISTICS ON (INCREMENTAL = ON)", "AUTO_CREATE_STATISTICS ON (INCREMENTAL = OFF)"),

	dbcfg.PropTargetRecoveryTime: {clause: func(v any) (string, error) {
		return fmt.Sprintf("TARGET_RECOVERY_TIME = %d SECONDS", v), nil
	}},
	dbcfg.PropFilestreamNonTransactedAccess: {clause: func(v any) (string, error) {
		s, err := ident(v)
		if err != nil {
			return "", err
		}
		return "FILESTREAM (NON_TRANSACTED_ACCESS = " + s + ")", nil
	}},
	dbcfg.PropFilestreamDirectoryName: {clause: func(v any) (string, error) {
		return "FILESTREAM (DIRECTORY_NAME = " + quoteString(fmt.Sprint(v)) + ")", nil
	}},
	dbcfg.PropMirroringTimeout: {clause: func(v any) (string, error) {
		return fmt.Sprintf("PARTNER TIMEOUT %d", v), nil
	}},
	dbcfg.PropAzureEdition: {kind: optionModify, clause: func(v any) (string, error) {
		return "EDITION = " + quoteString(fmt.Sprint(v)), nil
	}},
	dbcfg.PropAzureServiceObjective: {kind: optionModify, clause: func(v any) (string, error) {
		return "SERVICE_OBJECTIVE = " + quoteString(fmt.Sprint(v)), nil
	}},
	dbcfg.PropAzureMaxSizeMB: {kind: optionModify, clause: func(v any) (string, error) {
		return fmt.Sprintf("MAXSIZE = %d MB", v), nil
	}},
}

// containedOnly options are accepted only by partially contained databases.
var containedOnly = map[dbcfg.Property]bool{
	dbcfg.PropDefaultFullTextLanguage: true,
	dbcfg.PropDefaultLanguage:         true,
	dbcfg.PropNestedTriggers:          true,
	dbcfg.PropTransformNoiseWords:     true,
	dbcfg.PropTwoDigitYearCutoff:      true,
}

func terminationClause(t dbcfg.Termination) string {
	if t == dbcfg.RollbackImmediate {
		return " WITH ROLLBACK IMMEDIATE"
	}
	return " WITH NO_WAIT"
}

// optionStatement builds the statement that writes one setting.
func optionStatement(db string, p dbcfg.Property, v any, t dbcfg.Termination) (string, error) {
	o, ok := options[p]
	if !ok {
		return "", fmt.Errorf("%w: %s", dbcfg.ErrUnknownProperty, p)
	}
	clause, err := o.clause(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	switch o.kind {
	case optionScoped:
		return inDatabase(db, "ALTER DATABASE SCOPED CONFIGURATION SET "+clause), nil
	case optionModify:
		return "ALTER DATABASE " + quoteName(db) + " MODIFY (" + clause + ")", nil
	case optionCollate:
		return "ALTER DATABASE " + quoteName(db) + " COLLATE " + clause, nil
	}
	stmt := "ALTER DATABASE " + quoteName(db) + " SET " + clause
	if dbcfg.IsExclusive(p) {
		stmt += terminationClause(t)
	}
	return stmt, nil
}

// inDatabase runs stmt in the context of db without changing the
// session's current database.
func inDatabase(db, stmt string) string {
	return "EXEC " + quoteName(db) + ".sys.sp_executesql " + quoteString(stmt)
}

// fileSpec is the definition of a file being created.
type fileSpec struct {
	name         string
	path         string
	stream       bool // FILESTREAM or memory-optimized container
	sizeKB       float64
	growthType   dbcfg.GrowthType
	growth       float64
	maxSizeKB    float64
	unrestricted bool
}

func growthClause(t dbcfg.GrowthType, amount float64) string {
	switch t {
	case dbcfg.GrowthPercent:
		return fmt.Sprintf("%d%%", int64(math.Round(amount)))
	case dbcfg.GrowthKB:
		return fmt.Sprintf("%dKB", wholeKB(amount))
	default:
		return "0"
	}
}

func maxSizeClause(kb float64, unrestricted bool) string {
	if unrestricted {
		return "UNLIMITED"
	}
	return fmt.Sprintf("%dKB", wholeKB(kb))
}

func (f fileSpec) String() string {
	parts := []string{"NAME = " + quoteString(f.name)}
	if f.path != "" {
		parts = append(parts, "FILENAME = "+quoteString(f.path))
	}
	if !f.stream {
		if f.sizeKB > 0 {
			parts = append(parts, fmt.Sprintf("SIZE = %dKB", wholeKB(f.sizeKB)))
		}
		parts = append(parts, "MAXSIZE = "+maxSizeClause(f.maxSizeKB, f.unrestricted))
		parts = append(parts, "FILEGROWTH = "+growthClause(f.growthType, f.growth))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func containsClause(kind dbcfg.FilegroupKind) string {
	switch kind {
	case dbcfg.FileStreamFilegroup:
		return " CONTAINS FILESTREAM"
	case dbcfg.MemoryOptimizedFilegroup:
		return " CONTAINS MEMORY_OPTIMIZED_DATA"
	}
	return ""
}

// createFilegroup is a filegroup of a database being created.
type createFilegroup struct {
	name  string
	kind  dbcfg.FilegroupKind
	files []fileSpec
}

// createDatabase is everything CREATE DATABASE needs.
type createDatabase struct {
	name        string
	collation   string
	containment string
	filegroups  []createFilegroup
	logs        []fileSpec
	cloud       []string // Azure MODIFY clauses, passed as CREATE options
}

func (c createDatabase) String() string {
	var b strings.Builder
	b.WriteString("CREATE DATABASE " + quoteName(c.name))
	if c.containment != "" && c.containment != string(dbcfg.ContainmentNone) {
		b.WriteString("\nCONTAINMENT = " + c.containment)
	}

	first := true
	for _, fg := range c.filegroups {
		if len(fg.files) == 0 {
			continue
		}
		if first {
			b.WriteString("\nON")
		} else {
			b.WriteString(",")
		}
		if strings.EqualFold(fg.name, dbcfg.PrimaryFilegroupName) {
			b.WriteString(" PRIMARY")
		} else {
			b.WriteString("\nFILEGROUP " + quoteName(fg.name) + containsClause(fg.kind))
		}
		for i, f := range fg.files {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("\n  " + f.String())
		}
		first = false
	}
	if len(c.logs) > 0 {
		b.WriteString("\nLOG ON")
		for i, f := range c.logs {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString("\n  " + f.String())
		}
	}
	if c.collation != "" {
		b.WriteString("\nCOLLATE " + c.collation)
	}
	if len(c.cloud) > 0 {
		b.WriteString("\n(" + strings.Join(c.cloud, ", ") + ")")
	}
	return b.String()
}

func addFilegroupStatement(db, fg string, kind dbcfg.FilegroupKind) string {
	return "ALTER DATABASE " + quoteName(db) + " ADD FILEGROUP " + quoteName(fg) + containsClause(kind)
}

func modifyFilegroupStatement(db, fg, clause string) string {
	return "ALTER DATABASE " + quoteName(db) + " MODIFY FILEGROUP " + quoteName(fg) + " " + clause
}

func removeFilegroupStatement(db, fg string) string {
	return "ALTER DATABASE " + quoteName(db) + " REMOVE FILEGROUP " + quoteName(fg)
}

func addFileStatement(db string, f fileSpec, fg string) string {
	if fg == "" {
		return "ALTER DATABASE " + quoteName(db) + " ADD LOG FILE " + f.String()
	}
	return "ALTER DATABASE " + quoteName(db) + " ADD FILE " + f.String() + " TO FILEGROUP " + quoteName(fg)
}

// modifyFileStatement changes one property of a file; the engine accepts
// only one per statement.
func modifyFileStatement(db, file, clause string) string {
	return "ALTER DATABASE " + quoteName(db) + " MODIFY FILE (NAME = " + quoteString(file) + ", " + clause + ")"
}

func renameFileStatement(db, file, newName string) string {
	return modifyFileStatement(db, file, "NEWNAME = "+quoteString(newName))
}

func removeFileStatement(db, file string) string {
	return "ALTER DATABASE " + quoteName(db) + " REMOVE FILE " + quoteName(file)
}

func shrinkFileStatement(db, file string, targetKB float64) string {
	return inDatabase(db, fmt.Sprintf("DBCC SHRINKFILE (%s, %d)", quoteString(file), int64(dbcfg.KBToMB(targetKB))))
}

func snapshotIsolationStatement(db string, enabled bool) string {
	return "ALTER DATABASE " + quoteName(db) + " SET ALLOW_SNAPSHOT_ISOLATION " + onOff(enabled)
}

func ownerStatement(db, login string) string {
	return "ALTER AUTHORIZATION ON DATABASE::" + quoteName(db) + " TO " + quoteName(login)
}

func dropDatabaseStatement(db string) string {
	return "DROP DATABASE " + quoteName(db)
}
