package dbcfg

import (
	"fmt"
	"math"
	"strings"
)

// Property names a database-level setting or an optional engine feature.
// The name doubles as the capability name passed to
// Connection.IsSupportedProperty.
type Property string

const (
	PropCollation                       Property = "Collation"
	PropRecoveryModel                   Property = "RecoveryModel"
	PropCompatibilityLevel              Property = "CompatibilityLevel"
	PropContainmentType                 Property = "ContainmentType"
	PropUserAccess                      Property = "UserAccess"
	PropReadOnly                        Property = "ReadOnly"
	PropAutoClose                       Property = "AutoClose"
	PropAutoShrink                      Property = "AutoShrink"
	PropAutoCreateStatistics            Property = "AutoCreateStatistics"
	PropAutoCreateIncrementalStatistics Property = "AutoCreateIncrementalStatistics"
	PropAutoUpdateStatistics            Property = "AutoUpdateStatistics"
	PropAutoUpdateStatisticsAsync       Property = "AutoUpdateStatisticsAsync"
	PropAnsiNullDefault                 Property = "AnsiNullDefault"
	PropAnsiNulls                       Property = "AnsiNulls"
	PropAnsiPadding                     Property = "AnsiPadding"
	PropAnsiWarnings                    Property = "AnsiWarnings"
	PropArithAbort                      Property = "ArithAbort"
	PropConcatNullYieldsNull            Property = "ConcatNullYieldsNull"
	PropNumericRoundAbort               Property = "NumericRoundAbort"
	PropQuotedIdentifier                Property = "QuotedIdentifier"
	PropRecursiveTriggers               Property = "RecursiveTriggers"
	PropCloseCursorsOnCommit            Property = "CloseCursorsOnCommit"
	PropLocalCursorsDefault             Property = "LocalCursorsDefault"
	PropTrustworthy                     Property = "Trustworthy"
	PropDatabaseOwnershipChaining       Property = "DatabaseOwnershipChaining"
	PropDateCorrelationOptimization     Property = "DateCorrelationOptimization"
	PropBrokerEnabled                   Property = "BrokerEnabled"
	PropHonorBrokerPriority             Property = "HonorBrokerPriority"
	PropForcedParameterization          Property = "ForcedParameterization"
	PropPageVerify                      Property = "PageVerify"
	PropTargetRecoveryTime              Property = "TargetRecoveryTime"
	PropDelayedDurability               Property = "DelayedDurability"
	PropReadCommittedSnapshot           Property = "ReadCommittedSnapshot"
	PropEncryptionEnabled               Property = "EncryptionEnabled"
	PropFilestreamNonTransactedAccess   Property = "FilestreamNonTransactedAccess"
	PropFilestreamDirectoryName         Property = "FilestreamDirectoryName"
	PropMirroringTimeout                Property = "MirroringTimeout"
	PropDefaultFullTextLanguage         Property = "DefaultFullTextLanguage"
	PropDefaultLanguage                 Property = "DefaultLanguage"
	PropNestedTriggers                  Property = "NestedTriggers"
	PropTransformNoiseWords             Property = "TransformNoiseWords"
	PropTwoDigitYearCutoff              Property = "TwoDigitYearCutoff"
	PropMaxDop                          Property = "MaxDop"
	PropLegacyCardinalityEstimation     Property = "LegacyCardinalityEstimation"
	PropParameterSniffing               Property = "ParameterSniffing"
	PropQueryOptimizerHotfixes          Property = "QueryOptimizerHotfixes"
	PropAcceleratedDatabaseRecovery     Property = "AcceleratedDatabaseRecovery"
	PropRemoteDataArchive               Property = "RemoteDataArchive"
	PropQueryStoreEnabled               Property = "QueryStoreEnabled"
	PropAzureEdition                    Property = "AzureEdition"
	PropAzureServiceObjective           Property = "AzureServiceObjective"
	PropAzureMaxSizeMB                  Property = "AzureMaxSizeMB"
	PropAllowSnapshotIsolation          Property = "AllowSnapshotIsolation"
	PropOwner                           Property = "Owner"

	// Features that are not scalar settings.
	PropAutogrowAllFiles          Property = "AutogrowAllFiles"
	PropFileStreamFilegroups      Property = "FileStreamFilegroups"
	PropMemoryOptimizedFilegroups Property = "MemoryOptimizedFilegroups"
)

type RecoveryModel string

const (
	RecoveryFull       RecoveryModel = "FULL"
	RecoveryBulkLogged RecoveryModel = "BULK_LOGGED"
	RecoverySimple     RecoveryModel = "SIMPLE"
)

type UserAccess string

const (
	MultiUser      UserAccess = "MULTI_USER"
	SingleUser     UserAccess = "SINGLE_USER"
	RestrictedUser UserAccess = "RESTRICTED_USER"
)

type Containment string

const (
	ContainmentNone    Containment = "NONE"
	ContainmentPartial Containment = "PARTIAL"
)

type PageVerify string

const (
	PageVerifyNone     PageVerify = "NONE"
	PageVerifyTornPage PageVerify = "TORN_PAGE_DETECTION"
	PageVerifyChecksum PageVerify = "CHECKSUM"
)

type DelayedDurability string

const (
	DurabilityDisabled DelayedDurability = "DISABLED"
	DurabilityAllowed  DelayedDurability = "ALLOWED"
	DurabilityForced   DelayedDurability = "FORCED"
)

type FilestreamAccess string

const (
	FilestreamOff      FilestreamAccess = "OFF"
	FilestreamReadOnly FilestreamAccess = "READ_ONLY"
	FilestreamFull     FilestreamAccess = "FULL"
)

// DatabaseStatus is the engine-reported state of a database.
type DatabaseStatus string

const (
	StatusNormal       DatabaseStatus = "ONLINE"
	StatusOffline      DatabaseStatus = "OFFLINE"
	StatusRestoring    DatabaseStatus = "RESTORING"
	StatusRecovering   DatabaseStatus = "RECOVERING"
	StatusSuspect      DatabaseStatus = "SUSPECT"
	StatusEmergency    DatabaseStatus = "EMERGENCY"
	StatusInaccessible DatabaseStatus = "INACCESSIBLE"
	StatusNotCreated   DatabaseStatus = "NOT_CREATED"
)

// Settings holds the scalar database-level settings.
type Settings struct {
	Collation                       string
	RecoveryModel                   RecoveryModel
	CompatibilityLevel              int
	ContainmentType                 Containment
	UserAccess                      UserAccess
	ReadOnly                        bool
	AutoClose                       bool
	AutoShrink                      bool
	AutoCreateStatistics            bool
	AutoCreateIncrementalStatistics bool
	AutoUpdateStatistics            bool
	AutoUpdateStatisticsAsync       bool
	AnsiNullDefault                 bool
	AnsiNulls                       bool
	AnsiPadding                     bool
	AnsiWarnings                    bool
	ArithAbort                      bool
	ConcatNullYieldsNull            bool
	NumericRoundAbort               bool
	QuotedIdentifier                bool
	RecursiveTriggers               bool
	CloseCursorsOnCommit            bool
	LocalCursorsDefault             bool
	Trustworthy                     bool
	DatabaseOwnershipChaining       bool
	DateCorrelationOptimization     bool
	BrokerEnabled                   bool
	HonorBrokerPriority             bool
	ForcedParameterization          bool
	PageVerify                      PageVerify
	TargetRecoveryTime              int // seconds
	DelayedDurability               DelayedDurability
	ReadCommittedSnapshot           bool
	EncryptionEnabled               bool
	FilestreamNonTransactedAccess   FilestreamAccess
	FilestreamDirectoryName         string
	MirroringTimeout                int // seconds
	DefaultFullTextLanguage         int // LCID
	DefaultLanguage                 string
	NestedTriggers                  bool
	TransformNoiseWords             bool
	TwoDigitYearCutoff              int
	MaxDop                          int
	LegacyCardinalityEstimation     bool
	ParameterSniffing               bool
	QueryOptimizerHotfixes          bool
	AcceleratedDatabaseRecovery     bool
	RemoteDataArchive               bool
	QueryStoreEnabled               bool
	AzureEdition                    string
	AzureServiceObjective           string
	AzureMaxSizeMB                  int
	AllowSnapshotIsolation          bool
	Owner                           string
}

// DefaultSettings returns the values of a freshly created database on an
// engine with factory defaults. Used when the template database cannot be
// read.
func DefaultSettings() Settings {
	return Settings{
		RecoveryModel:                 RecoveryFull,
		CompatibilityLevel:            150,
		ContainmentType:               ContainmentNone,
		UserAccess:                    MultiUser,
		AutoCreateStatistics:          true,
		AutoUpdateStatistics:          true,
		PageVerify:                    PageVerifyChecksum,
		TargetRecoveryTime:            60,
		DelayedDurability:             DurabilityDisabled,
		FilestreamNonTransactedAccess: FilestreamOff,
		DefaultFullTextLanguage:       1033,
		DefaultLanguage:               "us_english",
		NestedTriggers:                true,
		TwoDigitYearCutoff:            2049,
		ParameterSniffing:             true,
		BrokerEnabled:                 true,
	}
}

// setting describes one scalar setting.
type setting struct {
	prop Property
	get  func(s *Settings) any
	set  func(s *Settings, v any) error

	// exclusive settings need no other sessions in the database when altered.
	exclusive bool
	// deferred settings are applied through dedicated handle calls after the
	// database exists.
	deferred bool
}

type settingOption func(*setting)

func exclusive(s *setting) { s.exclusive = true }
func deferred(s *setting)  { s.deferred = true }

func boolSetting(p Property, field func(*Settings) *bool, opts ...settingOption) setting {
	s := setting{
		prop: p,
		get:  func(st *Settings) any { return *field(st) },
		set: func(st *Settings, v any) error {
			b, ok := v.(bool)
			if !ok {
				return fmt.Errorf("%s: expected a boolean, got %T", p, v)
			}
			*field(st) = b
			return nil
		},
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func intSetting(p Property, field func(*Settings) *int, opts ...settingOption) setting {
	s := setting{
		prop: p,
		get:  func(st *Settings) any { return *field(st) },
		set: func(st *Settings, v any) error {
			n, err := toInt(v)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			*field(st) = n
			return nil
		},
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func stringSetting(p Property, field func(*Settings) *string, opts ...settingOption) setting {
	s := setting{
		prop: p,
		get:  func(st *Settings) any { return *field(st) },
		set: func(st *Settings, v any) error {
			str, ok := v.(string)
			if !ok {
				return fmt.Errorf("%s: expected a string, got %T", p, v)
			}
			*field(st) = str
			return nil
		},
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func enumSetting[T ~string](p Property, field func(*Settings) *T, allowed []T, opts ...settingOption) setting {
	s := setting{
		prop: p,
		get:  func(st *Settings) any { return *field(st) },
		set: func(st *Settings, v any) error {
			var val T
			switch x := v.(type) {
			case T:
				val = x
			case string:
				val = T(strings.ToUpper(x))
			default:
				return fmt.Errorf("%s: expected a string, got %T", p, v)
			}
			for _, a := range allowed {
				if a == val {
					*field(st) = val
					return nil
				}
			}
			return fmt.Errorf("%s: unsupported value %q", p, string(val))
		},
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected a whole number, got %g", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// settings lists every scalar setting in the order it is applied.
var settings = []setting{
	stringSetting(PropCollation, func(s *Settings) *string { return &s.Collation }),
	enumSetting(PropRecoveryModel, func(s *Settings) *RecoveryModel { return &s.RecoveryModel },
		[]RecoveryModel{RecoveryFull, RecoveryBulkLogged, RecoverySimple}),
	intSetting(PropCompatibilityLevel, func(s *Settings) *int { return &s.CompatibilityLevel }),
	enumSetting(PropContainmentType, func(s *Settings) *Containment { return &s.ContainmentType },
		[]Containment{ContainmentNone, ContainmentPartial}),
	enumSetting(PropUserAccess, func(s *Settings) *UserAccess { return &s.UserAccess },
		[]UserAccess{MultiUser, SingleUser, RestrictedUser}, exclusive),
	boolSetting(PropReadOnly, func(s *Settings) *bool { return &s.ReadOnly }, exclusive),
	boolSetting(PropAutoClose, func(s *Settings) *bool { return &s.AutoClose }),
	boolSetting(PropAutoShrink, func(s *Settings) *bool { return &s.AutoShrink }),
	boolSetting(PropAutoCreateStatistics, func(s *Settings) *bool { return &s.AutoCreateStatistics }),
	boolSetting(PropAutoCreateIncrementalStatistics, func(s *Settings) *bool { return &s.AutoCreateIncrementalStatistics }),
	boolSetting(PropAutoUpdateStatistics, func(s *Settings) *bool { return &s.AutoUpdateStatistics }),
	boolSetting(PropAutoUpdateStatisticsAsync, func(s *Settings) *bool { return &s.AutoUpdateStatisticsAsync }),
	boolSetting(PropAnsiNullDefault, func(s *Settings) *bool { return &s.AnsiNullDefault }),
	boolSetting(PropAnsiNulls, func(s *Settings) *bool { return &s.AnsiNulls }),
	boolSetting(PropAnsiPadding, func(s *Settings) *bool { return &s.AnsiPadding }),
	boolSetting(PropAnsiWarnings, func(s *Settings) *bool { return &s.AnsiWarnings }),
	boolSetting(PropArithAbort, func(s *Settings) *bool { return &s.ArithAbort }),
	boolSetting(PropConcatNullYieldsNull, func(s *Settings) *bool { return &s.ConcatNullYieldsNull }),
	boolSetting(PropNumericRoundAbort, func(s *Settings) *bool { return &s.NumericRoundAbort }),
	boolSetting(PropQuotedIdentifier, func(s *Settings) *bool { return &s.QuotedIdentifier }),
	boolSetting(PropRecursiveTriggers, func(s *Settings) *bool { return &s.RecursiveTriggers }),
	boolSetting(PropCloseCursorsOnCommit, func(s *Settings) *bool { return &s.CloseCursorsOnCommit }),
	boolSetting(PropLocalCursorsDefault, func(s *Settings) *bool { return &s.LocalCursorsDefault }),
	boolSetting(PropTrustworthy, func(s *Settings) *bool { return &s.Trustworthy }),
	boolSetting(PropDatabaseOwnershipChaining, func(s *Settings) *bool { return &s.DatabaseOwnershipChaining }),
	boolSetting(PropDateCorrelationOptimization, func(s *Settings) *bool { return &s.DateCorrelationOptimization }, exclusive),
	boolSetting(PropBrokerEnabled, func(s *Settings) *bool { return &s.BrokerEnabled }),
	boolSetting(PropHonorBrokerPriority, func(s *Settings) *bool { return &s.HonorBrokerPriority }),
	boolSetting(PropForcedParameterization, func(s *Settings) *bool { return &s.ForcedParameterization }),
	enumSetting(PropPageVerify, func(s *Settings) *PageVerify { return &s.PageVerify },
		[]PageVerify{PageVerifyNone, PageVerifyTornPage, PageVerifyChecksum}),
	intSetting(PropTargetRecoveryTime, func(s *Settings) *int { return &s.TargetRecoveryTime }),
	enumSetting(PropDelayedDurability, func(s *Settings) *DelayedDurability { return &s.DelayedDurability },
		[]DelayedDurability{DurabilityDisabled, DurabilityAllowed, DurabilityForced}),
	boolSetting(PropReadCommittedSnapshot, func(s *Settings) *bool { return &s.ReadCommittedSnapshot }, exclusive),
	boolSetting(PropEncryptionEnabled, func(s *Settings) *bool { return &s.EncryptionEnabled }),
	enumSetting(PropFilestreamNonTransactedAccess, func(s *Settings) *FilestreamAccess { return &s.FilestreamNonTransactedAccess },
		[]FilestreamAccess{FilestreamOff, FilestreamReadOnly, FilestreamFull}, exclusive),
	stringSetting(PropFilestreamDirectoryName, func(s *Settings) *string { return &s.FilestreamDirectoryName }, exclusive),
	intSetting(PropMirroringTimeout, func(s *Settings) *int { return &s.MirroringTimeout }),
	intSetting(PropDefaultFullTextLanguage, func(s *Settings) *int { return &s.DefaultFullTextLanguage }),
	stringSetting(PropDefaultLanguage, func(s *Settings) *string { return &s.DefaultLanguage }),
	boolSetting(PropNestedTriggers, func(s *Settings) *bool { return &s.NestedTriggers }),
	boolSetting(PropTransformNoiseWords, func(s *Settings) *bool { return &s.TransformNoiseWords }),
	intSetting(PropTwoDigitYearCutoff, func(s *Settings) *int { return &s.TwoDigitYearCutoff }),
	intSetting(PropMaxDop, func(s *Settings) *int { return &s.MaxDop }),
	boolSetting(PropLegacyCardinalityEstimation, func(s *Settings) *bool { return &s.LegacyCardinalityEstimation }),
	boolSetting(PropParameterSniffing, func(s *Settings) *bool { return &s.ParameterSniffing }),
	boolSetting(PropQueryOptimizerHotfixes, func(s *Settings) *bool { return &s.QueryOptimizerHotfixes }),
	boolSetting(PropAcceleratedDatabaseRecovery, func(s *Settings) *bool { return &s.AcceleratedDatabaseRecovery }),
	boolSetting(PropRemoteDataArchive, func(s *Settings) *bool { return &s.RemoteDataArchive }),
	boolSetting(PropQueryStoreEnabled, func(s *Settings) *bool { return &s.QueryStoreEnabled }),
	stringSetting(PropAzureEdition, func(s *Settings) *string { return &s.AzureEdition }),
	stringSetting(PropAzureServiceObjective, func(s *Settings) *string { return &s.AzureServiceObjective }),
	intSetting(PropAzureMaxSizeMB, func(s *Settings) *int { return &s.AzureMaxSizeMB }),
	boolSetting(PropAllowSnapshotIsolation, func(s *Settings) *bool { return &s.AllowSnapshotIsolation }, deferred),
	stringSetting(PropOwner, func(s *Settings) *string { return &s.Owner }, deferred),
}

var settingsByProp = func() map[Property]*setting {
	m := make(map[Property]*setting, len(settings))
	for i := range settings {
		m[settings[i].prop] = &settings[i]
	}
	return m
}()

// SettingProperties returns the names of all scalar settings in apply order.
func SettingProperties() []Property {
	props := make([]Property, len(settings))
	for i, s := range settings {
		props[i] = s.prop
	}
	return props
}

// Get returns the value of one setting.
func (s *Settings) Get(p Property) (any, error) {
	spec, ok := settingsByProp[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProperty, p)
	}
	return spec.get(s), nil
}

// Set assigns one setting, converting manifest values (int64, float64,
// plain strings) to the field's type.
func (s *Settings) Set(p Property, v any) error {
	spec, ok := settingsByProp[p]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProperty, p)
	}
	return spec.set(s, v)
}

// Diff returns the settings whose values differ between s and other, in
// apply order.
func (s *Settings) Diff(other *Settings) []Property {
	var props []Property
	for _, spec := range settings {
		if spec.get(s) != spec.get(other) {
			props = append(props, spec.prop)
		}
	}
	return props
}

// IsExclusive reports whether changing p needs the database to have no
// other sessions.
func IsExclusive(p Property) bool {
	s, ok := settingsByProp[p]
	return ok && s.exclusive
}

// IsDeferred reports whether p is written only to an existing database,
// through a dedicated handle call.
func IsDeferred(p Property) bool {
	s, ok := settingsByProp[p]
	return ok && s.deferred
}
