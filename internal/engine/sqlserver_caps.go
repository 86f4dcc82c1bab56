package engine

import (
	"strings"

	"dbcfg/internal/dbcfg"
)

// SERVERPROPERTY('EngineEdition') of an Azure SQL Database.
const engineEditionAzureSQL = 5

// SQL Server major versions.
const (
	sql2012 = 11
	sql2014 = 12
	sql2016 = 13
	sql2019 = 15
)

// capability gates one property on a minimum version and the hosting model.
type capability struct {
	prop     dbcfg.Property
	since    int
	onPrem   bool
	cloud    bool
	editions []string // empty means every edition; matched by prefix
}

var capabilities = []capability{
	{prop: dbcfg.PropCollation, onPrem: true, cloud: true},
	{prop: dbcfg.PropRecoveryModel, onPrem: true},
	{prop: dbcfg.PropCompatibilityLevel, onPrem: true, cloud: true},
	{prop: dbcfg.PropContainmentType, since: sql2012, onPrem: true},
	{prop: dbcfg.PropUserAccess, onPrem: true, cloud: true},
	{prop: dbcfg.PropReadOnly, onPrem: true, cloud: true},
	{prop: dbcfg.PropAutoClose, onPrem: true, cloud: true},
	{prop: dbcfg.PropAutoShrink, onPrem: true, cloud: true},
	{prop: dbcfg.PropAutoCreateStatistics, onPrem: true, cloud: true},
	{prop: dbcfg.PropAutoCreateIncrementalStatistics, since: sql2014, onPrem: true, cloud: true},
	{prop: dbcfg.PropAutoUpdateStatistics, onPrem: true, cloud: true},
	{prop: dbcfg.PropAutoUpdateStatisticsAsync, onPrem: true, cloud: true},
	{prop: dbcfg.PropAnsiNullDefault, onPrem: true, cloud: true},
	{prop: dbcfg.PropAnsiNulls, onPrem: true, cloud: true},
	{prop: dbcfg.PropAnsiPadding, onPrem: true, cloud: true},
	{prop: dbcfg.PropAnsiWarnings, onPrem: true, cloud: true},
	{prop: dbcfg.PropArithAbort, onPrem: true, cloud: true},
	{prop: dbcfg.PropConcatNullYieldsNull, onPrem: true, cloud: true},
	{prop: dbcfg.PropNumericRoundAbort, onPrem: true, cloud: true},
	{prop: dbcfg.PropQuotedIdentifier, onPrem: true, cloud: true},
	{prop: dbcfg.PropRecursiveTriggers, onPrem: true, cloud: true},
	{prop: dbcfg.PropCloseCursorsOnCommit, onPrem: true, cloud: true},
	{prop: dbcfg.PropLocalCursorsDefault, onPrem: true},
	{prop: dbcfg.PropTrustworthy, onPrem: true},
	{prop: dbcfg.PropDatabaseOwnershipChaining, onPrem: true},
	{prop: dbcfg.PropDateCorrelationOptimization, onPrem: true, cloud: true},
	{prop: dbcfg.PropBrokerEnabled, onPrem: true},
	{prop: dbcfg.PropHonorBrokerPriority, onPrem: true},
	{prop: dbcfg.PropForcedParameterization, onPrem: true, cloud: true},
	{prop: dbcfg.PropPageVerify, onPrem: true},
	{prop: dbcfg.PropTargetRecoveryTime, since: sql2012, onPrem: true, cloud: true},
	{prop: dbcfg.PropDelayedDurability, since: sql2014, onPrem: true, cloud: true},
	{prop: dbcfg.PropReadCommittedSnapshot, onPrem: true, cloud: true},
	{prop: dbcfg.PropEncryptionEnabled, onPrem: true, cloud: true, editions: []string{"Enterprise", "Developer", "Standard", "Evaluation"}},
	{prop: dbcfg.PropFilestreamNonTransactedAccess, since: sql2012, onPrem: true},
	{prop: dbcfg.PropFilestreamDirectoryName, since: sql2012, onPrem: true},
	{prop: dbcfg.PropMirroringTimeout, onPrem: true},
	{prop: dbcfg.PropDefaultFullTextLanguage, since: sql2012, onPrem: true},
	{prop: dbcfg.PropDefaultLanguage, since: sql2012, onPrem: true},
	{prop: dbcfg.PropNestedTriggers, since: sql2012, onPrem: true},
	{prop: dbcfg.PropTransformNoiseWords, since: sql2012, onPrem: true},
	{prop: dbcfg.PropTwoDigitYearCutoff, since: sql2012, onPrem: true},
	{prop: dbcfg.PropMaxDop, since: sql2016, onPrem: true, cloud: true},
	{prop: dbcfg.PropLegacyCardinalityEstimation, since: sql2016, onPrem: true, cloud: true},
	{prop: dbcfg.PropParameterSniffing, since: sql2016, onPrem: true, cloud: true},
	{prop: dbcfg.PropQueryOptimizerHotfixes, since: sql2016, onPrem: true, cloud: true},
	{prop: dbcfg.PropAcceleratedDatabaseRecovery, since: sql2019, onPrem: true},
	{prop: dbcfg.PropRemoteDataArchive, since: sql2016, onPrem: true},
	{prop: dbcfg.PropQueryStoreEnabled, since: sql2016, onPrem: true, cloud: true},
	{prop: dbcfg.PropAzureEdition, cloud: true},
	{prop: dbcfg.PropAzureServiceObjective, cloud: true},
	{prop: dbcfg.PropAzureMaxSizeMB, cloud: true},
	{prop: dbcfg.PropAllowSnapshotIsolation, onPrem: true, cloud: true},
	{prop: dbcfg.PropOwner, onPrem: true, cloud: true},

	{prop: dbcfg.PropAutogrowAllFiles, since: sql2016, onPrem: true},
	{prop: dbcfg.PropFileStreamFilegroups, onPrem: true},
	{prop: dbcfg.PropMemoryOptimizedFilegroups, since: sql2014, onPrem: true,
		editions: []string{"Enterprise", "Developer", "Evaluation", "Standard", "Express"}},
}

// capabilitiesFor returns the properties the given server supports.
func capabilitiesFor(v dbcfg.ServerVersion) map[dbcfg.Property]bool {
	out := make(map[dbcfg.Property]bool, len(capabilities))
	for _, c := range capabilities {
		if c.supports(v) {
			out[c.prop] = true
		}
	}
	return out
}

func (c capability) supports(v dbcfg.ServerVersion) bool {
	if v.Cloud {
		return c.cloud
	}
	if !c.onPrem || v.Major < c.since {
		return false
	}
	// TDE reached every edition with SQL Server 2019.
	if c.prop == dbcfg.PropEncryptionEnabled && v.Major >= sql2019 {
		return true
	}
	if len(c.editions) == 0 {
		return true
	}
	for _, e := range c.editions {
		if strings.HasPrefix(v.Edition, e) {
			return true
		}
	}
	return false
}
