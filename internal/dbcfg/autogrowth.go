package dbcfg

import (
	"fmt"
	"math"
)

// Tolerance is the smallest difference in sizes, growth amounts and caps
// that counts as a change.
//
// TODO: the same tolerance applies to kilobyte sizes and percent amounts;
// split it per unit once the engine adapters report sizes in pages.
const Tolerance = 1e-6

// KBToMB converts kilobytes to whole megabytes, rounding up.
func KBToMB(kb float64) float64 {
	return math.Ceil(kb / 1024)
}

// MBToKB converts megabytes to kilobytes.
func MBToKB(mb float64) float64 {
	return mb * 1024
}

// RoundUpToMB rounds a kilobyte value up to the next whole megabyte,
// expressed in kilobytes.
func RoundUpToMB(kb float64) float64 {
	return MBToKB(KBToMB(kb))
}

// differs reports whether a and b differ by more than Tolerance.
func differs(a, b float64) bool {
	return math.Abs(a-b) > Tolerance
}

// AutogrowthPolicy describes how a file grows once it is full.
type AutogrowthPolicy struct {
	IsEnabled          bool
	IsGrowthInPercent  bool
	GrowthInPercent    int
	GrowthInKB         float64
	IsGrowthRestricted bool
	MaximumSizeInKB    float64
}

// DefaultAutogrowth returns the policy used when nothing better is known.
func DefaultAutogrowth() AutogrowthPolicy {
	var p AutogrowthPolicy
	p.Reset()
	return p
}

// Reset restores the fixed defaults: enabled, 10 percent, unrestricted with
// a 100 MB cap value kept for when a restriction is switched on.
func (p *AutogrowthPolicy) Reset() {
	p.IsEnabled = true
	p.IsGrowthInPercent = true
	p.GrowthInPercent = 10
	p.GrowthInKB = MBToKB(1)
	p.IsGrowthRestricted = false
	p.MaximumSizeInKB = MBToKB(100)
}

// NewDataFileAutogrowth reads the growth policy of a data or stream file.
// A failing growth-type lookup is returned to the caller.
func NewDataFileAutogrowth(fh FileHandle) (AutogrowthPolicy, error) {
	info, err := fh.Info()
	if err != nil {
		return AutogrowthPolicy{}, fmt.Errorf("reading file %s: %w", fh.Name(), err)
	}
	gt, err := fh.GrowthType()
	if err != nil {
		return AutogrowthPolicy{}, fmt.Errorf("reading growth type of %s: %w", fh.Name(), err)
	}
	return autogrowthFromInfo(gt, info), nil
}

// NewLogFileAutogrowth reads the growth policy of a log file. Some engines
// fail the growth-type lookup for log files; growth is then reported as
// disabled.
func NewLogFileAutogrowth(fh FileHandle) (AutogrowthPolicy, error) {
	info, err := fh.Info()
	if err != nil {
		return AutogrowthPolicy{}, fmt.Errorf("reading file %s: %w", fh.Name(), err)
	}
	gt, err := fh.GrowthType()
	if err != nil {
		gt = GrowthNone
	}
	return autogrowthFromInfo(gt, info), nil
}

func autogrowthFromInfo(gt GrowthType, info FileInfo) AutogrowthPolicy {
	p := DefaultAutogrowth()

	switch gt {
	case GrowthPercent:
		p.IsEnabled = info.Growth > 0
		p.IsGrowthInPercent = true
		p.GrowthInPercent = int(math.Round(info.Growth))
		if p.GrowthInPercent < 1 {
			p.GrowthInPercent = 1
		}
	case GrowthKB:
		p.IsEnabled = info.Growth > 0
		p.IsGrowthInPercent = false
		if info.Growth > 0 {
			p.GrowthInKB = info.Growth
		}
	default:
		p.IsEnabled = false
	}

	if info.Unrestricted || info.MaxSizeKB <= 0 {
		p.IsGrowthRestricted = false
	} else {
		p.IsGrowthRestricted = true
		p.MaximumSizeInKB = info.MaxSizeKB
	}
	return p
}

// GrowthInMB returns the fixed growth amount in whole megabytes.
func (p AutogrowthPolicy) GrowthInMB() float64 { return KBToMB(p.GrowthInKB) }

// SetGrowthInMB sets the fixed growth amount.
func (p *AutogrowthPolicy) SetGrowthInMB(mb float64) { p.GrowthInKB = MBToKB(mb) }

// MaximumSizeInMB returns the cap in whole megabytes.
func (p AutogrowthPolicy) MaximumSizeInMB() float64 { return KBToMB(p.MaximumSizeInKB) }

// SetMaximumSizeInMB sets the cap.
func (p *AutogrowthPolicy) SetMaximumSizeInMB(mb float64) { p.MaximumSizeInKB = MBToKB(mb) }

// GrowthType returns the engine growth mode this policy maps to.
func (p AutogrowthPolicy) GrowthType() GrowthType {
	switch {
	case !p.IsEnabled:
		return GrowthNone
	case p.IsGrowthInPercent:
		return GrowthPercent
	default:
		return GrowthKB
	}
}

// amount returns the growth amount in the unit of GrowthType.
func (p AutogrowthPolicy) amount() float64 {
	switch p.GrowthType() {
	case GrowthPercent:
		return float64(p.GrowthInPercent)
	case GrowthKB:
		return p.GrowthInKB
	default:
		return 0
	}
}

// capKB returns the cap in KB, 0 meaning unrestricted.
func (p AutogrowthPolicy) capKB() float64 {
	if !p.IsEnabled || !p.IsGrowthRestricted {
		return 0
	}
	return p.MaximumSizeInKB
}

// HasSameValueAs compares only the fields that are in effect: fields of an
// unused mode may hold stale values.
func (p AutogrowthPolicy) HasSameValueAs(other AutogrowthPolicy) bool {
	if p.IsEnabled != other.IsEnabled {
		return false
	}
	if !p.IsEnabled {
		return true
	}
	if p.IsGrowthInPercent != other.IsGrowthInPercent || p.IsGrowthRestricted != other.IsGrowthRestricted {
		return false
	}
	if p.IsGrowthInPercent {
		if p.GrowthInPercent != other.GrowthInPercent {
			return false
		}
	} else if differs(p.GrowthInKB, other.GrowthInKB) {
		return false
	}
	if p.IsGrowthRestricted && differs(p.MaximumSizeInKB, other.MaximumSizeInKB) {
		return false
	}
	return true
}

// Validate checks the fields in effect.
func (p AutogrowthPolicy) Validate() error {
	if !p.IsEnabled {
		return nil
	}
	if p.IsGrowthInPercent && p.GrowthInPercent < 1 {
		return fmt.Errorf("%w: percent growth must be at least 1, got %d", ErrInvalidGrowth, p.GrowthInPercent)
	}
	if !p.IsGrowthInPercent && p.GrowthInKB <= 0 {
		return fmt.Errorf("%w: fixed growth must be positive, got %g KB", ErrInvalidGrowth, p.GrowthInKB)
	}
	if p.IsGrowthRestricted && p.MaximumSizeInKB < 0 {
		return fmt.Errorf("%w: maximum size must not be negative, got %g KB", ErrInvalidGrowth, p.MaximumSizeInKB)
	}
	return nil
}

func (p AutogrowthPolicy) String() string {
	if !p.IsEnabled {
		return "disabled"
	}
	var s string
	if p.IsGrowthInPercent {
		s = fmt.Sprintf("by %d%%", p.GrowthInPercent)
	} else {
		s = fmt.Sprintf("by %g MB", p.GrowthInMB())
	}
	if p.IsGrowthRestricted {
		return s + fmt.Sprintf(", limited to %g MB", p.MaximumSizeInMB())
	}
	return s + ", unlimited"
}
