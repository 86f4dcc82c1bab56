package dbcfg

// featureProperties are capability names that are not scalar settings.
var featureProperties = []Property{
	PropAutogrowAllFiles,
	PropFileStreamFilegroups,
	PropMemoryOptimizedFilegroups,
}

// CapabilitySet records which optional properties the target engine
// supports. It is resolved once when a prototype is built.
type CapabilitySet struct {
	supported map[Property]bool
}

// ResolveCapabilities asks conn about every known property.
func ResolveCapabilities(conn Connection) CapabilitySet {
	cs := CapabilitySet{supported: make(map[Property]bool, len(settings)+len(featureProperties))}
	for _, s := range settings {
		cs.supported[s.prop] = conn.IsSupportedProperty(string(s.prop))
	}
	for _, p := range featureProperties {
		cs.supported[p] = conn.IsSupportedProperty(string(p))
	}
	return cs
}

// NewCapabilitySet builds a set that supports exactly the given properties.
func NewCapabilitySet(props ...Property) CapabilitySet {
	cs := CapabilitySet{supported: make(map[Property]bool, len(props))}
	for _, p := range props {
		cs.supported[p] = true
	}
	return cs
}

// Supports reports whether p may be read from or written to the engine.
func (c CapabilitySet) Supports(p Property) bool {
	return c.supported[p]
}

// Supported returns the supported properties in apply order.
func (c CapabilitySet) Supported() []Property {
	var out []Property
	for _, s := range settings {
		if c.supported[s.prop] {
			out = append(out, s.prop)
		}
	}
	for _, p := range featureProperties {
		if c.supported[p] {
			out = append(out, p)
		}
	}
	return out
}
