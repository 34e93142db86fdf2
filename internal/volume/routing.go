package volume

// streamToContext is the static logical stream to car context table.
var streamToContext = map[Stream]Context{
	StreamMedia:        ContextMusic,
	StreamNavigation:   ContextNavigation,
	StreamVoiceCall:    ContextVoiceCall,
	StreamRing:         ContextRingtone,
	StreamAlarm:        ContextAlarm,
	StreamNotification: ContextNotification,
	StreamSystem:       ContextSystemSound,
	StreamSafety:       ContextSafetyAlert,
}

// contextToStream is the inverse table, used when a focused context
// must be acted on as a logical stream.
var contextToStream = map[Context]Stream{
	ContextMusic:        StreamMedia,
	ContextNavigation:   StreamNavigation,
	ContextVoiceCall:    StreamVoiceCall,
	ContextRingtone:     StreamRing,
	ContextAlarm:        StreamAlarm,
	ContextNotification: StreamNotification,
	ContextSystemSound:  StreamSystem,
	ContextSafetyAlert:  StreamSafety,
}

// ContextForStream maps a logical stream to its car audio context.
// Streams outside the catalog route to DefaultContext.
func ContextForStream(s Stream) Context {
	if c, ok := streamToContext[s]; ok {
		return c
	}
	return DefaultContext
}

// StreamForContext maps a car audio context back to the logical stream
// that feeds it. Contexts outside the catalog map to the default
// context's stream.
func StreamForContext(c Context) Stream {
	if s, ok := contextToStream[c]; ok {
		return s
	}
	return contextToStream[DefaultContext]
}

// RoutingPolicy maps car audio contexts onto hardware output channels.
//
// The policy is fixed at construction from the channel layout the
// vehicle announces. Contexts absent from every channel mask route to
// physical stream 0.
type RoutingPolicy struct {
	contextToPhysical map[Context]PhysicalStream
	physicalCount     int
}

// NewRoutingPolicy builds a policy from per-channel context masks.
// Index i of masks describes which contexts physical stream i carries.
// An empty slice yields the single-channel default policy.
func NewRoutingPolicy(masks []ContextMask) *RoutingPolicy {
	if len(masks) == 0 {
		return DefaultRoutingPolicy()
	}

	p := &RoutingPolicy{
		contextToPhysical: make(map[Context]PhysicalStream),
		physicalCount:     len(masks),
	}
	for i, mask := range masks {
		for _, c := range allContexts() {
			if mask.Has(c) {
				// First channel claiming a context wins.
				if _, taken := p.contextToPhysical[c]; !taken {
					p.contextToPhysical[c] = PhysicalStream(i)
				}
			}
		}
	}
	return p
}

// DefaultRoutingPolicy returns the single-channel policy: every
// context plays on physical stream 0.
func DefaultRoutingPolicy() *RoutingPolicy {
	p := &RoutingPolicy{
		contextToPhysical: make(map[Context]PhysicalStream),
		physicalCount:     1,
	}
	for _, c := range allContexts() {
		p.contextToPhysical[c] = 0
	}
	return p
}

// PhysicalForContext returns the hardware channel carrying a context.
// Unmapped contexts fall back to physical stream 0.
func (p *RoutingPolicy) PhysicalForContext(c Context) PhysicalStream {
	if ps, ok := p.contextToPhysical[c]; ok {
		return ps
	}
	return 0
}

// PhysicalStreamCount returns the number of hardware channels the
// policy knows about.
func (p *RoutingPolicy) PhysicalStreamCount() int {
	return p.physicalCount
}

// allContexts returns the context catalog in bit order.
func allContexts() []Context {
	return []Context{
		ContextMusic,
		ContextNavigation,
		ContextVoiceCall,
		ContextRingtone,
		ContextAlarm,
		ContextNotification,
		ContextSystemSound,
		ContextSafetyAlert,
	}
}
