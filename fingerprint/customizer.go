// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

// ConfigParams carries the per-connection inputs the config-resolve phase
// consumes: which target is being dialed and which template/rotation
// policy should govern it (§4.5).
type ConfigParams struct {
	Target      TargetKey
	TemplateID  string // empty means "let the roller decide"
	SessionID   SessionID
	Level       RandomizationLevel
}

// ClientHelloPlan is the resolved, concrete per-connection output the
// customizer pipeline hands to the host stack's wire-encoding step: the
// chosen template, its randomized extension order, cipher suites and
// padding length (§4.5, struct-ready phase).
type ClientHelloPlan struct {
	Template       *Template
	ExtensionOrder []uint16
	CipherSuites   []uint16
	PaddingLength  uint16
}

// Customizer is the four-phase extension point the pipeline calls in order
// for every handshake (§4.5). Implementations that don't care about a given
// phase should return nil immediately; CustomizerChain treats a nil error
// identically to a no-op.
type Customizer interface {
	// OnConfigResolve may replace or adjust params before template
	// selection happens.
	OnConfigResolve(params *ConfigParams) error
	// OnComponentsReady is called once the Template, RandomizationEngine,
	// and session state are all constructed but before randomization runs.
	OnComponentsReady(template *Template, session *SessionState) error
	// OnStructReady is called once ClientHelloPlan is fully populated, but
	// before it is encoded to wire bytes.
	OnStructReady(plan *ClientHelloPlan) error
	// OnTransformWireBytes may rewrite the fully encoded ClientHello bytes
	// as a last resort (used for byte-level quirks no structured field
	// captures).
	OnTransformWireBytes(wire []byte) ([]byte, error)
}

// NoopCustomizer implements Customizer with every phase a no-op, so callers
// can embed it and override only the phases they need.
type NoopCustomizer struct{}

func (NoopCustomizer) OnConfigResolve(*ConfigParams) error                 { return nil }
func (NoopCustomizer) OnComponentsReady(*Template, *SessionState) error    { return nil }
func (NoopCustomizer) OnStructReady(*ClientHelloPlan) error                { return nil }
func (NoopCustomizer) OnTransformWireBytes(wire []byte) ([]byte, error)    { return wire, nil }

// CustomizerChain runs an ordered list of Customizers through every phase,
// mirroring the teacher's HookChain. An error from a phase whose Kind is
// Kind.Absorbed() is swallowed (the chain continues with the input
// unchanged); any other error aborts the chain immediately.
type CustomizerChain struct {
	customizers []Customizer
}

// NewCustomizerChain returns a chain that runs cs in order.
func NewCustomizerChain(cs ...Customizer) *CustomizerChain {
	return &CustomizerChain{customizers: cs}
}

func (c *CustomizerChain) OnConfigResolve(params *ConfigParams) error {
	for _, cust := range c.customizers {
		if err := absorb(cust.OnConfigResolve(params)); err != nil {
			return err
		}
	}
	return nil
}

func (c *CustomizerChain) OnComponentsReady(t *Template, s *SessionState) error {
	for _, cust := range c.customizers {
		if err := absorb(cust.OnComponentsReady(t, s)); err != nil {
			return err
		}
	}
	return nil
}

func (c *CustomizerChain) OnStructReady(plan *ClientHelloPlan) error {
	for _, cust := range c.customizers {
		if err := absorb(cust.OnStructReady(plan)); err != nil {
			return err
		}
	}
	return nil
}

func (c *CustomizerChain) OnTransformWireBytes(wire []byte) ([]byte, error) {
	cur := wire
	for _, cust := range c.customizers {
		next, err := cust.OnTransformWireBytes(cur)
		if err != nil {
			if IsKind(err, ErrKindCache) || IsKind(err, ErrKindRandomizationDegraded) {
				continue
			}
			return cur, err
		}
		cur = next
	}
	return cur, nil
}

func absorb(err error) error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*FingerprintError); ok && fe.Kind.Absorbed() {
		return nil
	}
	return err
}

// DefaultCustomizer is the built-in orchestrator that resolves a Template
// (via an optional TemplateRoller, falling back to the FingerprintCache's
// best-known working template, falling back to an explicit
// ConfigParams.TemplateID), applies the RandomizationEngine, and validates
// the result, running any caller-supplied Customizer around those phases
// (§4.5 "Default orchestrator behavior").
type DefaultCustomizer struct {
	Store    *TemplateStore
	Roller   *TemplateRoller
	Cache    *FingerprintCache
	Sessions *SessionStateTracker
	RNG      PRNG
	Hooks    Customizer // may be nil
}

// NewDefaultCustomizer wires together the default process-wide components.
func NewDefaultCustomizer() *DefaultCustomizer {
	return &DefaultCustomizer{
		Store:    DefaultStore,
		Cache:    DefaultCache,
		Sessions: NewSessionStateTracker(10000),
		RNG:      NewXorshift64PRNG(0),
		Hooks:    NoopCustomizer{},
	}
}

// BuildPlan runs the full pipeline for one handshake and returns the
// resolved ClientHelloPlan.
func (d *DefaultCustomizer) BuildPlan(params ConfigParams) (*ClientHelloPlan, *SessionState, error) {
	if err := d.hooks().OnConfigResolve(&params); err != nil {
		return nil, nil, err
	}

	templateID := params.TemplateID
	var cached *ClientHelloConfig
	if templateID == "" {
		if cfg, ok := d.Cache.GetWorkingFingerprint(params.Target); ok {
			cached = cfg
			templateID = cfg.TemplateID
		} else if d.Roller != nil {
			templateID = d.Roller.Next()
		} else {
			templateID = TemplateChromeLike
		}
	}

	template, err := d.Store.Get(templateID)
	if err != nil {
		return nil, nil, err
	}

	// Replaying a cached seed through the PRNG before the randomization
	// engine runs reproduces the same cipher-suite and extension order
	// (§4.4 variation-on-read). With no cached seed, draw a fresh one from
	// the RNG's own sequence and reseed from it, so the seed captured below
	// is the exact one the engine actually ran on.
	var seed uint64
	if cached != nil && cached.Seed != 0 {
		seed = cached.Seed
	} else {
		seed = d.RNG.NextUint64()
	}
	d.RNG.Reseed(seed)

	var session *SessionState
	if params.SessionID != "" {
		session, _ = d.Sessions.GetOrCreate(params.SessionID, templateID)
		if err := ValidateResumptionConsistency(session, templateID); err != nil {
			return nil, nil, err
		}
	}

	if err := d.hooks().OnComponentsReady(template, session); err != nil {
		return nil, nil, err
	}

	engine := NewRandomizationEngine(params.Level, NaturalnessFilter{}, d.RNG)
	extOrder, randErr := engine.RandomizeExtensionOrder(template)
	if randErr != nil && !IsKind(randErr, ErrKindRandomizationDegraded) {
		return nil, nil, randErr
	}

	plan := &ClientHelloPlan{
		Template:       template,
		ExtensionOrder: extOrder,
		CipherSuites:   engine.RandomizeCipherSuites(template),
		PaddingLength:  engine.RandomizePadding(template),
	}

	if err := d.hooks().OnStructReady(plan); err != nil {
		return nil, nil, err
	}

	if session != nil && !session.Established {
		session.MarkEstablished(extensionGREASEValuesUsed(plan))
	} else if session != nil {
		session.RecordResumption()
	}

	d.Cache.StoreClientHelloConfig(params.Target, clientHelloConfigFromPlan(plan, seed))

	return plan, session, nil
}

// clientHelloConfigFromPlan captures the resolved plan's replayable state
// (§3, §4.4): the final cipher-suite and extension order, the opaque
// per-extension wire payload the pipeline will encode, where GREASE values
// landed in ExtensionOrder, the padding length used, and the seed that drove
// the randomization, so a later cache hit can reproduce this exact plan.
func clientHelloConfigFromPlan(plan *ClientHelloPlan, seed uint64) *ClientHelloConfig {
	byType := make(map[uint16]ExtensionEntry, len(plan.Template.Extensions))
	for _, e := range plan.Template.Extensions {
		byType[e.Type] = e
	}
	data := make(map[uint16][]byte, len(plan.ExtensionOrder))
	for _, t := range plan.ExtensionOrder {
		if IsGREASEValue(t) {
			continue
		}
		data[t] = dataForExtension(byType[t], plan)
	}
	return &ClientHelloConfig{
		TemplateID:      plan.Template.ID,
		CipherSuites:    plan.CipherSuites,
		ExtensionOrder:  plan.ExtensionOrder,
		ExtensionData:   data,
		GREASEPositions: GREASEPositionsOf(plan.ExtensionOrder),
		PaddingLength:   plan.PaddingLength,
		Seed:            seed,
	}
}

// RecordOutcome reports a completed handshake's success/failure back to the
// cache, for future GetWorkingFingerprint lookups.
func (d *DefaultCustomizer) RecordOutcome(target TargetKey, templateID string, success bool) {
	d.Cache.RecordResult(target, templateID, success)
}

func (d *DefaultCustomizer) hooks() Customizer {
	if d.Hooks == nil {
		return NoopCustomizer{}
	}
	return d.Hooks
}

func extensionGREASEValuesUsed(plan *ClientHelloPlan) []uint16 {
	var out []uint16
	for _, t := range plan.ExtensionOrder {
		if IsGREASEValue(t) {
			out = append(out, t)
		}
	}
	return out
}
