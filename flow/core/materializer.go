package core

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Settings holds the tunables of a Materializer.
type Settings struct {
	// InitialInputBufferSize and MaxInputBufferSize size the buffer in front
	// of every async boundary. Stages can override them with InputBuffer.
	InitialInputBufferSize int `mapstructure:"initial-input-buffer-size"`
	MaxInputBufferSize     int `mapstructure:"max-input-buffer-size"`

	// SubscriptionTimeout bounds how long a materialized publisher waits for
	// its subscriber. Zero disables the timeout.
	SubscriptionTimeout time.Duration `mapstructure:"subscription-timeout"`

	// Dispatcher is recorded in stage logs.
	Dispatcher string `mapstructure:"dispatcher"`
}

// DefaultSettings returns the settings used when none are given.
func DefaultSettings() Settings {
	return Settings{
		InitialInputBufferSize: 4,
		MaxInputBufferSize:     16,
		SubscriptionTimeout:    5 * time.Second,
		Dispatcher:             "default",
	}
}

// Validate checks the settings for consistency.
func (s Settings) Validate() error {
	if s.InitialInputBufferSize <= 0 {
		return &ArgumentError{Arg: "initial-input-buffer-size", Reason: "must be positive"}
	}
	if s.MaxInputBufferSize < s.InitialInputBufferSize {
		return &ArgumentError{Arg: "max-input-buffer-size", Reason: "must not be smaller than the initial size"}
	}
	if s.SubscriptionTimeout < 0 {
		return &ArgumentError{Arg: "subscription-timeout", Reason: "must not be negative"}
	}
	return nil
}

// MaterializerOption configures a Materializer.
type MaterializerOption func(*Materializer)

// WithSettings replaces the default settings.
func WithSettings(s Settings) MaterializerOption {
	return func(m *Materializer) { m.settings = s }
}

// WithLogger sets the logger stages derive their loggers from.
func WithLogger(log *zap.Logger) MaterializerOption {
	return func(m *Materializer) { m.log = log }
}

// WithMeterProvider records engine metrics with the given provider.
func WithMeterProvider(mp metric.MeterProvider) MaterializerOption {
	return func(m *Materializer) { m.meterProvider = mp }
}

// WithEventSink sets where log-publishing stages write to. It defaults to the
// materializer logger.
func WithEventSink(sink EventSink) MaterializerOption {
	return func(m *Materializer) { m.sink = sink }
}

// WithName names the materializer in logs and metrics.
func WithName(name string) MaterializerOption {
	return func(m *Materializer) { m.name = name }
}

// WithDefaultDecider sets the supervision decider used by stages that have
// none in their attributes.
func WithDefaultDecider(decider Decider) MaterializerOption {
	return func(m *Materializer) { m.decider = decider }
}

type engineMetrics struct {
	materializations metric.Int64Counter
	islands          metric.Int64UpDownCounter
	failures         metric.Int64Counter
	boundaryElements metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) (*engineMetrics, error) {
	var em engineMetrics
	var err error
	if em.materializations, err = meter.Int64Counter("flow.materializations",
		metric.WithDescription("number of graphs materialized")); err != nil {
		return nil, err
	}
	if em.islands, err = meter.Int64UpDownCounter("flow.islands.active",
		metric.WithDescription("number of running islands")); err != nil {
		return nil, err
	}
	if em.failures, err = meter.Int64Counter("flow.stage.failures",
		metric.WithDescription("number of stages that failed")); err != nil {
		return nil, err
	}
	if em.boundaryElements, err = meter.Int64Counter("flow.boundary.elements",
		metric.WithDescription("elements crossing async boundaries")); err != nil {
		return nil, err
	}
	return &em, nil
}

// Materializer turns graph blueprints into running streams. All streams run
// by one materializer share its lifetime: Shutdown aborts every one of them.
type Materializer struct {
	name          string
	ctx           context.Context
	cancel        context.CancelFunc
	settings      Settings
	log           *zap.Logger
	sink          EventSink
	decider       Decider
	meterProvider metric.MeterProvider
	metrics       *engineMetrics
	attrs         metric.MeasurementOption
	defaults      Attributes
	wg            conc.WaitGroup
	islandSeq     atomic.Int64
	shutdown      atomic.Bool
}

// NewMaterializer creates a materializer whose streams stop when ctx is done
// or Shutdown is called.
func NewMaterializer(ctx context.Context, opts ...MaterializerOption) (*Materializer, error) {
	m := &Materializer{
		name:     "flow",
		settings: DefaultSettings(),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.settings.Validate(); err != nil {
		return nil, err
	}
	if m.meterProvider == nil {
		m.meterProvider = noop.NewMeterProvider()
	}
	metrics, err := newEngineMetrics(m.meterProvider.Meter("github.com/lguimbarda/reactive-flow"))
	if err != nil {
		return nil, fmt.Errorf("create engine metrics: %w", err)
	}
	m.metrics = metrics
	m.attrs = metric.WithAttributes(attribute.String("materializer", m.name))
	m.log = m.log.With(zap.String("materializer", m.name))
	if m.sink == nil {
		m.sink = NewZapEventSink(m.log)
	}
	m.defaults = NewAttributes(InputBuffer{
		Initial: m.settings.InitialInputBufferSize,
		Max:     m.settings.MaxInputBufferSize,
	})
	if m.settings.Dispatcher != "" {
		m.defaults = m.defaults.With(Dispatcher(m.settings.Dispatcher))
	}
	if m.decider != nil {
		m.defaults = m.defaults.With(SupervisionStrategy{Decider: m.decider})
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	return m, nil
}

// Settings returns the effective settings.
func (m *Materializer) Settings() Settings { return m.settings }

// Logger returns the materializer logger.
func (m *Materializer) Logger() *zap.Logger { return m.log }

// MeterProvider returns the provider stages create their instruments from.
func (m *Materializer) MeterProvider() metric.MeterProvider { return m.meterProvider }

// Shutdown aborts every running stream. Open materialized values fail with
// AbruptTerminationError. It does not wait; use Wait for that.
func (m *Materializer) Shutdown() {
	if m.shutdown.CompareAndSwap(false, true) {
		m.log.Debug("materializer shutting down")
	}
	m.cancel()
}

// IsShutdown reports whether the materializer stopped accepting graphs.
func (m *Materializer) IsShutdown() bool {
	return m.shutdown.Load() || m.ctx.Err() != nil
}

// Wait blocks until every island started by this materializer has stopped,
// along with the goroutines its stages started through Logic.Go.
func (m *Materializer) Wait() {
	m.wg.Wait()
}

// Run materializes g and returns its materialized value.
func Run[M any](g Graph[ClosedShape, M], m *Materializer) (M, error) {
	var zero M
	if g.mod == nil {
		return zero, &ArgumentError{Arg: "graph", Reason: "graph is empty"}
	}
	vals, err := m.materialize(g.mod, g.top)
	if err != nil {
		return zero, err
	}
	return g.mat(vals), nil
}

type portLoc struct {
	atom int
	idx  int
}

func (m *Materializer) materialize(mod *module, top Attributes) ([]any, error) {
	if m.IsShutdown() {
		return nil, ErrMaterializerClosed
	}

	inLoc := make(map[*port]portLoc)
	outLoc := make(map[*port]portLoc)
	for i, a := range mod.atoms {
		for j, p := range a.ins {
			inLoc[p] = portLoc{i, j}
		}
		for j, p := range a.outs {
			outLoc[p] = portLoc{i, j}
		}
	}
	connected := make(map[*port]bool, len(inLoc)+len(outLoc))
	for _, e := range mod.edges {
		connected[e.from] = true
		connected[e.to] = true
	}
	for _, a := range mod.atoms {
		for _, ports := range [][]*port{a.ins, a.outs} {
			for _, p := range ports {
				if !connected[p] {
					return nil, &ArgumentError{Arg: p.String(), Reason: fmt.Sprintf("port of %s is not connected", stageName(a))}
				}
			}
		}
	}

	runID := uuid.NewString()
	log := m.log.With(zap.String("run", runID))

	n := len(mod.atoms)
	logics := make([]*Logic, n)
	shapes := make([]Shape, n)
	vals := make([]any, n)
	islandOf := make([]*island, n)
	islands := make(map[*layer]*island)
	var order []*island

	for i, a := range mod.atoms {
		attrs := m.defaults.And(top)
		var key *layer
		for _, ly := range a.layers {
			attrs = attrs.And(ly.attrs)
			if ly.attrs.Contains(AsyncBoundary{}.AttributeKey()) {
				key = ly
			}
		}
		is, ok := islands[key]
		if !ok {
			is = newIsland(m.islandSeq.Add(1), m, log)
			islands[key] = is
			order = append(order, is)
		}
		shapes[i] = a.stage.Shape()
		l, v, err := createLogic(a.stage, attrs)
		if err != nil {
			return nil, fmt.Errorf("create logic for %s: %w", stageName(a), err)
		}
		m.setup(l, attrs, stageName(a), is)
		logics[i], vals[i], islandOf[i] = l, v, is
	}

	for _, e := range mod.edges {
		up, down := outLoc[e.from], inLoc[e.to]
		upLogic, downLogic := logics[up.atom], logics[down.atom]
		upPort := shapes[up.atom].Outlets()[up.idx].outlet()
		downPort := shapes[down.atom].Inlets()[down.idx].inlet()
		upIsland, downIsland := islandOf[up.atom], islandOf[down.atom]
		if upIsland == downIsland {
			upIsland.connect(upLogic, upPort, downLogic, downPort)
			continue
		}
		buf := GetAttributeOr(downLogic.attrs, InputBuffer{Initial: m.settings.InitialInputBufferSize, Max: m.settings.MaxInputBufferSize})
		pub := newPublisherStage[any](0, nil)
		pub.internal = true
		pl := pub.build()
		m.setup(pl.Logic, m.defaults, upLogic.name+".boundary-out", upIsland)
		upIsland.connect(upLogic, upPort, pl.Logic, pub.shape.In.p)

		sub := newSubscriberStage[any](pl, buf.Max)
		sl := sub.build(buf.Max)
		m.setup(sl.Logic, m.defaults, downLogic.name+".boundary-in", downIsland)
		downIsland.connect(sl.Logic, sub.shape.Out.p, downLogic, downPort)
	}

	m.metrics.materializations.Add(context.Background(), 1, m.attrs)
	log.Debug("materialized graph", zap.Int("stages", n), zap.Int("islands", len(order)))
	for _, is := range order {
		m.wg.Go(is.run)
	}
	return vals, nil
}

func createLogic(stage Stage, attrs Attributes) (l *Logic, v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = NewPanicError(r)
		}
	}()
	l, v = stage.CreateLogic(attrs)
	if l == nil {
		return nil, nil, &ArgumentError{Arg: "logic", Reason: "stage created no logic"}
	}
	return l, v, nil
}

func (m *Materializer) setup(l *Logic, attrs Attributes, name string, is *island) {
	l.attrs = attrs
	l.name = name
	l.logger = is.log.With(zap.String("stage", name))
	l.ctx, l.cancelCtx = context.WithCancel(m.ctx)
	is.attach(l)
}

func (m *Materializer) islandStarted(is *island) {
	m.metrics.islands.Add(context.Background(), 1, m.attrs)
	is.log.Debug("island started", zap.Int("stages", len(is.logics)))
}

func (m *Materializer) islandStopped(is *island) {
	m.metrics.islands.Add(context.Background(), -1, m.attrs)
	is.log.Debug("island stopped")
}

func (m *Materializer) recordFailure(l *Logic, err error) {
	if isAbrupt(err) {
		return
	}
	m.metrics.failures.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("materializer", m.name), attribute.String("stage", l.name)))
}

func (m *Materializer) recordBoundaryElement() {
	m.metrics.boundaryElements.Add(context.Background(), 1, m.attrs)
}
