package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/incident-map-service/internal/domain"
	"github.com/couchcryptid/incident-map-service/internal/hub"
	"github.com/couchcryptid/incident-map-service/internal/pipeline"
)

func freezeClock(t *testing.T) time.Time {
	t.Helper()
	at := time.Date(2025, time.March, 1, 9, 30, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(at))
	t.Cleanup(func() { domain.SetClock(nil) })
	return at
}

func TestIngestor_Ingest_PointIncident(t *testing.T) {
	at := freezeClock(t)
	loc := &stubLocator{result: &domain.Point{Lat: 44.847, Lng: 65.522}}
	pub := &stubPublisher{reach: 2}
	mirror := &stubMirror{}
	m := newTestMetrics()

	ing := pipeline.NewIngestor(drafting(map[string]any{
		"location":   "улица Коркыт Ата",
		"event_type": "repair",
		"severity":   "low",
		"duration":   "3 hours",
	}), loc, pub, mirror, discardLogger(), m)

	res, err := ing.Ingest(context.Background(), "Ремонт водопровода на улице Коркыт Ата", domain.ManualProvenance)
	require.NoError(t, err)

	inc := res.Incident
	assert.Equal(t, 2, res.Delivered)
	assert.NotEmpty(t, inc.ID)
	assert.Equal(t, domain.EventRepair, inc.Type)
	assert.Equal(t, domain.PointAt(44.847, 65.522), inc.Coordinates)
	assert.Equal(t, "улица Коркыт Ата", inc.LocationLabel)
	assert.Equal(t, "Repair works: улица Коркыт Ата", inc.Title)
	assert.Equal(t, "3 hours", inc.Duration)
	assert.Equal(t, domain.ManualProvenance, inc.ReportedBy)
	assert.Equal(t, domain.StatusOngoing, inc.Status)
	assert.Equal(t, at, inc.Timestamp)

	assert.Equal(t, []domain.Incident{inc}, pub.incidents())
	assert.Equal(t, []domain.Incident{inc}, mirror.mirrored)
	assert.InDelta(t, 1, testutil.ToFloat64(m.IncidentsTotal.WithLabelValues("repair")), 0)
}

func TestIngestor_Ingest_UsesApproxCoordinatesAsFallback(t *testing.T) {
	freezeClock(t)
	loc := &stubLocator{useFallback: true}
	pub := &stubPublisher{}

	ing := pipeline.NewIngestor(drafting(map[string]any{
		"location":    "район вокзала",
		"coordinates": map[string]any{"lat": 44.86, "lng": 65.48},
	}), loc, pub, nil, discardLogger(), newTestMetrics())

	res, err := ing.Ingest(context.Background(), "Пожар в районе вокзала", "tg:kzo_news")
	require.NoError(t, err)
	assert.Equal(t, domain.PointAt(44.86, 65.48), res.Incident.Coordinates)
	assert.Equal(t, domain.EventEmergency, res.Incident.Type)
	assert.Equal(t, "tg:kzo_news", res.Incident.ReportedBy)
}

func TestIngestor_Ingest_LocationLess(t *testing.T) {
	freezeClock(t)
	ing := pipeline.NewIngestor(drafting(map[string]any{}), &stubLocator{useFallback: true},
		&stubPublisher{}, nil, discardLogger(), newTestMetrics())

	res, err := ing.Ingest(context.Background(), "Что-то случилось в городе", domain.ManualProvenance)
	require.NoError(t, err)

	assert.False(t, res.Incident.Coordinates.Located())
	require.NoError(t, res.Incident.Coordinates.Validate())
	assert.Equal(t, "Emergency", res.Incident.Title)
}

func TestIngestor_Ingest_RoadWorkPathSkipsGeocoding(t *testing.T) {
	freezeClock(t)
	loc := &stubLocator{result: &domain.Point{Lat: 44.8, Lng: 65.5}}

	ing := pipeline.NewIngestor(drafting(map[string]any{
		"location":   "улица Абая",
		"event_type": "road_work",
		"path":       []any{[]any{44.84, 65.50}, []any{44.85, 65.52}},
	}), loc, &stubPublisher{}, nil, discardLogger(), newTestMetrics())

	res, err := ing.Ingest(context.Background(), "Ремонт дороги на улице Абая", domain.ManualProvenance)
	require.NoError(t, err)

	assert.True(t, res.Incident.Coordinates.IsLine())
	assert.Equal(t, [][2]float64{{44.84, 65.50}, {44.85, 65.52}}, res.Incident.Coordinates.Polyline)
	assert.Zero(t, loc.calls)
}

func TestIngestor_Ingest_EmptyText(t *testing.T) {
	pub := &stubPublisher{}
	ing := pipeline.NewIngestor(drafting(nil), &stubLocator{}, pub, nil, discardLogger(), newTestMetrics())

	for _, text := range []string{"", "  \n\t "} {
		_, err := ing.Ingest(context.Background(), text, domain.ManualProvenance)
		require.ErrorIs(t, err, domain.ErrEmptyText)
	}
	assert.Empty(t, pub.incidents())
}

func TestIngestor_Ingest_ParseFailurePublishesNothing(t *testing.T) {
	pub := &stubPublisher{}
	loc := &stubLocator{}
	m := newTestMetrics()
	ing := pipeline.NewIngestor(pipeline.NewDraftParser(&stubExtractor{err: errors.New("timeout")}),
		loc, pub, nil, discardLogger(), m)

	_, err := ing.Ingest(context.Background(), "Авария на улице Абая", domain.ManualProvenance)

	var pf *domain.ParseFailure
	require.ErrorAs(t, err, &pf)
	assert.Empty(t, pub.incidents())
	assert.Zero(t, loc.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ParseFailures), 0)
}

func TestIngestor_Ingest_MirrorFailureIsAbsorbed(t *testing.T) {
	freezeClock(t)
	m := newTestMetrics()
	ing := pipeline.NewIngestor(drafting(map[string]any{"location": "улица Абая"}),
		&stubLocator{useFallback: true}, &stubPublisher{reach: 1},
		&stubMirror{err: errors.New("broker down")}, discardLogger(), m)

	res, err := ing.Ingest(context.Background(), "Авария на улице Абая", domain.ManualProvenance)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.InDelta(t, 1, testutil.ToFloat64(m.MirrorErrors), 0)
}

func TestIngestor_DistinctIDs(t *testing.T) {
	ing := pipeline.NewIngestor(drafting(map[string]any{}), &stubLocator{useFallback: true},
		&stubPublisher{}, nil, discardLogger(), newTestMetrics())

	seen := make(map[string]bool)
	for range 50 {
		res, err := ing.Ingest(context.Background(), "Авария на улице Абая", domain.ManualProvenance)
		require.NoError(t, err)
		require.False(t, seen[res.Incident.ID], "duplicate id %s", res.Incident.ID)
		seen[res.Incident.ID] = true
	}
}

// End-to-end through the real resolver and hub: one connected subscriber
// receives the geocoded incident. The report names no incident type, so the
// draft defaults to emergency.
func TestIngest_EndToEnd_KorkytAta(t *testing.T) {
	freezeClock(t)
	m := newTestMetrics()

	geo := &stubGeocoder{result: domain.GeocodingResult{Lat: 44.847, Lon: 65.522}}
	resolver := pipeline.NewResolver(geo, pipeline.ResolverConfig{
		Qualifier: "Кызылорда, Казахстан",
		Bounds:    kyzylorda,
		Budget:    time.Second,
	}, nil, m, discardLogger())

	h := hub.New(time.Second, discardLogger(), m)
	sub := &hubSubscriber{}
	h.Subscribe(sub)

	ing := pipeline.NewIngestor(drafting(map[string]any{
		"location": "улица Коркыт Ата",
	}), resolver, h, nil, discardLogger(), m)

	res, err := ing.Ingest(context.Background(), "На улице Коркыт Ата произошел пожар", domain.ManualProvenance)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, domain.EventEmergency, res.Incident.Type)
	assert.Equal(t, domain.PointAt(44.847, 65.522), res.Incident.Coordinates)
	assert.Equal(t, []string{"улица Коркыт Ата, Кызылорда, Казахстан"}, geo.seen())
	require.Len(t, sub.messages(), 1)
	assert.Equal(t, res.Incident.ID, sub.messages()[0].ID)
	assert.Contains(t, string(sub.messages()[0].Data), `"type":"new_incident"`)
}

// A submitter that hangs up mid-ingestion must not disconnect live viewers.
func TestIngest_CancelledSubmitterKeepsViewers(t *testing.T) {
	freezeClock(t)
	m := newTestMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolver := pipeline.NewResolver(&stubGeocoder{block: true}, pipeline.ResolverConfig{
		Bounds: kyzylorda,
		Budget: time.Second,
	}, nil, m, discardLogger())

	h := hub.New(time.Second, discardLogger(), m)
	viewers := make([]*hubSubscriber, 3)
	for i := range viewers {
		viewers[i] = &hubSubscriber{}
		h.Subscribe(viewers[i])
	}

	parser := pipeline.NewDraftParser(&cancellingExtractor{
		fields: map[string]any{"location": "улица Коркыт Ата"},
		cancel: cancel,
	})
	ing := pipeline.NewIngestor(parser, resolver, h, nil, discardLogger(), m)

	res, err := ing.Ingest(ctx, "На улице Коркыт Ата произошел пожар", domain.ManualProvenance)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Delivered)
	assert.Equal(t, 3, h.Len())
	for _, v := range viewers {
		assert.False(t, v.isClosed())
		assert.Len(t, v.messages(), 1)
	}
}

// cancellingExtractor returns its fields and then cancels the caller's
// context, as when an HTTP client disconnects after the AI call.
type cancellingExtractor struct {
	fields map[string]any
	cancel context.CancelFunc
}

func (e *cancellingExtractor) Extract(_ context.Context, _ string) (map[string]any, error) {
	e.cancel()
	return e.fields, nil
}

// hubSubscriber fails sends on a done context, like the live transports.
type hubSubscriber struct {
	mu     sync.Mutex
	got    []hub.Message
	closed bool
}

func (s *hubSubscriber) Send(ctx context.Context, msg hub.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return nil
}

func (s *hubSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *hubSubscriber) messages() []hub.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]hub.Message(nil), s.got...)
}

func (s *hubSubscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
