// Package registry keeps every known carrier contract in memory. File-backed
// carriers are loaded from a directory of UTSF documents; carriers that exist
// only in the document store are merged in through an optional Loader so the
// quoting path never has to ask which store a carrier lives in.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shipkaro/freightrate"
	"github.com/shipkaro/freightrate/pkg/carrier"
	"github.com/shipkaro/freightrate/pkg/geo"
	"github.com/shipkaro/freightrate/pkg/pricing"
	"github.com/shipkaro/freightrate/pkg/utils"
)

const (
	subsystem       = "registry"
	fileSuffix      = ".utsf.json"
	maxAuditEntries = 20
)

var (
	ErrUnknownCarrier = errors.New("unknown carrier")
	ErrNotServiceable = errors.New("route not serviceable")
	ErrNotFileBacked  = errors.New("carrier has no backing file")
)

var (
	carriersDesc = utils.GenerateDesc(
		freightrate.MetricPrefix,
		subsystem,
		"carriers",
		"Number of carriers currently loaded, by source.",
		[]string{"source"},
	)
	reloadsDesc = utils.GenerateDesc(
		freightrate.MetricPrefix,
		subsystem,
		"reloads_total",
		"Number of registry reloads, by status.",
		[]string{"status"},
	)
)

// Loader supplies carriers that live only in the document store.
type Loader interface {
	CarrierFiles(ctx context.Context) ([]*carrier.File, error)
}

// Persister mirrors registry writes into the document store.
type Persister interface {
	UpsertCarrierDoc(ctx context.Context, f *carrier.File) error
	DeleteCarrierDoc(ctx context.Context, id string) error
}

// Invalidator drops cached quote results after a carrier mutation.
type Invalidator interface {
	InvalidateQuotes(ctx context.Context) error
}

type Config struct {
	Dir    string
	Zones  *geo.ZoneIndex
	Logger *slog.Logger

	// Loader, Persister and Invalidator are optional; a nil value disables
	// the corresponding integration.
	Loader      Loader
	Persister   Persister
	Invalidator Invalidator

	// RefreshInterval enables a background reload ticker when positive.
	RefreshInterval time.Duration
}

type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.RWMutex
	entries       map[string]*Entry
	reloadsOK     float64
	reloadsFailed float64
}

// New builds a registry and runs the initial load synchronously so callers
// can quote as soon as it returns. With RefreshInterval set, a goroutine
// reloads on a ticker until ctx is cancelled.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.Zones == nil {
		return nil, errors.New("registry: zone index is required")
	}
	logger := cfg.Logger.With("subsystem", subsystem)
	r := &Registry{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*Entry),
	}

	if err := r.Reload(ctx); err != nil {
		return nil, fmt.Errorf("initial carrier load: %w", err)
	}

	if cfg.RefreshInterval > 0 {
		ticker := time.NewTicker(cfg.RefreshInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := r.Reload(ctx); err != nil {
						logger.LogAttrs(ctx, slog.LevelError, "background reload failed",
							slog.String("err", err.Error()))
					}
				}
			}
		}()
	}

	return r, nil
}

// Reload rebuilds the whole carrier set from disk and the document store,
// then swaps it in atomically. A broken file or an unreachable store never
// tears down the published set: bad files are skipped and a loader failure
// keeps the file-backed carriers. Only an unreadable directory is fatal.
func (r *Registry) Reload(ctx context.Context) error {
	start := time.Now()
	stage := make(map[string]*Entry)

	if r.cfg.Dir != "" {
		if err := r.loadDir(ctx, stage); err != nil {
			r.mu.Lock()
			r.reloadsFailed++
			r.mu.Unlock()
			return err
		}
	}

	fromFiles := len(stage)
	storeFailed := false
	if r.cfg.Loader != nil {
		if err := r.loadStore(ctx, stage); err != nil {
			storeFailed = true
			r.logger.LogAttrs(ctx, slog.LevelError, "document store load failed, keeping file-backed carriers",
				slog.String("err", err.Error()))
		}
	}

	r.mu.Lock()
	r.entries = stage
	if storeFailed {
		r.reloadsFailed++
	} else {
		r.reloadsOK++
	}
	r.mu.Unlock()

	r.logger.LogAttrs(ctx, slog.LevelInfo, "carriers reloaded",
		slog.Int("total", len(stage)),
		slog.Int("from_files", fromFiles),
		slog.Int("from_store", len(stage)-fromFiles),
		slog.Duration("took", time.Since(start)))
	return nil
}

func (r *Registry) loadDir(ctx context.Context, stage map[string]*Entry) error {
	dirEntries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return fmt.Errorf("reading carrier directory %s: %w", r.cfg.Dir, err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), fileSuffix) {
			continue
		}
		path := filepath.Join(r.cfg.Dir, de.Name())
		e, err := r.loadFile(path)
		if err != nil {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "skipping carrier file",
				slog.String("path", path),
				slog.String("err", err.Error()))
			continue
		}
		if _, dup := stage[e.ID()]; dup {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "duplicate carrier id, keeping first",
				slog.String("id", e.ID()),
				slog.String("path", path))
			continue
		}
		stage[e.ID()] = e
	}
	return nil
}

func (r *Registry) loadFile(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := carrier.ParseUTSF(data)
	if err != nil {
		return nil, err
	}
	if f.Meta.ID == "" {
		// Hand-dropped files may lack an id; the filename stem is stable
		// across reloads.
		f.Meta.ID = strings.TrimSuffix(filepath.Base(path), fileSuffix)
	}
	return newEntry(f, carrier.SourceUTSF, path, r.cfg.Zones), nil
}

func (r *Registry) loadStore(ctx context.Context, stage map[string]*Entry) error {
	files, err := r.cfg.Loader.CarrierFiles(ctx)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f == nil || f.Meta.ID == "" {
			continue
		}
		// File-backed contracts win over their document-store twins.
		if _, ok := stage[f.Meta.ID]; ok {
			continue
		}
		stage[f.Meta.ID] = newEntry(f, carrier.SourceDB, "", r.cfg.Zones)
	}
	return nil
}

// ReloadOne re-reads a single carrier's file and republishes it. A file that
// disappeared from disk unpublishes the carrier. Carriers merged from the
// document store have no file and return ErrNotFileBacked; refresh those with
// a full Reload.
func (r *Registry) ReloadOne(ctx context.Context, id string) error {
	r.mu.RLock()
	cur, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCarrier, id)
	}
	if cur.path == "" {
		return fmt.Errorf("%w: %s", ErrNotFileBacked, id)
	}

	e, err := r.loadFile(cur.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.mu.Lock()
		delete(r.entries, id)
		r.mu.Unlock()
		r.logger.LogAttrs(ctx, slog.LevelInfo, "carrier file removed, unpublished",
			slog.String("id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("reloading carrier %s: %w", id, err)
	}

	r.mu.Lock()
	if e.ID() != id {
		delete(r.entries, id)
	}
	r.entries[e.ID()] = e
	r.mu.Unlock()
	return nil
}

// Add upserts a carrier contract: normalises it, assigns an id when missing,
// appends an audit record, recomputes coverage stats, writes the file to disk
// and mirrors it into the document store. The compiled entry is published
// only after the file write succeeds.
func (r *Registry) Add(ctx context.Context, f *carrier.File, editorID, reason string) (*Entry, error) {
	f.Normalize()
	if f.Meta.ID == "" && f.Meta.CompanyName == "" {
		return nil, carrier.ErrMissingIdentity
	}
	if f.Meta.ID == "" {
		f.Meta.ID = "UTSF-" + uuid.NewString()
	}
	if f.Version == "" {
		f.Version = carrier.FormatVersion
	}

	// An upsert payload usually arrives without history; carry it over from
	// the published contract so the audit trail survives edits.
	if prev, ok := r.ByID(f.Meta.ID); ok {
		if len(f.Updates) == 0 {
			f.Updates = append([]carrier.UpdateRecord(nil), prev.file.Updates...)
		}
		if f.Meta.UpdateCount == 0 {
			f.Meta.UpdateCount = prev.file.Meta.UpdateCount
		}
		if f.Meta.Created == nil {
			f.Meta.Created = prev.file.Meta.Created
		}
	}

	path := ""
	if r.cfg.Dir != "" {
		path = filepath.Join(r.cfg.Dir, f.Meta.ID+fileSuffix)
	}
	e := newEntry(f, carrier.SourceUTSF, path, r.cfg.Zones)
	stampStats(f, e, r.cfg.Zones)
	f.Meta.UpdateCount++
	appendAudit(f, editorID, reason)

	data, err := carrier.EncodeUTSF(f)
	if err != nil {
		return nil, fmt.Errorf("encoding carrier %s: %w", f.Meta.ID, err)
	}
	if path != "" {
		if err := writeFileAtomic(path, data); err != nil {
			return nil, fmt.Errorf("writing carrier %s: %w", f.Meta.ID, err)
		}
	}
	r.persistDoc(ctx, f)

	r.mu.Lock()
	r.entries[f.Meta.ID] = e
	r.mu.Unlock()
	r.invalidate(ctx)

	r.logger.LogAttrs(ctx, slog.LevelInfo, "carrier saved",
		slog.String("id", f.Meta.ID),
		slog.String("name", f.Meta.CompanyName),
		slog.Int("pincodes", e.CoverageCount()))
	return e, nil
}

// Remove unpublishes a carrier and deletes its file and document-store
// mirror.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.RLock()
	cur, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCarrier, id)
	}

	if cur.path != "" {
		if err := os.Remove(cur.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing carrier file: %w", err)
		}
	}
	if r.cfg.Persister != nil {
		if err := r.cfg.Persister.DeleteCarrierDoc(ctx, id); err != nil {
			r.logger.LogAttrs(ctx, slog.LevelWarn, "carrier document delete failed",
				slog.String("id", id),
				slog.String("err", err.Error()))
		}
	}

	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	r.invalidate(ctx)

	r.logger.LogAttrs(ctx, slog.LevelInfo, "carrier removed", slog.String("id", id))
	return nil
}

// SetVerified flips the verification flag on a carrier and persists the
// change. File-backed carriers go through the full Add path; document-store
// carriers are republished in memory and mirrored. Either way cached quote
// results are flushed, since verification changes which quotes callers trust.
func (r *Registry) SetVerified(ctx context.Context, id string, verified bool, editorID string) (*Entry, error) {
	r.mu.RLock()
	cur, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCarrier, id)
	}

	fc := cloneFile(cur.file)
	fc.Meta.IsVerified = verified
	reason := "verification granted"
	if !verified {
		reason = "verification revoked"
	}

	if cur.source == carrier.SourceUTSF {
		return r.Add(ctx, fc, editorID, reason)
	}

	e := newEntry(fc, cur.source, cur.path, r.cfg.Zones)
	stampStats(fc, e, r.cfg.Zones)
	fc.Meta.UpdateCount++
	appendAudit(fc, editorID, reason)
	r.persistDoc(ctx, fc)

	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
	r.invalidate(ctx)
	return e, nil
}

// All returns every loaded carrier, sorted by name then id.
func (r *Registry) All() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sortEntries(out)
	return out
}

func (r *Registry) ByID(id string) (*Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	return e, ok
}

// ByCustomerID returns the carriers tied up with one customer.
func (r *Registry) ByCustomerID(ownerID string) []*Entry {
	if ownerID == "" {
		return nil
	}
	r.mu.RLock()
	var out []*Entry
	for _, e := range r.entries {
		if e.CustomerID() == ownerID {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()
	sortEntries(out)
	return out
}

// ForPincode returns every carrier serving the pincode, regardless of source.
func (r *Registry) ForPincode(pin geo.Pincode) []*Entry {
	r.mu.RLock()
	var out []*Entry
	for _, e := range r.entries {
		if e.Serviceable(pin) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()
	sortEntries(out)
	return out
}

// ForRoute returns the file-backed carriers eligible to quote a route:
// approved and serviceable at both ends. Document-store carriers are left to
// the per-request route queries, which see fresher data.
func (r *Registry) ForRoute(origin, dest geo.Pincode) []*Entry {
	r.mu.RLock()
	var out []*Entry
	for _, e := range r.entries {
		if e.source != carrier.SourceUTSF || !e.Approved() {
			continue
		}
		if e.Serviceable(origin) && e.Serviceable(dest) {
			out = append(out, e)
		}
	}
	r.mu.RUnlock()
	sortEntries(out)
	return out
}

// IsServiceable reports whether a known carrier serves the pincode.
func (r *Registry) IsServiceable(id string, pin geo.Pincode) bool {
	e, ok := r.ByID(id)
	return ok && e.Serviceable(pin)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// PriceOf quotes a single carrier for a route. Zones come from the master
// catalog with the carrier's per-pincode overrides applied; the destination
// ODA flag comes from the carrier's own ODA index.
func (r *Registry) PriceOf(id string, origin, dest geo.Pincode, weights *pricing.VolumetricWeights, invoiceValue float64) (pricing.Quote, error) {
	e, ok := r.ByID(id)
	if !ok {
		return pricing.Quote{}, fmt.Errorf("%w: %s", ErrUnknownCarrier, id)
	}
	if !e.Serviceable(origin) || !e.Serviceable(dest) {
		return pricing.Quote{}, fmt.Errorf("%w: %s %d->%d", ErrNotServiceable, id, origin, dest)
	}
	originZone, ok := r.cfg.Zones.ZoneOf(origin)
	if !ok {
		return pricing.Quote{}, fmt.Errorf("%w: pincode %d not in zone catalog", ErrNotServiceable, origin)
	}
	destZone, ok := r.cfg.Zones.ZoneOf(dest)
	if !ok {
		return pricing.Quote{}, fmt.Errorf("%w: pincode %d not in zone catalog", ErrNotServiceable, dest)
	}

	return pricing.Calculate(pricing.Input{
		CarrierID:    e.ID(),
		CarrierName:  e.Name(),
		Source:       e.Source(),
		TiedUp:       e.CustomerID() != "",
		OriginZone:   e.RateZone(origin, originZone),
		DestZone:     e.RateZone(dest, destZone),
		IsDestODA:    e.IsODA(dest),
		InvoiceValue: invoiceValue,
		Rate:         e.PriceRate(),
		ZoneRates:    e.ZoneRates(),
		Weights:      weights,
	})
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- carriersDesc
	ch <- reloadsDesc
}

// Collect implements prometheus.Collector.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.RLock()
	bySource := make(map[string]float64, 2)
	for _, e := range r.entries {
		bySource[e.source]++
	}
	ok, failed := r.reloadsOK, r.reloadsFailed
	r.mu.RUnlock()

	for _, source := range []string{carrier.SourceUTSF, carrier.SourceDB} {
		ch <- prometheus.MustNewConstMetric(carriersDesc, prometheus.GaugeValue, bySource[source], source)
	}
	ch <- prometheus.MustNewConstMetric(reloadsDesc, prometheus.CounterValue, ok, "ok")
	ch <- prometheus.MustNewConstMetric(reloadsDesc, prometheus.CounterValue, failed, "error")
}

func (r *Registry) persistDoc(ctx context.Context, f *carrier.File) {
	if r.cfg.Persister == nil {
		return
	}
	if err := r.cfg.Persister.UpsertCarrierDoc(ctx, f); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "carrier document upsert failed",
			slog.String("id", f.Meta.ID),
			slog.String("err", err.Error()))
	}
}

func (r *Registry) invalidate(ctx context.Context) {
	if r.cfg.Invalidator == nil {
		return
	}
	if err := r.cfg.Invalidator.InvalidateQuotes(ctx); err != nil {
		r.logger.LogAttrs(ctx, slog.LevelWarn, "quote cache flush failed",
			slog.String("err", err.Error()))
	}
}

func sortEntries(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Name() != entries[j].Name() {
			return entries[i].Name() < entries[j].Name()
		}
		return entries[i].ID() < entries[j].ID()
	})
}

// cloneFile copies a contract deeply enough that mutating the copy never
// touches maps or rule structs shared with a published entry.
func cloneFile(f *carrier.File) *carrier.File {
	fc := *f
	fc.Updates = append([]carrier.UpdateRecord(nil), f.Updates...)
	if f.ZoneOverrides != nil {
		fc.ZoneOverrides = make(map[geo.Pincode]string, len(f.ZoneOverrides))
		for pin, zone := range f.ZoneOverrides {
			fc.ZoneOverrides[pin] = zone
		}
	}
	if f.Serviceability != nil {
		fc.Serviceability = make(map[string]*carrier.ZoneRules, len(f.Serviceability))
		for zone, rules := range f.Serviceability {
			rc := *rules
			fc.Serviceability[zone] = &rc
		}
	}
	if f.ODA != nil {
		fc.ODA = make(map[string]*carrier.ODARules, len(f.ODA))
		for zone, rules := range f.ODA {
			rc := *rules
			fc.ODA[zone] = &rc
		}
	}
	if f.Stats != nil {
		sc := *f.Stats
		fc.Stats = &sc
	}
	return &fc
}

func appendAudit(f *carrier.File, editorID, reason string) {
	rec := carrier.UpdateRecord{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		EditorID:  editorID,
		Reason:    reason,
	}
	if f.Stats != nil {
		rec.ChangeSummary = fmt.Sprintf("%d zones, %d pincodes", f.Stats.TotalZones, f.Stats.TotalPincodes)
	}
	f.Updates = append(f.Updates, rec)
	if len(f.Updates) > maxAuditEntries {
		f.Updates = append([]carrier.UpdateRecord(nil), f.Updates[len(f.Updates)-maxAuditEntries:]...)
	}
}

// stampStats refreshes the file's summary block from the compiled indexes:
// total coverage, per-zone coverage as a percentage of the master zone, and a
// compliance score measuring how much of the claimed coverage exists in the
// master catalog.
func stampStats(f *carrier.File, e *Entry, zones *geo.ZoneIndex) {
	set := e.served
	if e.strict {
		set = e.explicit
	}
	known := 0
	for pin := range set {
		if zones.Contains(pin) {
			known++
		}
	}
	score := 1.0
	if len(set) > 0 {
		score = round2(float64(known) / float64(len(set)))
	}
	f.Stats = &carrier.Stats{
		TotalPincodes:   len(set),
		TotalZones:      len(f.Serviceability),
		ComplianceScore: score,
	}
	for zone, rules := range f.Serviceability {
		size := len(zones.PincodesInZone(zone))
		if size == 0 {
			rules.CoveragePercent = 0
			continue
		}
		rules.CoveragePercent = round2(100 * float64(e.perZoneServed[zone]) / float64(size))
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
