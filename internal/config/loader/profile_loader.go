package loader

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"riskguard/internal/logger"
	"riskguard/internal/regime"
)

// FileConfig is the on-disk layout of the regime profile store:
//
//	profiles:
//	  trending_bull:
//	    technical: 0.35
//	    fundamental: 0.25
type FileConfig struct {
	Profiles map[string]map[string]float64 `mapstructure:"profiles" yaml:"profiles"`
}

// ProfileSnapshot is a read-only copy of the loaded profiles.
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[regime.Regime]regime.WeightProfile
	// Fallback is true when the store could not be read and built-in
	// defaults are in effect.
	Fallback bool
}

type ChangeListener func(ProfileSnapshot)

// ProfileStore loads regime weight profiles from YAML and follows edits on
// disk. It never fails construction: an unreadable or malformed store falls
// back to the built-in table with a warning.
type ProfileStore struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

func NewProfileStore(path string, watch bool) *ProfileStore {
	s := &ProfileStore{path: strings.TrimSpace(path)}
	if s.path == "" {
		s.useDefaults("no profile store configured")
		return s
	}
	v := viper.New()
	v.SetConfigFile(s.path)
	s.v = v
	if err := v.ReadInConfig(); err != nil {
		s.useDefaults(fmt.Sprintf("read %s: %v", s.path, err))
		return s
	}
	if err := s.reload(); err != nil {
		s.useDefaults(err.Error())
	}
	if watch {
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := s.reload(); err != nil {
				logger.Warnf("[regime] profile reload rejected (%s), keeping previous profiles: %v", evt.Name, err)
				return
			}
			s.notify()
		})
		v.WatchConfig()
	}
	return s
}

func (s *ProfileStore) useDefaults(reason string) {
	logger.Warnf("[regime] using built-in weight profiles: %s", reason)
	s.mu.Lock()
	s.snapshot = ProfileSnapshot{
		Version:  s.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: regime.DefaultProfiles(),
		Fallback: true,
	}
	s.mu.Unlock()
}

// Profile implements regime.ProfileSource.
func (s *ProfileStore) Profile(r regime.Regime) regime.WeightProfile {
	s.mu.RLock()
	p, ok := s.snapshot.Profiles[r]
	s.mu.RUnlock()
	if !ok || len(p) == 0 {
		return regime.FallbackProfile()
	}
	return p.Clone()
}

func (s *ProfileStore) Snapshot() ProfileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSnapshot(s.snapshot)
}

// Subscribe registers fn and immediately delivers the current snapshot.
func (s *ProfileStore) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	snap := cloneSnapshot(s.snapshot)
	s.mu.Unlock()
	go deliver(fn, snap)
}

func (s *ProfileStore) notify() {
	s.mu.RLock()
	snap := cloneSnapshot(s.snapshot)
	listeners := append([]ChangeListener(nil), s.listeners...)
	s.mu.RUnlock()
	for _, fn := range listeners {
		go deliver(fn, snap)
	}
}

func deliver(fn ChangeListener, snap ProfileSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[regime] profile listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (s *ProfileStore) reload() error {
	var fileCfg FileConfig
	if err := s.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse profile store failed: %w", err)
	}
	profiles, err := normalizeProfiles(fileCfg.Profiles)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snapshot = ProfileSnapshot{
		Version:  s.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	s.mu.Unlock()
	logger.Infof("[regime] loaded %d weight profiles from %s", len(profiles), filepath.Base(s.path))
	return nil
}

// normalizeProfiles validates every entry. Regimes missing from the file
// keep their built-in profile.
func normalizeProfiles(raw map[string]map[string]float64) (map[regime.Regime]regime.WeightProfile, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("profile store has no profiles")
	}
	out := regime.DefaultProfiles()
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		r, err := regime.Parse(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			return nil, err
		}
		p, err := checkProfile(name, raw[name])
		if err != nil {
			return nil, err
		}
		out[r] = p
	}
	return out, nil
}

func checkProfile(name string, weights map[string]float64) (regime.WeightProfile, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("profile %s is empty", name)
	}
	p := make(regime.WeightProfile, len(weights))
	for engine, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return nil, fmt.Errorf("profile %s: weight %s=%v must be a non-negative number", name, engine, w)
		}
		p[strings.ToLower(strings.TrimSpace(engine))] = w
	}
	if p.Sum() == 0 {
		return nil, fmt.Errorf("profile %s has zero total weight", name)
	}
	return p, nil
}

// Update replaces the profile of r, persists the store when a path is
// configured and notifies subscribers. A rejected profile leaves the current
// snapshot untouched.
func (s *ProfileStore) Update(r regime.Regime, weights map[string]float64) error {
	p, err := checkProfile(string(r), weights)
	if err != nil {
		return err
	}
	s.mu.Lock()
	next := cloneSnapshot(s.snapshot)
	next.Profiles[r] = p
	next.Version++
	next.LoadedAt = time.Now()
	next.Fallback = false
	s.snapshot = next
	s.mu.Unlock()
	logger.Infof("[regime] profile %s updated (version %d)", r, next.Version)
	if s.path != "" {
		if err := s.Save(); err != nil {
			return fmt.Errorf("persist profile %s: %w", r, err)
		}
	}
	s.notify()
	return nil
}

// Save writes the current profiles to the store path.
func (s *ProfileStore) Save() error {
	if s.path == "" {
		return fmt.Errorf("profile store path not configured")
	}
	snap := s.Snapshot()
	fileCfg := FileConfig{Profiles: make(map[string]map[string]float64, len(snap.Profiles))}
	for r, p := range snap.Profiles {
		fileCfg.Profiles[string(r)] = map[string]float64(p.Clone())
	}
	data, err := yaml.Marshal(fileCfg)
	if err != nil {
		return fmt.Errorf("encode profiles: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write profiles: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := src
	dst.Profiles = make(map[regime.Regime]regime.WeightProfile, len(src.Profiles))
	for r, p := range src.Profiles {
		dst.Profiles[r] = p.Clone()
	}
	return dst
}
