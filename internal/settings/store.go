// Package settings provides an explicit, persisted store for voice
// preferences. Components that need the settings receive the Store by
// reference and call Load/Save at session boundaries; nothing reads
// ambient globals.
package settings

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Setting keys.
const (
	keySelectedVoice = "voice.selected"
	keyCustomVoices  = "voice.custom"
	keySpeechRate    = "voice.rate"
	keyOutputEnabled = "voice.output_enabled"
)

// VoiceSettings are the user's speech preferences.
type VoiceSettings struct {
	SelectedVoice string
	CustomVoices  []string
	SpeechRate    float64 // 1.0 = normal
	OutputEnabled bool
}

// defaults returns the settings used before the user saves anything.
func defaults() VoiceSettings {
	return VoiceSettings{SpeechRate: 1.0, OutputEnabled: true}
}

// KVStore defines the storage operations the settings Store needs.
// Implemented by storage.Store.
type KVStore interface {
	SetSetting(key, value string) error
	GetSetting(key string) (string, error)
	AllSettings() (map[string]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store provides cached access to persisted voice settings.
type Store struct {
	kv    KVStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   *VoiceSettings
	cachedAt time.Time
}

// NewStore creates a Store with a 60-second cache TTL.
func NewStore(kv KVStore) *Store {
	return &Store{kv: kv, clock: realClock{}, ttl: 60 * time.Second}
}

// NewStoreWithClock creates a Store with a custom clock (for testing).
func NewStoreWithClock(kv KVStore, clock Clock, ttl time.Duration) *Store {
	return &Store{kv: kv, clock: clock, ttl: ttl}
}

// Load reads the persisted settings, falling back to defaults for any key
// never saved. Unparseable stored values also fall back rather than error.
func (s *Store) Load() (VoiceSettings, error) {
	s.mu.RLock()
	if s.cached != nil && s.clock.Now().Before(s.cachedAt.Add(s.ttl)) {
		v := *s.cached
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && s.clock.Now().Before(s.cachedAt.Add(s.ttl)) {
		return *s.cached, nil
	}

	keys, err := s.kv.AllSettings()
	if err != nil {
		return VoiceSettings{}, fmt.Errorf("loading settings: %w", err)
	}

	v := build(keys)
	s.cached = &v
	s.cachedAt = s.clock.Now()
	return v, nil
}

// Save persists all fields and invalidates the cache.
func (s *Store) Save(v VoiceSettings) error {
	custom, err := json.Marshal(v.CustomVoices)
	if err != nil {
		return fmt.Errorf("marshalling custom voices: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := map[string]string{
		keySelectedVoice: v.SelectedVoice,
		keyCustomVoices:  string(custom),
		keySpeechRate:    strconv.FormatFloat(v.SpeechRate, 'f', -1, 64),
		keyOutputEnabled: strconv.FormatBool(v.OutputEnabled),
	}
	for key, value := range pairs {
		if err := s.kv.SetSetting(key, value); err != nil {
			return fmt.Errorf("saving setting %q: %w", key, err)
		}
	}

	s.cached = nil
	return nil
}

func build(keys map[string]string) VoiceSettings {
	v := defaults()

	if voice, ok := keys[keySelectedVoice]; ok {
		v.SelectedVoice = voice
	}
	if raw, ok := keys[keyCustomVoices]; ok && raw != "" {
		var voices []string
		if err := json.Unmarshal([]byte(raw), &voices); err == nil {
			v.CustomVoices = voices
		}
	}
	if raw, ok := keys[keySpeechRate]; ok {
		if rate, err := strconv.ParseFloat(raw, 64); err == nil && rate > 0 {
			v.SpeechRate = rate
		}
	}
	if raw, ok := keys[keyOutputEnabled]; ok {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			v.OutputEnabled = enabled
		}
	}
	return v
}
