// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sentry

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"
)

const (
	// debounceWindow is the minimum time between two reports with the same title and level
	debounceWindow = 2 * time.Hour
	cullInterval   = 10 * time.Minute
)

var (
	debounceMu     sync.Mutex
	shouldDebounce = true
	lastSent       = newSentMap()
)

func newSentMap() *expiremap.ExpireMap[string, time.Time] {
	return expiremap.NewEx[string, time.Time](cullInterval, debounceWindow)
}

func setDebounce(enabled bool) {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	shouldDebounce = enabled
}

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	shouldDebounce = false
	lastSent = newSentMap()
}

// DisableTestMode restores normal debouncing behavior.
func DisableTestMode() {
	setDebounce(true)
}

// allowSend records the report and tells whether it is outside the debounce window.
func allowSend(level sentry.Level, err error, now time.Time) bool {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	key := string(level) + "|" + getMeaningfulErrorTitle(err)

	if shouldDebounce {
		if last, ok := lastSent.Load(key); ok && now.Sub(*last) < debounceWindow {
			return false
		}
	}

	lastSent.Set(key, now)

	return true
}

// reportFatal logs the error, sends it and flushes the client so the event
// survives the os.Exit that usually follows.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Errorw("fleetguard encountered a fatal error and will terminate", "error", err)

	sendSentryEvent(createSentryEventWithContext(sentry.LevelFatal, err, context))
	sentry.Flush(5 * time.Second)
}

// reportError always logs, but only sends to Sentry outside the debounce window.
func reportError(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Error(err)

	if !allowSend(sentry.LevelError, err, time.Now()) {
		return
	}

	sendSentryEvent(createSentryEventWithContext(sentry.LevelError, err, context))
}

func reportWarning(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Warn(err)

	if !allowSend(sentry.LevelWarning, err, time.Now()) {
		return
	}

	sendSentryEvent(createSentryEventWithContext(sentry.LevelWarning, err, context))
}
