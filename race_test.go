// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build race

package ffalloc_test

// raceEnabled is true when the race detector is active.
// Jumbo-allocation stress tests are skipped in race mode due to the
// detector's shadow-memory overhead on multi-megabyte mappings.
const raceEnabled = true
