// Copyright 2025 Tom Barlow
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

package runner

import "time"

// maxEmptyPollShift caps the empty-poll backoff exponent so the doubling
// stops at 2^10 milliseconds (~1s) before the poll interval cap applies.
const maxEmptyPollShift = 10

// emptyPollBackoff computes the delay before the next poll after a run of
// empty polls: 1ms doubled per empty poll, capped at the worker's poll
// interval. A zero count means poll immediately.
func emptyPollBackoff(emptyPolls int, pollInterval time.Duration) time.Duration {
	if emptyPolls <= 0 {
		return 0
	}
	shift := emptyPolls
	if shift > maxEmptyPollShift {
		shift = maxEmptyPollShift
	}
	backoff := time.Millisecond << uint(shift)
	if backoff > pollInterval {
		return pollInterval
	}
	return backoff
}

// splitSlots distributes n poll slots across k targets as evenly as
// possible, assigning the remainder to the first targets.
func splitSlots(n, k int) []int {
	if k <= 0 {
		return nil
	}
	counts := make([]int, k)
	base := n / k
	rem := n % k
	for i := range counts {
		counts[i] = base
		if i < rem {
			counts[i]++
		}
	}
	return counts
}
